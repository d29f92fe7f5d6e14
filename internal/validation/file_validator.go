package validation

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "polyetl/internal/errors"
)

// writeCheckPattern names the temporary file used to test writability. The
// random suffix keeps it from colliding with anything already in the dir.
const writeCheckPattern = ".polyetl-writecheck-*"

// FileValidator prepares and checks the output locations of a run. Every
// failure is a STORAGE AppError carrying the offending path.
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger,
	}
}

// PrepareOutputDirectory creates dir if needed and proves it is writable by
// creating and removing a temporary file in it.
func (v *FileValidator) PrepareOutputDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err == nil && !info.IsDir() {
		return v.fail("output path is not a directory", dir, nil)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return v.fail("failed to create output directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, writeCheckPattern)
	if err != nil {
		return v.fail("output directory is not writable", dir, err)
	}
	name := tmp.Name()
	closeErr := tmp.Close()
	if err := os.Remove(name); err != nil {
		return v.fail("failed to remove write check file", name, err)
	}
	if closeErr != nil {
		return v.fail("output directory is not writable", dir, closeErr)
	}

	v.logger.Debug("output directory ready", slog.String("directory", dir))
	return nil
}

// ValidateCSVFile checks that path is a non-empty regular .csv file. A
// processed file always carries at least its header line.
func (v *FileValidator) ValidateCSVFile(path string) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" {
		return v.fail("file is not a CSV file", path, nil).WithContext("extension", ext)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return v.fail("file does not exist", path, nil)
	}
	if err != nil {
		return v.fail("failed to stat file", path, err)
	}
	if !info.Mode().IsRegular() {
		return v.fail("file is not a regular file", path, nil)
	}
	if info.Size() == 0 {
		return v.fail("file is empty", path, nil)
	}

	v.logger.Debug("file validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}

func (v *FileValidator) fail(msg, path string, cause error) *apperrors.AppError {
	attrs := []any{slog.String("path", path)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	v.logger.Error(msg, attrs...)
	return apperrors.NewStorageError(msg, cause).WithContext("path", path)
}
