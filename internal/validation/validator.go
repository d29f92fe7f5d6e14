package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// tickerPattern accepts plain symbols plus share-class dots and prefixed
// symbols such as "X:BTCUSD"
var tickerPattern = regexp.MustCompile(`^[A-Z0-9.:\-]{1,16}$`)

// Validator validates tagged structs and renders readable messages
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with the custom rules registered
func New() *Validator {
	v := validator.New()

	v.RegisterValidation("ticker", isValidTicker)

	// Use yaml tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"yaml", "json"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	return &Validator{validate: v}
}

// Struct validates s and joins every field failure into one error
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, FormatFieldError(fe))
	}
	return errors.New(strings.Join(messages, "; "))
}

// IsTicker reports whether s is a well-formed ticker symbol
func IsTicker(s string) bool {
	return tickerPattern.MatchString(s)
}

// FormatFieldError formats validation error messages
func FormatFieldError(err validator.FieldError) string {
	field := err.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	tag := err.Tag()
	param := err.Param()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Replace(param, " ", ", ", -1))
	case "datetime":
		return fmt.Sprintf("%s must be a date in %s format", field, param)
	case "ticker":
		return fmt.Sprintf("%s must be a valid ticker symbol", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}

// isValidTicker validates ticker symbol format
func isValidTicker(fl validator.FieldLevel) bool {
	return IsTicker(fl.Field().String())
}
