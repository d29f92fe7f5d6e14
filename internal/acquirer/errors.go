package acquirer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/polygon-io/client-go/rest/models"

	apperrors "polyetl/internal/errors"
)

// classify maps an SDK or transport failure onto the application error types
func classify(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var vendorErr *models.ErrorResponse
	if errors.As(err, &vendorErr) {
		msg := fmt.Sprintf("vendor returned status %d", vendorErr.StatusCode)
		switch vendorErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperrors.NewAuthError("vendor rejected credentials", err).
				WithContext("status", vendorErr.StatusCode)
		case http.StatusTooManyRequests:
			return apperrors.NewRateLimitError("vendor rate limit exceeded", err).
				WithContext("status", vendorErr.StatusCode)
		default:
			return apperrors.NewVendorError(msg, err).
				WithContext("status", vendorErr.StatusCode)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewNetworkError("vendor request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.NewNetworkError("vendor request canceled", err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return apperrors.NewVendorError("malformed vendor payload", err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return apperrors.NewNetworkError("vendor unreachable", err)
	}

	return apperrors.NewVendorError("unexpected vendor failure", err)
}
