package content

import (
	"fmt"
	"strings"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string
	Message string
	Code    string
}

// ValidationErrors is returned by Validate. It matches notification.ErrValidation
// with errors.Is.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(ve))
	for _, e := range ve {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (ve ValidationErrors) Unwrap() error { return notification.ErrValidation }

// Has reports whether any error was recorded for field.
func (ve ValidationErrors) Has(field string) bool {
	for _, e := range ve {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Codes lists the error codes in order, handy for assertions and metrics.
func (ve ValidationErrors) Codes() []string {
	out := make([]string, len(ve))
	for i, e := range ve {
		out[i] = e.Code
	}
	return out
}

// Error codes.
const (
	CodeRequired  = "required"
	CodeEmail     = "invalid_email"
	CodePhone     = "invalid_phone"
	CodeTooLong   = "too_long"
	CodeInjection = "injection"
	CodeChannel   = "invalid_channel"
)
