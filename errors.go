package repoctx

import (
	"errors"
	"strings"
)

var (
	ErrInvalidConfig      = errors.New("repository: invalid configuration")
	ErrInvalidArgument    = errors.New("repository: invalid argument")
	ErrInvalidQuery       = errors.New("repository: invalid query")
	ErrMissingFilterName  = errors.New("Missing filter name")
	ErrMissingFilterValue = errors.New("Missing filter value")
	ErrNotImplemented     = errors.New("not implemented")
	ErrNotFound           = errors.New("repository: entity not found")
	ErrContextDetached    = errors.New("repository: context was removed")
	ErrUnknownBehavior    = errors.New("repository: unknown behavior")
	ErrClosed             = errors.New("repository: closed")
	ErrProviderPanic      = errors.New("repository: provider panicked")
)

// ProviderError is the {errors: [...]} rejection shape some providers use.
// Repositories pass it through unmodified.
type ProviderError struct {
	Status int      `json:"status,omitempty"`
	Errors []string `json:"errors"`
}

func (e *ProviderError) Error() string {
	if len(e.Errors) == 0 {
		return "provider error"
	}
	return "provider error: " + strings.Join(e.Errors, "; ")
}
