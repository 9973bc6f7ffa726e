package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidReference = errors.New("invalid attachment reference")
	ErrStoreFailure     = errors.New("store failure")
	ErrMissingParameter = errors.New("missing parameter")
	ErrNotIdentified    = errors.New("session has no identity")
	ErrSessionClosed    = errors.New("session closed")
)

var validate = validator.New()

// Code gives the short machine-readable name sent in socket error events.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	case errors.Is(err, ErrNotIdentified):
		return "not_identified"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	default:
		return "internal"
	}
}

// Validate checks the struct tags of v and folds any failure into ErrValidation.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		if fe.Tag() == "required_without" {
			return "text or attachment is required"
		}
		return strings.ToLower(fe.Field()) + " is " + fe.Tag()
	})
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(lo.Uniq(fields), ", "))
}
