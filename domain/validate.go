package domain

import (
	"fmt"
	"reflect"

	"hire-chat/errors"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("threadid", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return false
		}
		return ValidThreadID(fl.Field().String())
	})
	return v
}

// Validate checks struct tags and wraps any failure as a validation error.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrValidation, err.Error())
	}
	return nil
}
