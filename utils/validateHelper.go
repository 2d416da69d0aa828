package utils

import (
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct runs `validate` struct tags and flattens failures into a single error.
func ValidateStruct(input any) error {
	if err := getValidator().Struct(input); err != nil {
		return errors.New("invalid input: " + FormatValidationErrors(err))
	}
	return nil
}
