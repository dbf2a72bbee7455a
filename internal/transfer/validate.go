package transfer

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/videoblade/videoblade-api/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a request against its struct tags and reports the first
// violation as a validation error.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return apperr.Internal("validate request", err)
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation(err.Error())
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validationf("field '%s' is required", fe.Field())
	case "oneof":
		return apperr.Validationf("field '%s' must be one of: %s", fe.Field(), fe.Param())
	case "min":
		return apperr.Validationf("field '%s' must have at least %s items", fe.Field(), fe.Param())
	case "max":
		return apperr.Validationf("field '%s' must be at most %s long", fe.Field(), fe.Param())
	default:
		return apperr.Validationf("field '%s' failed validation on '%s'", fe.Field(), fe.Tag())
	}
}
