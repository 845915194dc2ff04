package common

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			return name
		})
	})
	return validate
}

// Validate runs struct tag validation on v.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}

// FieldErrors flattens validator errors to field -> reason.
func FieldErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		if field == "" {
			field = fe.StructField()
		}
		switch fe.Tag() {
		case "required":
			out[field] = "is required"
		case "email":
			out[field] = "must be a valid email"
		case "min":
			out[field] = "must be at least " + fe.Param()
		case "max":
			out[field] = "must be at most " + fe.Param()
		case "oneof":
			out[field] = "must be one of " + fe.Param()
		default:
			out[field] = "is invalid"
		}
	}
	return out
}
