package model

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"openfms/console/internal/apperr"
)

var validate = newValidator()

// fieldMessages overrides the default "<Field> is required" text, keyed by JSON name.
var fieldMessages = map[string]string{
	"category": "Please select category",
	"userId":   "Please select a user",
	"deviceId": "Please select a device",
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the struct tags of a form payload and returns the first failure
// as a validation error carrying a user-facing message.
func Validate(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.New(apperr.KindValidation, "INVALID_INPUT", "Invalid input", err)
	}
	fe := fieldErrs[0]
	return apperr.New(apperr.KindValidation, "INVALID_"+strings.ToUpper(fe.Field()), fieldMessage(fe.Field()), err)
}

func fieldMessage(field string) string {
	if msg, ok := fieldMessages[field]; ok {
		return msg
	}
	if field == "" {
		return "Invalid input"
	}
	return strings.ToUpper(field[:1]) + field[1:] + " is required"
}
