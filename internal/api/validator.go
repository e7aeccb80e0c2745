package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (rv *requestValidator) Validate(req any) map[string]string {
	err := rv.validate.Struct(req)
	if err == nil {
		return nil
	}

	fields := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		fields["_"] = err.Error()
		return fields
	}

	for _, e := range validationErrors {
		field := e.Namespace()
		if dot := strings.Index(field, "."); dot >= 0 {
			field = field[dot+1:]
		}
		switch e.Tag() {
		case "required":
			fields[field] = e.Field() + " is required"
		case "uuid":
			fields[field] = e.Field() + " must be a valid UUID"
		case "datetime":
			fields[field] = e.Field() + " must be a date in " + e.Param() + " format"
		case "url":
			fields[field] = e.Field() + " must be a valid URL"
		case "max":
			fields[field] = e.Field() + " must be at most " + e.Param() + " characters"
		case "gte":
			fields[field] = e.Field() + " must be greater than or equal to " + e.Param()
		case "lte":
			fields[field] = e.Field() + " must be less than or equal to " + e.Param()
		default:
			fields[field] = e.Field() + " is invalid"
		}
	}
	return fields
}
