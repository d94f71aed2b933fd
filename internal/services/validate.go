package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hmsportal/hms/internal/db/models"
)

var validate = newValidator()

type enum interface {
	Valid() bool
}

// enumChoices spells out the accepted values of the larger enums in
// validation messages.
var enumChoices = map[reflect.Type]string{
	reflect.TypeOf(models.KindOther):           joinChoices(models.DocumentKinds),
	reflect.TypeOf(models.CategoryOperational): joinChoices(models.RiskCategories),
}

func joinChoices[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	// enum accepts any value whose Valid method approves it
	_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		e, ok := fl.Field().Interface().(enum)
		return ok && e.Valid()
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validateInput runs struct tags and converts failures into a
// ValidationError keyed by JSON field name.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	ve := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		ve.Fields[fieldPath(fe)] = messageFor(fe)
	}
	return ve
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "enum":
		t := fe.Type()
		if t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if choices, ok := enumChoices[t]; ok {
			return "must be one of " + choices
		}
		return "is not a recognised value"
	case "uuid", "uuid4":
		return "must be a valid id"
	default:
		return "is invalid"
	}
}

func mergeValidation(dst *ValidationError, field, msg string) *ValidationError {
	if dst == nil {
		dst = &ValidationError{Fields: map[string]string{}}
	}
	dst.Fields[field] = msg
	return dst
}
