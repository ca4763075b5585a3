// Package validate wraps go-playground/validator with the conventions shared by request types.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"
)

// Validator checks tagged request structs and reports failures as httpx.ValidationError.
type Validator struct {
	v *validator.Validate
}

// New constructs a Validator. Decimal fields are compared as numbers and field names follow json tags.
// The "cents" tag rejects decimals with more than two fractional digits.
func New() *Validator {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("cents", cents)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{v: v}
}

// Struct validates s. The returned error is nil or a *httpx.ValidationError.
func (val *Validator) Struct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}
	out := &httpx.ValidationError{}
	for _, fe := range fieldErrs {
		out.Add(fe.Field(), message(fe))
	}
	return out
}

// cents reads the field from its parent because the custom type func hands tags a float64.
func cents(fl validator.FieldLevel) bool {
	parent := fl.Parent()
	for parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	if parent.Kind() != reflect.Struct {
		return false
	}
	raw := parent.FieldByName(fl.StructFieldName())
	for raw.Kind() == reflect.Ptr {
		if raw.IsNil() {
			return true
		}
		raw = raw.Elem()
	}
	d, ok := raw.Interface().(decimal.Decimal)
	if !ok {
		return false
	}
	return d.Equal(d.Truncate(2))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "excluded_with":
		return "cannot be combined with " + strings.ToLower(fe.Param())
	case "cents":
		return "must have at most 2 decimal places"
	case "required_without":
		return "is required when " + strings.ToLower(fe.Param()) + " is absent"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
