// Package validation turns go-playground/validator failures into per-field
// messages that handlers return as 422 responses.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Errors maps a field name to a human readable message.
type Errors struct {
	Fields map[string]string `json:"errors"`
}

func (e *Errors) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Field builds a single-field validation error.
func Field(name, message string) *Errors {
	return &Errors{Fields: map[string]string{name: message}}
}

// As extracts *Errors from err.
func As(err error) (*Errors, bool) {
	var verr *Errors
	ok := errors.As(err, &verr)
	return verr, ok
}

var messages = map[string]string{
	"required": "is required",
	"notblank": "must not be blank",
	"min":      "must have at least %s item(s)",
	"max":      "must be at most %s characters",
	"oneof":    "must be one of: %s",
	"unique":   "must not contain duplicates",
	"datetime": "must be formatted as %s",
}

// Struct validates s against its `validate` tags.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &Errors{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			param := fe.Param()
			if fe.Tag() == "oneof" {
				param = strings.Join(strings.Fields(param), ", ")
			}
			msg = fmt.Sprintf(msg, param)
		}
		field := fieldPath(fe.Namespace())
		if _, exists := out.Fields[field]; !exists {
			out.Fields[field] = msg
		}
	}
	return out
}

// fieldPath drops the root struct name: "RejectInput.remarks" -> "remarks".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
