package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// ErrTranslatorNotFound indicates the English translator is unavailable
var ErrTranslatorNotFound = errors.New("translator not found")

// ValidationError maps a JSON field path such as items[0].quantity to a
// human readable message
type ValidationError map[string]string

func (vs ValidationError) Error() string {
	if len(vs) == 0 {
		return "validation error"
	}

	b, err := json.Marshal(vs)
	if err != nil {
		return fmt.Sprintf("validation error (failed to marshal: %v)", err)
	}
	return string(b)
}

// fieldMessages overrides the generic translation for a field and tag
var fieldMessages = map[string]string{
	"customerId.required":    "Customer ID should not be empty",
	"customerEmail.required": "Customer email should not be empty",
	"customerEmail.email":    "Please provide a valid customer email",
	"totalAmount.required":   "Total amount must be provided",
	"totalAmount.gte":        "Total amount cannot be negative",
	"items.required":         "Order must contain at least one item",
	"items.min":              "Order must contain at least one item",
}

// Validator checks request bodies with go-playground/validator and reports
// English messages keyed by JSON field path
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator constructs a Validator with English translations
func NewValidator() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	enTrans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}

	if err := enTranslations.RegisterDefaultTranslations(validate, enTrans); err != nil {
		return nil, err
	}

	return &Validator{
		validate:   validate,
		translator: enTrans,
	}, nil
}

// Validate validates a struct and returns a ValidationError on failure
func (v *Validator) Validate(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return err
	}

	out := make(ValidationError, len(validateErrs))
	for _, fe := range validateErrs {
		path := fieldPath(fe.Namespace())
		if msg, ok := fieldMessages[path+"."+fe.Tag()]; ok {
			out[path] = msg
			continue
		}
		out[path] = fe.Translate(v.translator)
	}
	return out
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
