// Package validation wraps go-playground/validator and turns its failures
// into validation-category errors that carry a per-field breakdown.
package validation

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingsync/pkg/ierr"
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Errors is the list of field failures of one request.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Code)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

var (
	once     sync.Once
	validate *validator.Validate

	taxIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-/ ]{3,29}$`)
)

// Validator returns the shared validator with the custom tags registered.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("taxid", func(fl validator.FieldLevel) bool {
			return IsTaxID(fl.Field().String())
		})
		validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	})
	return validate
}

// IsTaxID accepts the common shapes of national business identifiers
// (VAT numbers, SIREN/SIRET, EIN) without checking country checksums.
func IsTaxID(v string) bool {
	return taxIDPattern.MatchString(strings.TrimSpace(v))
}

// Struct validates v and returns nil or an error marked ierr.ErrValidation
// whose cause is Errors.
func Struct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fieldPath(fe),
			Code:    fe.Tag(),
			Message: message(fe),
		})
	}
	return Fail(out...)
}

// Fail builds a validation error from explicit field failures.
func Fail(fields ...FieldError) error {
	return errors.Mark(Errors(fields), ierr.ErrValidation)
}

// Field is shorthand for a single failing field.
func Field(field, code, msg string) error {
	return Fail(FieldError{Field: field, Code: code, Message: msg})
}

// FieldErrors extracts the field list of a validation error, if any.
func FieldErrors(err error) (Errors, bool) {
	var out Errors
	if errors.As(err, &out) {
		return out, true
	}
	return nil, false
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "taxid":
		return "is not a valid tax identifier"
	case "email":
		return "is not a valid email address"
	case "iso4217":
		return "is not a valid ISO 4217 currency code"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "is invalid"
	}
}
