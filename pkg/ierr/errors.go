package ierr

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error categories. Domain sentinels are marked with one of these so callers
// can branch on the category without knowing the concrete sentinel.
var (
	ErrValidation        = newCategory(CodeValidation, "validation error")
	ErrNotFound          = newCategory(CodeNotFound, "resource not found")
	ErrInvalidConversion = newCategory(CodeInvalidConversion, "invalid conversion")
	ErrDocumentLocked    = newCategory(CodeDocumentLocked, "document locked")
	ErrInvalidTransition = newCategory(CodeInvalidTransition, "invalid status transition")
	ErrDuplicateNumber   = newCategory(CodeDuplicateNumber, "duplicate document number")
	ErrProvider          = newCategory(CodeProvider, "payment provider error")
	ErrInconsistentState = newCategory(CodeInconsistentState, "inconsistent state")
)

const (
	CodeValidation        = "validation_error"
	CodeNotFound          = "not_found"
	CodeInvalidConversion = "invalid_conversion"
	CodeDocumentLocked    = "document_locked"
	CodeInvalidTransition = "invalid_transition"
	CodeDuplicateNumber   = "duplicate_number"
	CodeProvider          = "provider_error"
	CodeInconsistentState = "inconsistent_state"
	CodeInternal          = "internal_error"
)

var categories = []struct {
	err    error
	code   string
	status int
}{
	{ErrValidation, CodeValidation, http.StatusBadRequest},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrInvalidConversion, CodeInvalidConversion, http.StatusUnprocessableEntity},
	{ErrDocumentLocked, CodeDocumentLocked, http.StatusConflict},
	{ErrInvalidTransition, CodeInvalidTransition, http.StatusConflict},
	{ErrDuplicateNumber, CodeDuplicateNumber, http.StatusConflict},
	{ErrProvider, CodeProvider, http.StatusBadGateway},
	{ErrInconsistentState, CodeInconsistentState, http.StatusInternalServerError},
}

func newCategory(code, message string) error {
	return errors.Newf("%s: %s", code, message)
}

// Code returns the machine readable category of err, or CodeInternal.
func Code(err error) string {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps the category of err to a status code.
func HTTPStatus(err error) int {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// Hint returns the user-facing hints attached to err joined by "; ".
func Hint(err error) string {
	hints := errors.GetAllHints(err)
	if len(hints) == 0 {
		return ""
	}
	out := hints[0]
	for _, h := range hints[1:] {
		out += "; " + h
	}
	return out
}

func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsInvalidConversion(err error) bool { return errors.Is(err, ErrInvalidConversion) }
func IsDocumentLocked(err error) bool    { return errors.Is(err, ErrDocumentLocked) }
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsDuplicateNumber(err error) bool   { return errors.Is(err, ErrDuplicateNumber) }
func IsProvider(err error) bool          { return errors.Is(err, ErrProvider) }
func IsInconsistentState(err error) bool { return errors.Is(err, ErrInconsistentState) }
