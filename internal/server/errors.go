package server

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"github.com/smallbiznis/billingsync/pkg/validation"
)

type errorPayload struct {
	Type    string                  `json:"type"`
	Message string                  `json:"message"`
	Errors  []validation.FieldError `json:"errors,omitempty"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Error   errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = ierr.NewError("route_not_found").Mark(ierr.ErrNotFound)
)

const (
	typeUnauthorized = "unauthorized"
	typeForbidden    = "forbidden"
	typeInternal     = "internal_error"
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return validation.Field("request", "invalid_request", "invalid request body")
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{Type: typeInternal, Message: "internal server error"}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: typeUnauthorized, Message: "unauthorized"}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: typeForbidden, Message: "forbidden"}
	}

	if fields, ok := validation.FieldErrors(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    ierr.CodeValidation,
			Message: "validation error",
			Errors:  fields,
		}
	}

	code := ierr.Code(err)
	status := ierr.HTTPStatus(err)
	if code == ierr.CodeInternal {
		return status, errorPayload{Type: typeInternal, Message: "internal server error"}
	}

	message := ierr.Hint(err)
	if message == "" {
		message = errors.UnwrapAll(err).Error()
	}
	payload := errorPayload{Type: code, Message: message}
	if code == ierr.CodeValidation {
		payload.Errors = []validation.FieldError{{
			Field:   "request",
			Code:    errors.UnwrapAll(err).Error(),
			Message: message,
		}}
	}
	return status, payload
}

// classifyErrorForLog feeds the request logger.
func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, ErrUnauthorized):
		return typeUnauthorized, typeUnauthorized
	case errors.Is(err, ErrForbidden):
		return typeForbidden, typeForbidden
	}
	code := ierr.Code(err)
	if code == ierr.CodeInternal {
		return typeInternal, typeInternal
	}
	return code, errors.UnwrapAll(err).Error()
}
