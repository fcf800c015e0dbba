package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/agora-labs/agora/internal/apperror"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Detail string            `json:"detail,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

var errorKinds = []struct {
	kind   error
	status int
	reason string
}{
	{kind: apperror.ErrNotFound, status: http.StatusNotFound, reason: "not_found"},
	{kind: apperror.ErrValidation, status: http.StatusUnprocessableEntity, reason: "validation_failed"},
	{kind: apperror.ErrConflict, status: http.StatusConflict, reason: "conflict"},
	{kind: apperror.ErrNoFieldsToUpdate, status: http.StatusBadRequest, reason: "no_fields_to_update"},
	{kind: apperror.ErrMissingCredential, status: http.StatusUnauthorized, reason: "missing_api_key"},
	{kind: apperror.ErrInvalidCredential, status: http.StatusForbidden, reason: "invalid_api_key"},
	{kind: apperror.ErrInsufficientRole, status: http.StatusForbidden, reason: "insufficient_role"},
	{kind: apperror.ErrRateLimited, status: http.StatusTooManyRequests, reason: "rate_limit_exceeded"},
}

func writeError(c *gin.Context, status int, reason, code, detail string) {
	c.AbortWithStatusJSON(status, errorBody{Error: reason, Code: code, Detail: detail})
}

// writeServiceError maps a service error to its status. Persistence and
// unclassified failures are logged and answered without internal detail.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	code := apperror.CodeOf(err)
	for _, entry := range errorKinds {
		if errors.Is(err, entry.kind) {
			writeError(c, entry.status, entry.reason, code, apperror.Detail(err))
			return
		}
	}

	h.logger.Error("request failed",
		zap.String("code", code),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err),
	)
	writeError(c, http.StatusInternalServerError, "internal_error", code, "internal server error")
}

// writeBindingError answers 422 for malformed or invalid payloads and query strings.
func writeBindingError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{
			Error:  "invalid_request",
			Detail: err.Error(),
		})
		return
	}

	fields := make(map[string]string, len(validationErrors))
	names := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		fields[fieldError.Field()] = describeFieldError(fieldError)
		names = append(names, fieldError.Field())
	}
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{
		Error:  "validation_failed",
		Detail: "invalid fields: " + strings.Join(names, ", "),
		Fields: fields,
	})
}

func describeFieldError(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fieldError.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fieldError.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fieldError.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fieldError.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fieldError.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fieldError.Param())
	default:
		return fmt.Sprintf("failed %s validation", fieldError.Tag())
	}
}
