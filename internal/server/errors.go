package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/insightzen/internal/authorization"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
	"github.com/smallbiznis/insightzen/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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
		c.Header("Content-Type", "application/json")
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
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(err, code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, quotadomain.ErrSchemeReadOnly):
		return http.StatusConflict, errorPayload{
			Type:    "scheme_read_only",
			Message: "scheme is not editable",
		}
	case errors.Is(err, quotadomain.ErrInvalidStatusTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_status_transition",
			Message: "status transition not allowed",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, quotadomain.ErrDuplicateCode):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, dialerdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, dialerdomain.ErrNoEligibleCellOrSample):
		return http.StatusNotFound, errorPayload{
			Type:    "no_eligible_cell_or_sample",
			Message: "no eligible cell or sample",
		}
	case errors.Is(err, quotadomain.ErrSchemeNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "scheme_not_found",
			Message: "scheme not found",
		}
	case errors.Is(err, dialerdomain.ErrAssignmentNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "assignment_not_found",
			Message: "assignment not found",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	errorType := "client"
	if status >= http.StatusInternalServerError {
		errorType = "server"
	}
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return errorType, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	pagination.ErrInvalidPageToken,
	authorization.ErrInvalidActor,
	authorization.ErrInvalidProject,
	membershipdomain.ErrInvalidProject,
	membershipdomain.ErrInvalidUser,
	membershipdomain.ErrInvalidRole,
	quotadomain.ErrInvalidProject,
	quotadomain.ErrInvalidScheme,
	quotadomain.ErrInvalidName,
	quotadomain.ErrInvalidCode,
	quotadomain.ErrInvalidOverflowPolicy,
	quotadomain.ErrInvalidCell,
	quotadomain.ErrInvalidSelector,
	quotadomain.ErrDuplicateSelector,
	sampledomain.ErrInvalidProject,
	sampledomain.ErrInvalidID,
	sampledomain.ErrInvalidPhone,
	sampledomain.ErrInvalidExtra,
	sampledomain.ErrEmptyImport,
	dialerdomain.ErrInvalidProject,
	dialerdomain.ErrInvalidActor,
	dialerdomain.ErrInvalidID,
	dialerdomain.ErrInvalidOutcome,
	dialerdomain.ErrInvalidStatus,
}

// validationErrorCode returns the sentinel code when err is a client input
// error from any domain.
func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, membershipdomain.ErrNotFound),
		errors.Is(err, sampledomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_page_token":
		return "page_token"
	case "invalid_cell", "duplicate_selector":
		return "cells"
	case "empty_import":
		return "contacts"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// validationErrorMessage keeps wrapped context such as "cells[2]: invalid_selector".
func validationErrorMessage(err error, code string) string {
	if msg := err.Error(); msg != code {
		return msg
	}
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
