package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/stwalsh4118/verrify/internal/apperr"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/middleware"
)

// Error code constants for responses that do not come from a domain error.
const (
	ErrNotFound       = "NOT_FOUND"
	ErrBadRequest     = "BAD_REQUEST"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
	ErrValidation     = "VALIDATION_ERROR"
)

// ErrorResponse is the top-level error response structure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// write aborts c with the envelope. logf, when non-nil, receives the
// request logger and the base fields every error line carries.
func write(c *gin.Context, status int, detail ErrorDetail, logf func(*logger.Logger, logger.Fields)) {
	detail.RequestID = middleware.GetRequestID(c)
	if log := middleware.GetLogger(c); log != nil && logf != nil {
		logf(log, logger.Fields{
			"code":   detail.Code,
			"status": status,
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: detail})
}

func warn(msg string) func(*logger.Logger, logger.Fields) {
	return func(log *logger.Logger, f logger.Fields) { log.Warn(msg, f) }
}

// FromError renders err. Classified domain errors keep their code, message
// and details; anything else becomes a generic 500 and is logged.
func FromError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		ValidationError(c, verrs)
		return
	}

	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind == apperr.KindUnknown {
		InternalServerError(c, "An unexpected error occurred", err)
		return
	}

	logf := warn(appErr.Message)
	if appErr.Kind == apperr.KindExternalService {
		logf = func(log *logger.Logger, f logger.Fields) { log.Error("Upstream service failed", err, f) }
	}
	write(c, StatusFor(appErr.Kind), ErrorDetail{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}, logf)
}

// NotFound answers requests for routes that do not exist.
func NotFound(c *gin.Context) {
	write(c, http.StatusNotFound, ErrorDetail{
		Code:    ErrNotFound,
		Message: "No route matches " + c.Request.Method + " " + c.Request.URL.Path,
	}, nil)
}

// BadRequest returns a 400 with optional details.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	write(c, http.StatusBadRequest, ErrorDetail{
		Code:    ErrBadRequest,
		Message: message,
		Details: details,
	}, warn(message))
}

// Unauthorized returns a 401 for a missing or unusable credential.
func Unauthorized(c *gin.Context, message string) {
	write(c, http.StatusUnauthorized, ErrorDetail{Code: ErrUnauthorized, Message: message}, warn(message))
}

// InternalServerError logs err and returns a 500 that does not expose it.
func InternalServerError(c *gin.Context, message string, err error) {
	write(c, http.StatusInternalServerError, ErrorDetail{Code: ErrInternalServer, Message: message},
		func(log *logger.Logger, f logger.Fields) { log.Error("Internal server error", err, f) })
}

// ValidationError returns a 400 with one message per failing field.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{}, len(validationErrors))
	for _, fe := range validationErrors {
		details[fe.Field()] = formatValidationError(fe)
	}
	write(c, http.StatusBadRequest, ErrorDetail{
		Code:    ErrValidation,
		Message: "Validation failed for one or more fields",
		Details: details,
	}, func(log *logger.Logger, f logger.Fields) {
		f["fields"] = details
		log.Warn("Validation error", f)
	})
}

// BindError renders a failure from gin's ShouldBind* helpers: field errors
// keep their per-field detail, malformed bodies become a plain 400.
func BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		ValidationError(c, verrs)
		return
	}
	BadRequest(c, "Request body is malformed", map[string]interface{}{"reason": err.Error()})
}

var fieldMessages = map[string]string{
	"required": "This field is required",
	"email":    "Must be a valid email address",
	"min":      "Value is too short or small (minimum: %s)",
	"max":      "Value is too long or large (maximum: %s)",
	"len":      "Must have length of %s",
	"gt":       "Must be greater than %s",
	"gte":      "Must be greater than or equal to %s",
	"lt":       "Must be less than %s",
	"lte":      "Must be less than or equal to %s",
	"oneof":    "Must be one of: %s",
	"url":      "Must be a valid URL",
	"uuid":     "Must be a valid UUID",
	"dive":     "One or more entries are invalid",
}

func formatValidationError(fe validator.FieldError) string {
	tmpl, ok := fieldMessages[fe.Tag()]
	if !ok {
		return "Validation failed for tag: " + fe.Tag()
	}
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, fe.Param())
	}
	return tmpl
}
