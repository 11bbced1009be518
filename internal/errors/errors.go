package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stwalsh4118/moveit/internal/logger"
	"github.com/stwalsh4118/moveit/internal/middleware"
)

// Error code constants for standardized error responses
const (
	ErrNotFound           = "NOT_FOUND"
	ErrBadRequest         = "BAD_REQUEST"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrValidation         = "VALIDATION_ERROR"
	ErrDatabaseConnection = "DATABASE_CONNECTION_ERROR"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrConflict           = "CONFLICT"
	ErrDocumentLocked     = "DOCUMENT_LOCKED"
	ErrInvalidSection     = "INVALID_SECTION"
	ErrInvalidSlot        = "INVALID_SLOT"
	ErrIncompleteForm     = "INCOMPLETE_FORM"
	ErrUnsupported        = "UNSUPPORTED_OPERATION"
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

// Respond logs a client error at warn level and writes the error envelope.
func Respond(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	requestID := middleware.GetRequestID(c)

	if log := middleware.GetLogger(c); log != nil {
		fields := logger.Fields{
			"code":    code,
			"message": message,
			"path":    c.Request.URL.Path,
		}
		if details != nil {
			fields["details"] = details
		}
		log.Warn("Request rejected", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// NotFound returns a 404 Not Found error response.
func NotFound(c *gin.Context, message string) {
	Respond(c, http.StatusNotFound, ErrNotFound, message, nil)
}

// BadRequest returns a 400 Bad Request error response with optional details.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	Respond(c, http.StatusBadRequest, ErrBadRequest, message, details)
}

// Unauthorized returns a 401 response for a missing or invalid identity.
func Unauthorized(c *gin.Context, message string) {
	Respond(c, http.StatusUnauthorized, ErrUnauthorized, message, nil)
}

// Forbidden returns a 403 response when the actor may not perform the operation.
func Forbidden(c *gin.Context, message string) {
	Respond(c, http.StatusForbidden, ErrForbidden, message, nil)
}

// Conflict returns a 409 response with the given code.
func Conflict(c *gin.Context, code, message string) {
	Respond(c, http.StatusConflict, code, message, nil)
}

// UnprocessableEntity returns a 422 response with the given code and details.
func UnprocessableEntity(c *gin.Context, code, message string, details map[string]interface{}) {
	Respond(c, http.StatusUnprocessableEntity, code, message, details)
}

// InternalServerError returns a 500 Internal Server Error response.
// The error is logged with full context; the client only sees message.
func InternalServerError(c *gin.Context, message string, err error) {
	requestID := middleware.GetRequestID(c)

	if log := middleware.GetLogger(c); log != nil {
		log.Error("Internal server error", err, logger.Fields{
			"message": message,
			"path":    c.Request.URL.Path,
			"method":  c.Request.Method,
		})
	}
	_ = c.Error(err)

	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error: ErrorDetail{
			Code:      ErrInternalServer,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// ValidationError returns a 400 Bad Request error response with field-specific validation errors.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{}, len(validationErrors))
	for _, err := range validationErrors {
		details[err.Field()] = formatValidationError(err)
	}

	Respond(c, http.StatusBadRequest, ErrValidation, "Validation failed for one or more fields", details)
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short or small (minimum: " + err.Param() + ")"
	case "max":
		return "Value is too long or large (maximum: " + err.Param() + ")"
	case "oneof":
		return "Must be one of: " + err.Param()
	case "uuid":
		return "Must be a valid UUID"
	case "printascii":
		return "Must contain printable ASCII only"
	case "json":
		return "Must be valid JSON"
	default:
		return "Validation failed for tag: " + err.Tag()
	}
}
