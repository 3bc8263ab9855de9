package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-session-engine/internal/service"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrStaffAccessOnly   ErrCode = "STAFF_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrInvalidState     ErrCode = "INVALID_STATE"
	ErrSessionLocked    ErrCode = "SESSION_LOCKED"
	ErrTimeExpired      ErrCode = "TIME_EXPIRED"
	ErrAttemptLimit     ErrCode = "ATTEMPT_LIMIT_EXCEEDED"
	ErrAlreadyCompleted ErrCode = "ALREADY_COMPLETED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrStaffAccessOnly:
		return "This resource is restricted to teachers and administrators."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "The resource was changed concurrently or already exists."

	case ErrInvalidState:
		return "This action is not allowed in the current state."
	case ErrSessionLocked:
		return "The session is locked. Wait for a teacher to review it."
	case ErrTimeExpired:
		return "Exam time has expired. The session has been submitted."
	case ErrAttemptLimit:
		return "You have used all attempts for this exam."
	case ErrAlreadyCompleted:
		return "The session is already completed."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}

// FromError maps a service error to its HTTP status and code. Unknown
// errors become 500 INTERNAL_ERROR.
func FromError(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden, ErrForbidden
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, ErrValidation
	case errors.Is(err, service.ErrLocked):
		return http.StatusLocked, ErrSessionLocked
	case errors.Is(err, service.ErrTimeExpired):
		return http.StatusGone, ErrTimeExpired
	case errors.Is(err, service.ErrLimitExceeded):
		return http.StatusForbidden, ErrAttemptLimit
	case errors.Is(err, service.ErrAlreadyCompleted):
		return http.StatusConflict, ErrAlreadyCompleted
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, ErrConflict
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict, ErrInvalidState
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}
