package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes shared by the REST surface and the realtime protocol.
const (
	CodeAuthentication       = "AUTHENTICATION_ERROR"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeValidation           = "VALIDATION_ERROR"
	CodeTranscriptionFailure = "TRANSCRIPTION_FAILURE"
	CodeGenerationFailure    = "GENERATION_FAILURE"
	CodePersistenceFailure   = "PERSISTENCE_FAILURE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeNotInSession         = "NOT_IN_SESSION"
	CodeInternal             = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching. Comparison is by code only.
var (
	ErrAuthentication       = &AppError{StatusCode: http.StatusUnauthorized, Code: CodeAuthentication}
	ErrSessionNotFound      = &AppError{StatusCode: http.StatusNotFound, Code: CodeSessionNotFound}
	ErrUnauthorized         = &AppError{StatusCode: http.StatusForbidden, Code: CodeUnauthorized}
	ErrSessionExpired       = &AppError{StatusCode: http.StatusGone, Code: CodeSessionExpired}
	ErrValidation           = &AppError{StatusCode: http.StatusBadRequest, Code: CodeValidation}
	ErrTranscriptionFailure = &AppError{StatusCode: http.StatusBadGateway, Code: CodeTranscriptionFailure}
	ErrGenerationFailure    = &AppError{StatusCode: http.StatusBadGateway, Code: CodeGenerationFailure}
	ErrPersistenceFailure   = &AppError{StatusCode: http.StatusServiceUnavailable, Code: CodePersistenceFailure}
	ErrRateLimited          = &AppError{StatusCode: http.StatusTooManyRequests, Code: CodeRateLimited}
	ErrNotInSession         = &AppError{StatusCode: http.StatusConflict, Code: CodeNotInSession}
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches any AppError carrying the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Wrap records the underlying cause
func (e *AppError) Wrap(cause error) *AppError {
	e.cause = cause
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	appErr := &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
	if statusCode >= http.StatusInternalServerError {
		appErr.Stack = string(debug.Stack())
	}
	return appErr
}

func newf(sentinel *AppError, format string, args ...any) *AppError {
	return NewError(sentinel.StatusCode, sentinel.Code, fmt.Sprintf(format, args...))
}

// Authentication reports bad or missing credentials
func Authentication(reason string) *AppError {
	return newf(ErrAuthentication, "%s", reason)
}

// SessionNotFound reports an unknown session id
func SessionNotFound(sessionID string) *AppError {
	return newf(ErrSessionNotFound, "session %s not found", sessionID).WithDetails(map[string]string{"sessionId": sessionID})
}

// Unauthorized reports access to a session by someone other than its owner
func Unauthorized(sessionID string) *AppError {
	return newf(ErrUnauthorized, "not allowed to access session %s", sessionID)
}

// SessionExpired reports a record past its retention window
func SessionExpired(sessionID string) *AppError {
	return newf(ErrSessionExpired, "session %s has expired", sessionID)
}

// Validation reports a malformed payload
func Validation(format string, args ...any) *AppError {
	return newf(ErrValidation, format, args...)
}

// TranscriptionFailure wraps a transcription collaborator error
func TranscriptionFailure(cause error) *AppError {
	return newf(ErrTranscriptionFailure, "transcription failed").Wrap(cause)
}

// GenerationFailure wraps a generation collaborator error
func GenerationFailure(cause error) *AppError {
	return newf(ErrGenerationFailure, "reply generation failed").Wrap(cause)
}

// PersistenceFailure wraps a storage error
func PersistenceFailure(op string, cause error) *AppError {
	return newf(ErrPersistenceFailure, "%s failed", op).Wrap(cause)
}

// RateLimited reports a client exceeding its event budget
func RateLimited() *AppError {
	return newf(ErrRateLimited, "too many requests")
}

// NotInSession reports a session-scoped event from a connection that has not joined it
func NotInSession(sessionID string) *AppError {
	return newf(ErrNotInSession, "connection has not joined session %s", sessionID)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// Is reports whether err carries the same code as target
func Is(err error, target *AppError) bool {
	return stderrors.Is(err, target)
}

// As extracts the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
