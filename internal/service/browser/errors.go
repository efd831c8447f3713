package browser

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrSessionUnavailable = errors.New("browser session unavailable")
	ErrSessionCrashed     = errors.New("browser session crashed")
	ErrNavigationFailed   = errors.New("navigation failed")
	ErrActionFailed       = errors.New("action failed")
)

// StatusCode maps a dispatch error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionCrashed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode maps a dispatch error to the machine-readable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrSessionCrashed):
		return "session_crashed"
	case errors.Is(err, ErrSessionUnavailable):
		return "session_unavailable"
	case errors.Is(err, ErrNavigationFailed):
		return "navigation_failed"
	case errors.Is(err, ErrActionFailed):
		return "action_failed"
	default:
		return "internal_error"
	}
}
