package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// errorBody is the JSON shape of HTTP error responses.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// httpStatus maps a chat error category to an HTTP status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
