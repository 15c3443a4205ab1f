package chat

import (
	"errors"
	"fmt"
)

// Failure categories. Every error surfaced by the engine matches exactly one
// of these with errors.Is.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Error carries a category and the message shown to the client.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the category sentinel.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap exposes the underlying cause unless it carries a category of its
// own, so an Error never matches two categories.
func (e *Error) Unwrap() error {
	var inner *Error
	if errors.As(e.Err, &inner) {
		return nil
	}
	return e.Err
}

// Unauthenticated builds an ErrUnauthenticated error.
func Unauthenticated(msg string, cause error) error {
	return &Error{Kind: ErrUnauthenticated, Message: msg, Err: cause}
}

// Forbidden builds an ErrForbidden error.
func Forbidden(msg string) error {
	return &Error{Kind: ErrForbidden, Message: msg}
}

// NotFound builds an ErrNotFound error.
func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// Invalid builds an ErrValidation error.
func Invalid(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a storage failure.
func Unavailable(op string, cause error) error {
	return &Error{Kind: ErrStorageUnavailable, Message: op, Err: cause}
}

// genericMessage is what clients see for failures whose detail is internal.
const genericMessage = "Something went wrong"

// ClientMessage returns the text that may be sent to the originating
// connection for err.
func ClientMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Kind != ErrStorageUnavailable && ce.Message != "" {
		return ce.Message
	}
	return genericMessage
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrStorageUnavailable):
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
