package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesCategory(t *testing.T) {
	err := fmt.Errorf("join: %w", Forbidden("Access denied"))

	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Access denied", ClientMessage(err))
	assert.Equal(t, "FORBIDDEN", Code(err))
}

func TestStorageFailureHidesDetail(t *testing.T) {
	cause := errors.New("database is locked")
	err := Unavailable("insert message", cause)

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Something went wrong", ClientMessage(err))
	assert.Equal(t, "UNAVAILABLE", Code(err))
}

func TestClientMessageForPlainError(t *testing.T) {
	assert.Equal(t, "Something went wrong", ClientMessage(errors.New("boom")))
	assert.Equal(t, "INTERNAL", Code(errors.New("boom")))
}

func TestInvalidFormatsMessage(t *testing.T) {
	err := Invalid("content must be at most %d characters", 2000)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "content must be at most 2000 characters", ClientMessage(err))
}

func TestCategorizedCauseDoesNotLeakCategory(t *testing.T) {
	err := Unauthenticated("Unknown user", fmt.Errorf("lookup: %w", NotFound("user not found")))

	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "UNAUTHENTICATED", Code(err))
	assert.Contains(t, err.Error(), "user not found")
}
