package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomcast/internal/chat"
)

type usersStub map[int64]chat.Identity

func (u usersStub) UserByID(_ context.Context, id int64) (chat.Identity, error) {
	if id == 500 {
		return chat.Identity{}, errors.New("database is locked")
	}
	ident, ok := u[id]
	if !ok {
		return chat.Identity{}, chat.NotFound("user not found")
	}
	return ident, nil
}

var testUsers = usersStub{
	1: {ID: 1, Username: "ann", DisplayName: "Ann"},
	2: {ID: 2, Username: "mallory", Banned: true},
}

func newTestValidator(t *testing.T, opts ...Option) *Validator {
	t.Helper()
	v, err := NewValidator("test-secret", testUsers, opts...)
	require.NoError(t, err)
	return v
}

func TestIssueAndValidate(t *testing.T) {
	v := newTestValidator(t, WithIssuer("roomcast"))
	token, err := v.Issue(1, time.Hour)
	require.NoError(t, err)

	ident, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ann", ident.Username)
}

func TestValidateFailures(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	issue := func(userID int64) string {
		tok, err := v.Issue(userID, time.Minute)
		require.NoError(t, err)
		return tok
	}

	_, err := v.Validate(ctx, "")
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)

	_, err = v.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)

	_, err = v.Validate(ctx, issue(99))
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
	assert.NotErrorIs(t, err, chat.ErrNotFound)

	_, err = v.Validate(ctx, issue(2))
	assert.ErrorIs(t, err, chat.ErrForbidden)

	_, err = v.Validate(ctx, issue(500))
	assert.ErrorIs(t, err, chat.ErrStorageUnavailable)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v := newTestValidator(t, WithClock(func() time.Time { return now }))
	token, err := v.Issue(1, time.Minute)
	require.NoError(t, err)

	later := newTestValidator(t, WithClock(func() time.Time { return now.Add(2 * time.Minute) }))
	_, err = later.Validate(context.Background(), token)
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
}

func TestValidateRequiresExpiry(t *testing.T) {
	v := newTestValidator(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), token)
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
}

func TestValidateRejectsWrongSecretAndIssuer(t *testing.T) {
	other, err := NewValidator("other-secret", testUsers)
	require.NoError(t, err)
	token, err := other.Issue(1, time.Hour)
	require.NoError(t, err)

	_, err = newTestValidator(t).Validate(context.Background(), token)
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)

	plain, err := newTestValidator(t).Issue(1, time.Hour)
	require.NoError(t, err)
	_, err = newTestValidator(t, WithIssuer("roomcast")).Validate(context.Background(), plain)
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
}

func TestNewValidatorRequiresSecret(t *testing.T) {
	_, err := NewValidator("  ", testUsers)
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query", nil)
	r.Header.Set("Authorization", "Bearer header")
	r.AddCookie(&http.Cookie{Name: "token", Value: "cookie"})
	assert.Equal(t, "header", TokenFromRequest(r))

	r.Header.Del("Authorization")
	assert.Equal(t, "query", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: "token", Value: "cookie"})
	assert.Equal(t, "cookie", TokenFromRequest(r))

	assert.Equal(t, "", TokenFromRequest(httptest.NewRequest(http.MethodGet, "/ws", nil)))
}
