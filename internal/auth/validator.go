// Package auth turns bearer credentials into verified chat identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// UserLookup resolves a user id to its current identity.
type UserLookup interface {
	UserByID(ctx context.Context, id int64) (chat.Identity, error)
}

// Validator verifies HS256 tokens whose subject is a numeric user id.
type Validator struct {
	secret []byte
	issuer string
	users  UserLookup
	now    func() time.Time
}

// Option customizes a Validator.
type Option func(*Validator)

// WithIssuer requires and stamps the iss claim.
func WithIssuer(issuer string) Option {
	return func(v *Validator) { v.issuer = issuer }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// NewValidator returns a validator signing and verifying with secret.
func NewValidator(secret string, users UserLookup, opts ...Option) (*Validator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user lookup is required")
	}
	v := &Validator{secret: []byte(secret), users: users, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate checks token and returns the identity it names. The identity must
// still exist and must not be banned.
func (v *Validator) Validate(ctx context.Context, token string) (chat.Identity, error) {
	if token == "" {
		return chat.Identity{}, chat.Unauthenticated("Missing credential", nil)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		return chat.Identity{}, chat.Unauthenticated("Invalid or expired credential", err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return chat.Identity{}, chat.Unauthenticated("Invalid credential subject", err)
	}

	identity, err := v.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.Identity{}, chat.Unauthenticated("Unknown user", err)
		}
		return chat.Identity{}, chat.Unavailable("load user", err)
	}
	if identity.Banned {
		return chat.Identity{}, chat.Forbidden("Account is banned")
	}
	return identity, nil
}

// Issue mints a token for userID valid for ttl.
func (v *Validator) Issue(userID int64, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("user id must be positive")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the credential from the Authorization header,
// then the token query parameter, then the token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}
