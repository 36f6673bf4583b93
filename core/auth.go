package core

import (
	"context"
	"errors"
	"time"
)

type Session struct {
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
)

type AuthStore interface {
	// NewSession verifies the credentials and issues a signed session
	// token. Unknown users and wrong passwords both fail with
	// ErrBadCredentials.
	NewSession(ctx context.Context, username, password string) (session *Session, err error)

	// DestroySession revokes the session's token. Subsequent lookups of
	// the token fail with ErrUnauthenticated.
	DestroySession(ctx context.Context, session Session) error

	// Session resolves a token back to a session. Expired, malformed and
	// revoked tokens fail with ErrUnauthenticated.
	Session(ctx context.Context, token string) (session *Session, err error)
}
