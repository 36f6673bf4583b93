package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SQLiteAuthStore struct {
	tokenExp  time.Duration
	secret    []byte
	userStore UserStore
	db        *sql.DB
}

type AuthOptions func(*SQLiteAuthStore)

func WithTokenExp(exp time.Duration) AuthOptions {
	return func(a *SQLiteAuthStore) {
		a.tokenExp = exp
	}
}

func NewSQLiteAuthStore(db *sql.DB, userStore UserStore, secret []byte, opts ...AuthOptions) *SQLiteAuthStore {
	auth := &SQLiteAuthStore{
		tokenExp:  time.Hour * 24,
		secret:    secret,
		userStore: userStore,
		db:        db,
	}
	for _, opt := range opts {
		opt(auth)
	}
	return auth
}

func (a *SQLiteAuthStore) NewSession(ctx context.Context, username, password string) (*Session, error) {
	user, err := a.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	if user == nil {
		return nil, ErrBadCredentials
	}

	ok, err := a.userStore.ComparePassword(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return nil, ErrBadCredentials
	}

	token, exp, err := NewToken(*user, a.tokenExp, a.secret)
	if err != nil {
		return nil, fmt.Errorf("creating token: %w", err)
	}

	if err := a.unrevokeToken(ctx, token); err != nil {
		return nil, fmt.Errorf("unrevoking token: %w", err)
	}

	return &Session{Username: user.Username, Token: token, ExpiresAt: exp}, nil
}

func (a *SQLiteAuthStore) DestroySession(ctx context.Context, session Session) error {
	if err := a.revokeToken(ctx, session.Token); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

func (a *SQLiteAuthStore) Session(ctx context.Context, token string) (*Session, error) {
	claims, err := VerifyToken(token, a.secret)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	revoked, err := a.isRevoked(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("checking revocation: %w", err)
	}
	if revoked {
		return nil, ErrUnauthenticated
	}

	return &Session{
		Username:  claims.Username,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// VerifySessionToken implements TokenVerifier for the websocket
// handshake: it resolves a token to the username it authenticates.
func (a *SQLiteAuthStore) VerifySessionToken(ctx context.Context, token string) (string, error) {
	session, err := a.Session(ctx, token)
	if err != nil {
		return "", err
	}
	return session.Username, nil
}

func (a *SQLiteAuthStore) revokeToken(ctx context.Context, token string) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO revoked_tokens (token) VALUES (@token)", sql.Named("token", token))
	return err
}

func (a *SQLiteAuthStore) unrevokeToken(ctx context.Context, token string) error {
	_, err := a.db.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE token = @token", sql.Named("token", token))
	return err
}

func (a *SQLiteAuthStore) isRevoked(ctx context.Context, token string) (bool, error) {
	row := a.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM revoked_tokens WHERE token = @token", sql.Named("token", token))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("scanning count: %w", err)
	}
	return count > 0, nil
}
