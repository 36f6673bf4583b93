package core

import (
	"context"
	"errors"
)

type User struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// UserWithoutSecrets is the public projection of a user.
type UserWithoutSecrets struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

var (
	// ErrConflictedUser is returned when the username is taken.
	ErrConflictedUser = errors.New("user already exists")
)

type UserStore interface {
	CreateUser(ctx context.Context, user User) error

	// GetUserByUsername returns nil when the user does not exist.
	GetUserByUsername(ctx context.Context, username string) (*UserWithoutSecrets, error)

	GetUsersByUsernames(ctx context.Context, usernames ...string) ([]UserWithoutSecrets, error)

	// ComparePassword reports whether the password matches the stored
	// hash for the user.
	ComparePassword(ctx context.Context, username, password string) (bool, error)
}
