package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyToken(t *testing.T) {
	user := UserWithoutSecrets{Username: "alice", Name: "Alice"}

	t.Run("valid token round trip", func(t *testing.T) {
		token, exp, err := NewToken(user, time.Hour, testSecret)
		require.Nil(t, err)
		require.NotEmpty(t, token)
		assert.True(t, exp.After(time.Now()))

		claims, err := VerifyToken(token, testSecret)
		require.Nil(t, err)
		assert.Equal(t, "alice", claims.Username)
		assert.Equal(t, "huddle", claims.Issuer)
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := NewToken(user, -time.Minute, testSecret)
		require.Nil(t, err)

		_, err = VerifyToken(token, testSecret)
		assert.Equal(t, ErrTokenExpired, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewToken(user, time.Hour, testSecret)
		require.Nil(t, err)

		_, err = VerifyToken(token, []byte("other-secret"))
		assert.Equal(t, ErrTokenInvalid, err)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := VerifyToken("not-a-token", testSecret)
		assert.Equal(t, ErrTokenInvalid, err)
	})
}
