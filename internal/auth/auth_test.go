package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.Generate("acct", "Alice")
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "acct", claims.Account)
	require.Equal(t, "Alice", claims.Character)
}

func TestTokenWrongSecretRejected(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).Generate("acct", "Alice")
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).Verify(token)
	require.Error(t, err)
}

func TestTokenExpiryRejected(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)

	token, err := m.Generate("acct", "Alice")
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.Error(t, err)
}

func TestTokenGarbageRejected(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	_, err := m.Verify("not.a.token")
	require.Error(t, err)
}

func TestPasswordHashAndCheck(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", string(hash))

	require.True(t, CheckPassword(hash, "hunter2"))
	require.False(t, CheckPassword(hash, "hunter3"))
}
