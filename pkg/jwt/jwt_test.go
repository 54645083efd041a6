package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m, err := NewManager("s3cret", "teamhub-auth", time.Minute)
	require.NoError(t, err)

	tok, err := m.Generate("u-1", "alice", TypeAccess, []string{"member"})
	require.NoError(t, err)

	claims, err := m.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, TypeAccess, claims.Type)
	assert.True(t, claims.HasRole("member"))
	assert.False(t, claims.HasRole("admin"))
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, err := NewManager("one", "", time.Minute)
	require.NoError(t, err)
	verifier, err := NewManager("two", "", time.Minute)
	require.NoError(t, err)

	tok, err := issuer.Generate("u-1", "alice", TypeAccess, nil)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	m, err := NewManager("s3cret", "", time.Minute)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	tok, err := m.Generate("u-1", "alice", TypeAccess, nil)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	a, _ := NewManager("s3cret", "a", time.Minute)
	b, _ := NewManager("s3cret", "b", time.Minute)

	tok, err := a.Generate("u-1", "alice", TypeAccess, nil)
	require.NoError(t, err)

	_, err = b.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("", "", time.Minute)
	assert.ErrorIs(t, err, ErrMissingKey)
}
