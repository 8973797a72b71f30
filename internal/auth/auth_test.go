package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficeye/internal/timeutil"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	a, err := NewAuthenticator(Options{Enabled: true, Password: "s3cret", JWTSecret: "k", JWTExpiry: time.Hour, Clock: clock})
	require.NoError(t, err)

	token, exp, err := a.Authenticate("admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour).Unix(), exp)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, Issuer, claims.Issuer)

	clock.Advance(2 * time.Hour)
	_, err = a.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthenticateRejects(t *testing.T) {
	a, err := NewAuthenticator(Options{Enabled: true, Username: "op", Password: "pw", JWTSecret: "k"})
	require.NoError(t, err)

	_, _, err = a.Authenticate("admin", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("op", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewJWTManager("different", time.Hour, nil)
	foreign, _, err := other.GenerateToken("op")
	require.NoError(t, err)
	_, err = a.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPrehashedPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)

	a, err := NewAuthenticator(Options{Enabled: true, Password: hash, JWTSecret: "k"})
	require.NoError(t, err)
	_, _, err = a.Authenticate("admin", "pw")
	assert.NoError(t, err)
}

func TestDisabledAuthenticator(t *testing.T) {
	a, err := NewAuthenticator(Options{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())
	_, _, err = a.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrAuthDisabled)

	_, err = NewAuthenticator(Options{Enabled: true})
	assert.Error(t, err)
}

func TestJWTManagerDefaults(t *testing.T) {
	m := NewJWTManager("", 0, nil)
	assert.Equal(t, 24*time.Hour, m.GetExpiry())
	token, _, err := m.GenerateToken("admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.NoError(t, err)
}
