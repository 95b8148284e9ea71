package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Username:  "operator",
		Password:  "correct-horse-battery-staple",
		JWTSecret: "test-secret-at-least-32-bytes-long!!",
		TokenTTL:  time.Hour,
	}
}

func TestAuthenticateAndValidateToken(t *testing.T) {
	a := New(testConfig())

	token, err := a.Authenticate("operator", "correct-horse-battery-staple", "203.0.113.1:54321")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "operator", claims.Sub)
}

func TestAuthenticateWrongPasswordFails(t *testing.T) {
	a := New(testConfig())

	_, err := a.Authenticate("operator", "wrong-password", "203.0.113.2:1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsTamperedSignature(t *testing.T) {
	a := New(testConfig())
	token, err := a.CreateToken("operator")
	require.NoError(t, err)

	// Replace the first character of the signature segment: it carries six
	// full signature bits, so the decoded signature always changes.
	sigStart := strings.LastIndex(token, ".") + 1
	repl := "A"
	if token[sigStart] == 'A' {
		repl = "B"
	}
	tampered := token[:sigStart] + repl + token[sigStart+1:]
	_, err = a.ValidateToken(tampered)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	a := New(testConfig())
	// New replaces a non-positive TokenTTL with the 24h default, so the
	// negative TTL is set on the instance to mint an already-expired token.
	a.ttl = -time.Minute

	token, err := a.CreateToken("operator")
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestRateLimiterLocksOutAfterMaxFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLoginAttempts = 3
	cfg.LoginWindowSeconds = 60
	a := New(cfg)

	for i := 0; i < 3; i++ {
		_, err := a.Authenticate("operator", "wrong", "203.0.113.3:1")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := a.Authenticate("operator", "correct-horse-battery-staple", "203.0.113.3:1")
	require.ErrorIs(t, err, ErrRateLimited)
}
