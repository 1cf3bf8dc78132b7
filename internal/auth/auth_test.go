package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerifierRejectsEmptySecret(t *testing.T) {
	_, err := NewVerifier("  ")
	assert.Error(t, err)
}

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)

	tok, err := v.Issue(time.Minute, time.Now())
	require.NoError(t, err)

	claims, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "robot", claims.Subject)
	assert.Equal(t, "kropbot", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyFailures(t *testing.T) {
	v, _ := NewVerifier("s3cret")
	other, _ := NewVerifier("different")
	now := time.Now()

	expired, err := v.Issue(time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	foreign, err := other.Issue(time.Minute, now)
	require.NoError(t, err)

	wrongSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "kropbot",
		Subject:   "client",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  "kropbot",
		Subject: "robot",
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:    "kropbot",
		Subject:   "robot",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":         "",
		"garbage":       "not.a.jwt",
		"expired":       expired,
		"wrong secret":  foreign,
		"wrong subject": wrongSubject,
		"no expiry":     noExpiry,
		"wrong alg":     wrongAlg,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/robot", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/robot", nil)
	r.Header.Set("Authorization", "bearer lower")
	assert.Equal(t, "lower", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/robot", nil)
	r.Header.Set("Authorization", "Basic dXNlcg==")
	assert.Empty(t, TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/robot?token=from-query", nil)
	assert.Equal(t, "from-query", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/robot", nil)
	assert.Empty(t, TokenFromRequest(r))
}
