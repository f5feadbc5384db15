package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test_secret_key_1234567890"

func TestJWTMaker_GenerateAndParseToken(t *testing.T) {
	tokenTTL := 15 * time.Minute
	maker := NewJWTMaker(testSecret, tokenTTL)

	tests := []struct {
		name   string
		userID string
		email  string
	}{
		{name: "uuid user", userID: "3f8e2a1c-5b6d-4e7f-8a9b-0c1d2e3f4a5b", email: "anna@uni.ac.uk"},
		{name: "user without email", userID: "u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := maker.GenerateToken(tt.userID, tt.email)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			claims, err := maker.ParseToken(token)
			require.NoError(t, err)

			assert.Equal(t, tt.userID, claims.UserID())
			assert.Equal(t, tt.email, claims.Email)
			assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second)
			assert.WithinDuration(t, time.Now().Add(tokenTTL), claims.ExpiresAt.Time, time.Second)
		})
	}
}

func TestJWTMaker_ParseToken_InvalidTokens(t *testing.T) {
	maker := NewJWTMaker(testSecret, 15*time.Minute)

	validToken, err := maker.GenerateToken("u1", "anna@uni.ac.uk")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "malformed token", token: "invalid.token.here"},
		{name: "expired token", token: signWith(t, testSecret, -time.Hour, "u1")},
		{name: "wrong secret key", token: signWith(t, "wrong_secret_key", time.Hour, "u1")},
		{name: "tampered token", token: validToken + "tampered"},
		{name: "missing subject", token: signWith(t, testSecret, time.Hour, "")},
		{name: "missing expiry", token: signClaims(t, testSecret, jwt.RegisteredClaims{Subject: "u1"})},
		{name: "unexpected algorithm", token: signNone(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTMaker_TokenExpiration(t *testing.T) {
	maker := NewJWTMaker(testSecret, time.Second)

	token, err := maker.GenerateToken("u1", "")
	require.NoError(t, err)

	claims, err := maker.ParseToken(token)
	require.NoError(t, err)
	assert.NotNil(t, claims)

	time.Sleep(2100 * time.Millisecond)

	_, err = maker.ParseToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func signWith(t *testing.T, secret string, ttl time.Duration, userID string) string {
	t.Helper()
	token, err := NewJWTMaker(secret, ttl).GenerateToken(userID, "")
	require.NoError(t, err)
	return token
}

func signClaims(t *testing.T, secret string, rc jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{RegisteredClaims: rc}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func signNone(t *testing.T) string {
	t.Helper()
	claims := CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return token
}
