package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/app/models"
)

func newService(now time.Time) *JWTService {
	s := NewJWTService(JWTConfig{SecretKey: "test-secret", AccessTokenExp: time.Hour, TokenIssuer: "hackhub.test"})
	s.now = func() time.Time { return now }
	return s
}

func TestJWTService_RoundTrip(t *testing.T) {
	now := time.Now()
	s := newService(now)

	token, expiresIn, err := s.GenerateToken(models.User{ID: "u1", Email: "ada@hackhub.dev", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, 3600, expiresIn)

	claims, err := s.ValidateAndExtractClaims(token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{ID: "u1", DisplayName: "Ada"}, claims.Identity())
	assert.Equal(t, "ada@hackhub.dev", claims.Email)
}

func TestJWTService_Expired(t *testing.T) {
	now := time.Now()
	token, _, err := newService(now).GenerateToken(models.User{ID: "u1"})
	require.NoError(t, err)

	_, err = newService(now.Add(2*time.Hour)).ValidateAndExtractClaims(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTService_WrongSecret(t *testing.T) {
	now := time.Now()
	token, _, err := newService(now).GenerateToken(models.User{ID: "u1"})
	require.NoError(t, err)

	other := NewJWTService(JWTConfig{SecretKey: "other", TokenIssuer: "hackhub.test"})
	_, err = other.ValidateAndExtractClaims(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = other.ValidateAndExtractClaims("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{header: "Bearer a.b.c", want: "a.b.c"},
		{header: "\"Bearer a.b.c\"", want: "a.b.c"},
		{header: "a.b.c", want: "a.b.c"},
		{header: "", err: ErrInvalidFormat},
		{header: "Basic abc", err: ErrInvalidFormat},
	}
	for _, tt := range tests {
		got, err := ExtractBearerToken(tt.header)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}
