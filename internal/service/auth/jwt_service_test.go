package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/taskengine/internal/config"
)

const testSecret = "test-jwt-secret-that-is-32-chars-long"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestNewJWTVerifier(t *testing.T) {
	t.Parallel()

	_, err := NewJWTVerifier(config.AuthConfig{JWTSecret: "short"})
	assert.Error(t, err)

	v, err := NewJWTVerifier(config.AuthConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v := &hmacVerifier{
		signingKey: []byte(testSecret),
		timeFunc:   func() time.Time { return now },
		clockSkew:  2 * time.Minute,
	}
	userID, tenantID := uuid.New(), uuid.New()

	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub":       userID.String(),
			"tenant_id": tenantID.String(),
			"iat":       now.Add(-time.Minute).Unix(),
			"exp":       now.Add(time.Hour).Unix(),
			"jti":       "token-1",
		}
	}

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.ValidateToken(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), valid()))
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, tenantID, claims.TenantID)
		assert.Equal(t, "token-1", claims.ID)
		assert.True(t, claims.ExpiresAt.Equal(now.Add(time.Hour)))
	})

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "empty",
			token:   func(t *testing.T) string { return "" },
			wantErr: ErrMissingToken,
		},
		{
			name:    "malformed",
			token:   func(t *testing.T) string { return "not.a.token" },
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, []byte("another-secret-that-is-32-chars-long!"), valid())
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "other hmac method",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS512, []byte(testSecret), valid())
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired beyond skew",
			token: func(t *testing.T) string {
				c := valid()
				c["exp"] = now.Add(-3 * time.Minute).Unix()
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "not yet valid",
			token: func(t *testing.T) string {
				c := valid()
				c["nbf"] = now.Add(10 * time.Minute).Unix()
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrTokenNotYetValid,
		},
		{
			name: "missing expiry",
			token: func(t *testing.T) string {
				c := valid()
				delete(c, "exp")
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "subject is not a uuid",
			token: func(t *testing.T) string {
				c := valid()
				c["sub"] = "alice"
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing tenant",
			token: func(t *testing.T) string {
				c := valid()
				delete(c, "tenant_id")
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := v.ValidateToken(context.Background(), tc.token(t))
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, claims)
		})
	}

	t.Run("expired within skew is accepted", func(t *testing.T) {
		c := valid()
		c["exp"] = now.Add(-time.Minute).Unix()
		_, err := v.ValidateToken(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.NoError(t, err)
	})
}
