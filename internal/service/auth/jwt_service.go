// Package auth verifies the bearer tokens issued by the identity service.
// Tokens are never issued here.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	// ValidateToken validates the provided token string and extracts the claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid or ErrInvalidToken on failure.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the verified identity carried by a token.
type Claims struct {
	// UserID is parsed from the sub claim.
	UserID uuid.UUID
	// TenantID is parsed from the tenant_id claim.
	TenantID uuid.UUID

	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}
