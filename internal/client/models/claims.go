package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/lockbox/internal/common"
)

// TokenClaims are the decoded access-token claims this subsystem reads.
// The token is issued and signed by the identity service; the client only
// decodes it, it cannot verify the signature, so none of these values are
// trusted for anything security-critical beyond display and placement.
type TokenClaims struct {
	UserID        string
	Email         string
	EmailVerified bool
	Name          string
	Premium       bool
	External      bool
	ExpiresAt     time.Time
}

type rawClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Name          string   `json:"name"`
	Premium       bool     `json:"premium"`
	Amr           []string `json:"amr"`
}

// DecodeToken parses a JWT access token without signature verification and
// extracts the claims. Returns common.ErrInvalidToken for malformed input.
func DecodeToken(token string) (*TokenClaims, error) {
	var raw rawClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &raw); err != nil {
		return nil, common.ErrInvalidToken
	}

	claims := &TokenClaims{
		UserID:        raw.Subject,
		Email:         raw.Email,
		EmailVerified: raw.EmailVerified,
		Name:          raw.Name,
		Premium:       raw.Premium,
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}
	for _, method := range raw.Amr {
		if method == "external" {
			claims.External = true
			break
		}
	}
	return claims, nil
}

// IsExternal reports whether the session was established through an
// external (SSO) identity provider.
func (c *TokenClaims) IsExternal() bool {
	return c != nil && c.External
}

// ExpiresWithin reports whether the token expires within d (or already has).
func (c *TokenClaims) ExpiresWithin(d time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(c.ExpiresAt) < d
}
