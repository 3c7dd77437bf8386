package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/rbacd/pkg/contextkeys"
)

// Identity is the authenticated caller extracted from a verified token. It
// names a user account; roles and permissions are always loaded fresh from
// the store so a revoked role takes effect before the token expires.
type Identity struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims is the JWT payload. Subject holds the decimal user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() (*Identity, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrInvalidToken
	}
	ident := &Identity{UserID: id, Email: c.Email, TokenID: c.ID}
	if c.ExpiresAt != nil {
		ident.ExpiresAt = c.ExpiresAt.Time
	}
	return ident, nil
}

// WithIdentity stores the caller identity on ctx
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, contextkeys.IdentityKey, ident)
}

// IdentityFrom returns the identity stored on ctx, if any
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	ident, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return ident, ok && ident != nil
}
