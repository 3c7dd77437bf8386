package middleware

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/rbacd/pkg/auth"
	"github.com/platinummonkey/rbacd/pkg/httputil"
	"github.com/platinummonkey/rbacd/pkg/observability"
)

// TokenVerifier verifies bearer tokens
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	verifier TokenVerifier
	optional bool // If true, allow requests without a token
}

// NewAuthMiddleware creates a new authentication middleware. With optional
// set, requests without an Authorization header continue anonymously; route
// enforcement then decides whether anonymous access is acceptable.
func NewAuthMiddleware(verifier TokenVerifier, optional bool) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, optional: optional}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if errors.Is(err, auth.ErrMissingToken) && m.optional {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			httputil.WriteUnauthorized(w, err.Error())
			return
		}

		ident, err := m.verifier.Verify(token)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("Token rejected")
			httputil.WriteUnauthorized(w, auth.ErrInvalidToken.Error())
			return
		}

		ctx := auth.WithIdentity(r.Context(), ident)
		ctx = observability.WithUserID(ctx, ident.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
