package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacd/pkg/auth"
	"github.com/platinummonkey/rbacd/pkg/observability"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(testSecret, "rbacd-test", time.Hour)
	require.NoError(t, err)
	return issuer
}

func bearer(t *testing.T, issuer *auth.TokenIssuer, userID int64) string {
	t.Helper()
	token, _, err := issuer.Issue(userID, "")
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthMiddleware(t *testing.T) {
	issuer := newIssuer(t)

	var got *auth.Identity
	var userID int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.IdentityFrom(r.Context())
		userID, _ = observability.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		optional   bool
		header     string
		wantStatus int
		wantUser   int64
	}{
		{"valid token", false, bearer(t, issuer, 9), http.StatusOK, 9},
		{"missing token required", false, "", http.StatusUnauthorized, 0},
		{"missing token optional", true, "", http.StatusOK, 0},
		{"bad scheme", true, "Basic abc", http.StatusUnauthorized, 0},
		{"bad token", true, "Bearer nope", http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, userID = nil, 0
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			NewAuthMiddleware(issuer, tt.optional).Handler(next).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantUser == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantUser, got.UserID)
			assert.Equal(t, tt.wantUser, userID)
		})
	}
}
