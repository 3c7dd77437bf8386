package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacd/pkg/rbac"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"not found", fmt.Errorf("load: %w", &rbac.Error{Kind: rbac.KindNotFound, Message: "user 7 not found"}), http.StatusNotFound, "user 7 not found"},
		{"bad request", &rbac.Error{Kind: rbac.KindBadRequest, Message: "reason is required"}, http.StatusBadRequest, "reason is required"},
		{"forbidden", &rbac.Error{Kind: rbac.KindForbidden, Message: "insufficient privileges to modify this account"}, http.StatusForbidden, "insufficient privileges"},
		{"conflict", &rbac.Error{Kind: rbac.KindConflict, Message: "create role: already exists"}, http.StatusConflict, "already exists"},
		{"internal cause hidden", &rbac.Error{Kind: rbac.KindInternal, Message: "failed to get user", Err: errors.New("pq: connection refused")}, http.StatusInternalServerError, "failed to get user"},
		{"foreign error", errors.New("driver exploded"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			WriteError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body.Error, tt.wantBody)
			assert.NotContains(t, w.Body.String(), "pq:")
			assert.NotContains(t, w.Body.String(), "exploded")
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(rbac.KindNotFound))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(rbac.Kind("weird")))
}

func TestWriteHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w, "authentication required")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	WriteForbidden(w, "missing permission")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
