package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedHandler(t *testing.T, ts *TokenService) (http.Handler, *string) {
	t.Helper()
	var seen string
	h := RequireAuth(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = EmailFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func TestRequireAuth_BearerHeader(t *testing.T) {
	ts := newTestTokenService(t)
	h, seen := protectedHandler(t, ts)

	token, err := ts.Issue("alice@x.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/forms/getAllForms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "alice@x.com", *seen)
}

func TestRequireAuth_CookieFallback(t *testing.T) {
	ts := newTestTokenService(t)
	h, seen := protectedHandler(t, ts)

	token, _ := ts.Issue("bob@x.com")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "bob@x.com", *seen)
}

func TestRequireAuth_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	h, _ := protectedHandler(t, ts)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc"},
		{"bearer without token", "Bearer"},
		{"bearer garbage", "Bearer not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.JSONEq(t, `{"error":"Authentication failed"}`, rr.Body.String())
		})
	}
}

func TestEmailFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := EmailFromContext(req.Context())
	assert.False(t, ok)
}
