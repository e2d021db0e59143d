package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or shadow the
// values this package stores in a request context.
type contextKey string

const emailKey contextKey = "email"

// TokenCookie is the cookie the GitHub callback stores the token in.
// Browser clients that went through the OAuth flow send it instead of an
// Authorization header.
const TokenCookie = "token"

// unauthorizedBody is the fixed 401 envelope.
const unauthorizedBody = `{"error":"Authentication failed"}`

// Verifier is what the middleware needs from a token service.
type Verifier interface {
	Verify(token string) (string, error)
}

// RequireAuth rejects requests without a valid token with 401 and stores
// the verified email in the request context otherwise.
//
// The token is read from "Authorization: Bearer <token>" and, failing
// that, from the token cookie.
func RequireAuth(tokens Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, err := tokens.Verify(TokenFromRequest(r))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(unauthorizedBody + "\n"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithEmail(r.Context(), email)))
		})
	}
}

// WithEmail returns a copy of ctx carrying the verified email.
func WithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey, email)
}

// EmailFromContext returns the verified email set by RequireAuth.
// It returns ("", false) on routes that are not behind RequireAuth.
func EmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok && email != ""
}

// TokenFromRequest extracts the raw token, preferring the bearer header.
// It returns "" when neither the header nor the cookie is present.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}
