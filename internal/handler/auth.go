package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/forms-app/internal/auth"
	"github.com/sakif/forms-app/internal/service"
)

const oauthStateCookie = "oauth_state"

// AuthHandler serves registration, login, token verification and the
// optional GitHub OAuth flow.
type AuthHandler struct {
	auth     *service.AuthService
	github   *auth.GitHubProvider // nil when GitHub login is not configured
	tokenTTL time.Duration
	appURL   string
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil. appURL is where
// the browser lands after a GitHub login; it defaults to "/".
func NewAuthHandler(
	authSvc *service.AuthService,
	github *auth.GitHubProvider,
	tokenTTL time.Duration,
	appURL string,
	logger *slog.Logger,
) *AuthHandler {
	if appURL == "" {
		appURL = "/"
	}
	return &AuthHandler{
		auth:     authSvc,
		github:   github,
		tokenTTL: tokenTTL,
		appURL:   appURL,
		logger:   logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandleRegister creates an account.
//
// HTTP: POST /users/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "User registered successfully",
		"token":   result.Token,
	})
}

// HandleLogin exchanges credentials for a token.
//
// HTTP: POST /users/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Login successful",
		"token":   result.Token,
	})
}

// HandleVerify echoes the identity of a valid token. RequireAuth has
// already rejected anything else.
//
// HTTP: GET /users/verify
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.EmailFromContext(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "JWT is valid",
		"user":    map[string]string{"email": email},
		"success": true,
	})
}

// HandleGitHubLogin redirects the browser to GitHub's consent page with a
// single-use state value stored in a short-lived cookie.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback checks the state, exchanges the code for the
// GitHub identity, binds it to a local account and sets the token cookie.
//
// HTTP: GET /auth/github/callback?code=...&state=...
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("github callback: invalid state")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid OAuth state"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", errParam))
		http.Redirect(w, r, h.appURL+"?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing OAuth code"})
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication failed"})
		return
	}

	result, err := h.auth.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.appURL, http.StatusSeeOther)
}

// HandleLogout clears the token cookie. Bearer tokens held by the client
// stay valid until they expire.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
