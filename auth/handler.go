package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gfmateus5/Mateus2121/config"
	"github.com/gfmateus5/Mateus2121/handlers"
	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/services"
	"github.com/gfmateus5/Mateus2121/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// SessionCookieName is the cookie name for the session token
	SessionCookieName = "session"
	stateCookieMaxAge = 600

	// maxBodyBytes caps the JSON login request body
	maxBodyBytes = 1 << 16
)

// Authenticator runs a Fenix login for an authorization code
type Authenticator interface {
	Authenticate(ctx context.Context, code string) (*models.AuthResult, error)
}

// AuthorizeURLFunc returns the Fenix authorization URL for a state value.
// It fails when the Fenix client is misconfigured.
type AuthorizeURLFunc func(state string) (string, error)

// FenixAuthRequest is the body of POST /auth/fenix
type FenixAuthRequest struct {
	Code string `json:"code" validate:"required"`
}

// Handler handles the Fenix login flows (redirect login, callback, code exchange, logout).
type Handler struct {
	fenix         config.FenixConfig
	sessionTTL    time.Duration
	authenticator Authenticator
	authorizeURL  AuthorizeURLFunc
	logger        *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(cfg *config.Config, authenticator Authenticator, authorizeURL AuthorizeURLFunc, logger *zap.Logger) *Handler {
	return &Handler{
		fenix:         cfg.Fenix,
		sessionTTL:    cfg.JWT.TTL,
		authenticator: authenticator,
		authorizeURL:  authorizeURL,
		logger:        logger,
	}
}

// HandleLogin redirects to the Fenix authorization dialog
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	authURL, err := h.authorizeURL(state)
	if err != nil {
		handlers.HandleServiceError(w, services.NewProviderConfigurationError(err), h.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback verifies the OAuth state, runs the login and sets the session cookie.
// The AuthResult is returned as JSON.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		handlers.HandleServiceError(w, services.ErrInvalidState, h.logger)
		return
	}

	h.clearCookie(w, StateCookieName)

	result, err := h.authenticator.Authenticate(r.Context(), code)
	if err != nil {
		handlers.HandleServiceError(w, err, h.logger)
		return
	}

	h.setSessionCookie(w, result.Token)
	_ = utils.WriteOK(w, result)
}

// HandleFenixAuth handles POST /auth/fenix {"code": "..."} for clients that
// run the Fenix redirect themselves.
func (h *Handler) HandleFenixAuth(w http.ResponseWriter, r *http.Request) {
	var req FenixAuthRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if err := utils.ValidateStruct(&req); err != nil {
		handlers.HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.authenticator.Authenticate(r.Context(), req.Code)
	if err != nil {
		handlers.HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleLogout clears the session cookie and redirects to the front end
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, SessionCookieName)

	redirectURL := h.fenix.FrontEndURL
	if redirectURL == "" {
		redirectURL = "/"
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) secureCookies() bool {
	return strings.HasPrefix(h.fenix.CallbackURL, "https")
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
