package server

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/auth"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/session"
)

const (
	startPath    = "/auth/external/start"
	callbackPath = "/auth/external/callback"
	signInPath   = "/auth/sign-in"
)

// AuthFlow is the provider authorization round-trip. [auth.Flow] implements it.
type AuthFlow interface {
	Start(ctx context.Context, s *session.Session) (string, error)
	Callback(ctx context.Context, s *session.Session, current *models.Account, code, state string) (*models.Account, error)
}

// PasswordAccounts is local username and password authentication. [auth.LocalAccounts] implements it.
type PasswordAccounts interface {
	SignUp(ctx context.Context, username, email, password, confirm string) (*models.Account, error)
	SignIn(ctx context.Context, username, password string) (*models.Account, error)
}

// AuthHandler serves sign-up, sign-in, sign-out and the provider authorization round-trip.
type AuthHandler struct {
	flow     AuthFlow // nil when Spotify credentials are not configured
	local    PasswordAccounts
	sessions session.Store
	metrics  *Metrics
	logger   *log.Logger
	secure   bool
	ttl      time.Duration
}

type signUpRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Routes() []Route {
	return []Route{
		{http.MethodGet, startPath, h.Start},
		{http.MethodGet, callbackPath, h.Callback},
		{http.MethodGet, signInPath, h.SignInPage},
		{http.MethodPost, signInPath, h.SignIn},
		{http.MethodPost, "/auth/sign-up", h.SignUp},
		{http.MethodPost, "/auth/sign-out", h.SignOut},
		{http.MethodGet, "/auth/me", h.Me},
	}
}

// Start stores a fresh state nonce on the session and redirects to the provider's authorize page.
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		writeError(w, http.StatusServiceUnavailable, "Spotify sign-in is not configured")
		return
	}

	rc := FromContext(r.Context())
	authURL, err := h.flow.Start(r.Context(), rc.Session)
	if err != nil {
		h.logger.Error("failed to start authorization", "error", err)
		h.failCallback(w, r, auth.CodeAuthFailed)
		return
	}

	session.SetCookie(w, rc.Session, h.secure)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the provider round-trip and signs the session in. Every failure redirects to the
// sign-in page with one of the fixed error codes; provider error detail stays in the logs.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		writeError(w, http.StatusServiceUnavailable, "Spotify sign-in is not configured")
		return
	}

	rc := FromContext(r.Context())
	query := r.URL.Query()
	if denied := query.Get("error"); denied != "" {
		h.logger.Info("provider authorization denied", "reason", denied)
	}

	rc.Session.Touch(h.ttl)
	account, err := h.flow.Callback(r.Context(), rc.Session, rc.Account, query.Get("code"), query.Get("state"))
	if err != nil {
		code := auth.CallbackCode(err)
		h.logger.Warn("authorization callback failed", "code", code, "error", err)
		h.failCallback(w, r, code)
		return
	}

	h.metrics.ObserveCallback("success")
	rc.Account = account
	session.SetCookie(w, rc.Session, h.secure)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *AuthHandler) failCallback(w http.ResponseWriter, r *http.Request, code string) {
	h.metrics.ObserveCallback(code)
	http.Redirect(w, r, signInPath+"?error="+url.QueryEscape(code), http.StatusFound)
}

// SignInPage reports the available sign-in methods and, after a failed callback, the error code
// together with its user-facing message.
func (h *AuthHandler) SignInPage(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"providers": map[string]bool{"password": true, "spotify": h.flow != nil},
	}

	if code := r.URL.Query().Get("error"); code != "" {
		if !auth.KnownCallbackCode(code) {
			code = auth.CodeAuthFailed
		}
		body["error"] = code
		body["message"] = auth.CallbackMessage(code)
	}

	if rc := FromContext(r.Context()); rc.SignedIn() {
		body["account"] = rc.Account
	}

	writeJSON(w, http.StatusOK, body)
}

// SignUp creates a password account and signs the session in.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	account, err := h.local.SignUp(r.Context(), req.Username, req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := h.signIn(w, r, account); err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, meResponse(account))
}

// SignIn checks a username and password and signs the session in.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	account, err := h.local.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := h.signIn(w, r, account); err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse(account))
}

func (h *AuthHandler) signIn(w http.ResponseWriter, r *http.Request, account *models.Account) error {
	rc := FromContext(r.Context())
	previous, err := rc.Session.Rotate()
	if err != nil {
		return err
	}

	rc.Session.SignIn(account.ID())
	rc.Session.Touch(h.ttl)
	if err := h.sessions.Save(r.Context(), rc.Session); err != nil {
		return err
	}
	if !rc.fresh {
		if err := h.sessions.Delete(r.Context(), previous); err != nil {
			h.logger.Warn("failed to delete previous session", "error", err)
		}
	}

	rc.Account = account
	rc.fresh = false
	session.SetCookie(w, rc.Session, h.secure)
	return nil
}

// SignOut discards the session and clears the cookie.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	rc := FromContext(r.Context())
	if !rc.fresh {
		if err := h.sessions.Delete(r.Context(), rc.Session.ID); err != nil {
			h.logger.Warn("failed to delete session", "error", err)
		}
	}
	rc.Session.SignOut()
	rc.Account = nil

	session.ClearCookie(w, h.secure)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the signed-in account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	rc, ok := requireAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse(rc.Account))
}

func meResponse(account *models.Account) map[string]any {
	caps := account.Capabilities()
	return map[string]any{
		"account":        account,
		"has_password":   caps.HasPassword,
		"spotify_linked": caps.HasExternalIdentity,
	}
}

// requireAccount answers 401 for anonymous requests.
func requireAccount(w http.ResponseWriter, r *http.Request) (*RequestContext, bool) {
	rc := FromContext(r.Context())
	if !rc.SignedIn() {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return nil, false
	}
	return rc, true
}
