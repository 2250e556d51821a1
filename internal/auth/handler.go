package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/httputil"
	"recipe-box/internal/logging"
	"recipe-box/internal/user"
)

// SessionCookie holds the session token for browser clients.
const SessionCookie = "session"

// UserStore links OAuth identities to accounts.
type UserStore interface {
	UpsertFromOAuth(ctx context.Context, id user.Identity) (*user.User, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, userID, userAgent string, ttl time.Duration) (*user.Session, error)
	GetActiveSession(ctx context.Context, id string, now time.Time) (*user.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Config configures the login handlers.
type Config struct {
	SessionTTL time.Duration
	WebAppURL  string
	// SecureCookies marks cookies Secure; set when served over https.
	SecureCookies bool
}

// Handler serves the OAuth login flow and verifies session tokens.
type Handler struct {
	providers map[string]Provider
	users     UserStore
	sessions  SessionStore
	issuer    *Issuer
	cfg       Config
	log       *logrus.Logger
}

func NewHandler(issuer *Issuer, users UserStore, sessions SessionStore, cfg Config, log *logrus.Logger, providers ...Provider) *Handler {
	h := &Handler{
		providers: make(map[string]Provider, len(providers)),
		users:     users,
		sessions:  sessions,
		issuer:    issuer,
		cfg:       cfg,
		log:       log,
	}
	for _, p := range providers {
		h.providers[p.Name()] = p
	}
	return h
}

// Providers lists the configured provider names.
func (h *Handler) Providers() []string {
	names := make([]string, 0, len(h.providers))
	for name := range h.providers {
		names = append(names, name)
	}
	return names
}

func (h *Handler) provider(r *http.Request) (Provider, error) {
	name := mux.Vars(r)["provider"]
	p, ok := h.providers[name]
	if !ok {
		return nil, apperr.NotFound("login provider", name)
	}
	return p, nil
}

// Login redirects to the provider's consent page.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	p, err := h.provider(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	state, nonce, err := h.issuer.IssueState(p.Name(), r.URL.Query().Get("return_to"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookie,
		Value:    nonce,
		Path:     "/auth",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *user.User `json:"user"`
}

// Callback completes the login: it checks the state, resolves the
// identity, opens a session and hands the token to the client.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.provider(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		httputil.WriteError(w, r, apperr.Unauthenticated("login was cancelled: %s", e))
		return
	}

	var nonce string
	if c, err := r.Cookie(nonceCookie); err == nil {
		nonce = c.Value
	}
	state, err := h.issuer.ParseState(q.Get("state"), p.Name(), nonce)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: nonceCookie, Path: "/auth", MaxAge: -1, HttpOnly: true})

	identity, err := p.Identity(ctx, q.Get("code"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	u, err := h.users.UpsertFromOAuth(ctx, identity)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	session, err := h.sessions.CreateSession(ctx, u.ID, r.UserAgent(), h.cfg.SessionTTL)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	token, err := h.issuer.Issue(u.ID, session.ID, session.ExpiresAt)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	logging.FromContext(ctx).WithFields(logrus.Fields{
		"provider": p.Name(),
		"user_id":  u.ID,
	}).Info("user logged in")

	if wantsJSON(r) {
		httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: session.ExpiresAt, User: u})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, strings.TrimSuffix(h.cfg.WebAppURL, "/")+state.Return, http.StatusFound)
}

// Logout revokes the caller's session. It succeeds without a session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, err := h.issuer.Parse(TokenFromRequest(r)); err == nil {
		if err := h.sessions.DeleteSession(r.Context(), claims.SessionID); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Authenticate resolves a session token to its user ID. Tokens of
// revoked or expired sessions are rejected.
func (h *Handler) Authenticate(ctx context.Context, token string) (string, error) {
	claims, err := h.issuer.Parse(token)
	if err != nil {
		return "", err
	}
	session, err := h.sessions.GetActiveSession(ctx, claims.SessionID, h.issuer.now())
	if err != nil {
		return "", err
	}
	if session.UserID != claims.UserID() {
		return "", apperr.Unauthenticated("invalid token")
	}
	return session.UserID, nil
}

// TokenFromRequest reads the session token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if token := httputil.BearerToken(r); token != "" {
		return token
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func wantsJSON(r *http.Request) bool {
	return r.URL.Query().Get("response") == "json" ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
