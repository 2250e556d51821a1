package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database/dbtest"
	"recipe-box/internal/logging"
	"recipe-box/internal/user"
)

// fakeOAuthServer plays both the token endpoint and the profile API.
func fakeOAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := http.NewServeMux()
	srv.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}
	srv.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			w.Write([]byte(`{"sub":"g-123","email":"Cook@Example.com","email_verified":true,"name":"Cook","picture":"https://img/cook.png"}`))
		}
	})
	srv.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			w.Write([]byte(`{"id":42,"login":"octocook","name":"","email":null,"avatar_url":"https://img/octo.png"}`))
		}
	})
	srv.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			w.Write([]byte(`[{"email":"old@example.com","primary":false,"verified":true},
				{"email":"octo@example.com","primary":true,"verified":true},
				{"email":"spam@example.com","primary":false,"verified":false}]`))
		}
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func testProvider(name string, ts *httptest.Server) *OAuthProvider {
	cfg := ProviderConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://api.test/auth/" + name + "/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/authorize",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: ts.URL + "/userinfo",
	}
	if name == "github" {
		cfg.UserInfoURL = ts.URL + "/user"
		cfg.EmailsURL = ts.URL + "/user/emails"
	}
	return NewProvider(name, cfg)
}

type fixture struct {
	handler  *Handler
	router   *mux.Router
	sessions *user.SessionRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ts := fakeOAuthServer(t)
	db := dbtest.New(t)
	sessions := user.NewSessionRepository(db)
	h := NewHandler(newTestIssuer(t), user.NewRepository(db), sessions,
		Config{SessionTTL: time.Hour, WebAppURL: "http://web.test/"},
		logging.Discard(), testProvider("google", ts), testProvider("github", ts))

	r := mux.NewRouter()
	r.HandleFunc("/auth/{provider}/login", h.Login).Methods(http.MethodGet)
	r.HandleFunc("/auth/{provider}/callback", h.Callback).Methods(http.MethodGet)
	r.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	return &fixture{handler: h, router: r, sessions: sessions}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// login runs the redirect leg and returns the state and nonce cookie.
func (f *fixture) login(t *testing.T, provider, returnTo string) (string, *http.Cookie) {
	t.Helper()
	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/"+provider+"/login?return_to="+url.QueryEscape(returnTo), nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", loc.Path)
	assert.Equal(t, "client", loc.Query().Get("client_id"))

	nonce := cookieNamed(rec, nonceCookie)
	require.NotNil(t, nonce)
	assert.True(t, nonce.HttpOnly)
	return loc.Query().Get("state"), nonce
}

func callbackRequest(provider, state, code string, nonce *http.Cookie) *http.Request {
	q := url.Values{"state": {state}, "code": {code}}
	req := httptest.NewRequest(http.MethodGet, "/auth/"+provider+"/callback?"+q.Encode(), nil)
	if nonce != nil {
		req.AddCookie(nonce)
	}
	return req
}

func TestLoginFlow_Browser(t *testing.T) {
	f := newFixture(t)
	state, nonce := f.login(t, "google", "/recipes")

	rec := f.do(callbackRequest("google", state, "good-code", nonce))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "http://web.test/recipes", rec.Header().Get("Location"))

	session := cookieNamed(rec, SessionCookie)
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)

	userID, err := f.handler.Authenticate(context.Background(), session.Value)
	require.NoError(t, err)
	assert.NotEmpty(t, userID)
}

func TestLoginFlow_JSONAndGitHubEmails(t *testing.T) {
	f := newFixture(t)
	state, nonce := f.login(t, "github", "")

	req := callbackRequest("github", state, "good-code", nonce)
	req.Header.Set("Accept", "application/json")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "octo@example.com", body.User.Email)
	assert.Equal(t, "octocook", body.User.Name)

	userID, err := f.handler.Authenticate(context.Background(), body.Token)
	require.NoError(t, err)
	assert.Equal(t, body.User.ID, userID)
}

func TestCallbackErrors(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown provider", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/myspace/login", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing nonce cookie", func(t *testing.T) {
		state, _ := f.login(t, "google", "/")
		rec := f.do(callbackRequest("google", state, "good-code", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("state for another provider", func(t *testing.T) {
		state, nonce := f.login(t, "github", "/")
		rec := f.do(callbackRequest("google", state, "good-code", nonce))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("provider denied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied", nil)
		rec := f.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("code exchange fails", func(t *testing.T) {
		state, nonce := f.login(t, "google", "/")
		rec := f.do(callbackRequest("google", state, "bad-code", nonce))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "EXTERNAL_SERVICE"))
	})
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newFixture(t)
	state, nonce := f.login(t, "google", "/")
	rec := f.do(callbackRequest("google", state, "good-code", nonce))
	token := cookieNamed(rec, SessionCookie).Value

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, -1, cookieNamed(rec, SessionCookie).MaxAge)

	_, err := f.handler.Authenticate(context.Background(), token)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	// Logging out again is harmless.
	rec = f.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(req))

	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", TokenFromRequest(req))
}
