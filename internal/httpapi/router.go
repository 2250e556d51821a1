// Package httpapi exposes the service over HTTP: the JSON API used by the
// web and mobile clients, plus webhooks, cron triggers and the image
// endpoint.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/archive"
	"recipe-box/internal/assistant"
	"recipe-box/internal/auth"
	"recipe-box/internal/billing"
	"recipe-box/internal/config"
	"recipe-box/internal/database"
	"recipe-box/internal/httputil"
	"recipe-box/internal/media"
	"recipe-box/internal/metrics"
	"recipe-box/internal/middleware"
	"recipe-box/internal/notify"
	"recipe-box/internal/nudge"
	"recipe-box/internal/recipe"
	"recipe-box/internal/shopping"
	"recipe-box/internal/telegram"
	"recipe-box/internal/user"
)

// Library runs the recipe flows that span several services.
type Library interface {
	ImportURL(ctx context.Context, userID, pageURL string) (*recipe.Recipe, error)
	ImportZip(ctx context.Context, userID string, r io.ReaderAt, size int64) (*archive.Report, error)
	ExportZip(ctx context.Context, userID string, w io.Writer) error
	Generate(ctx context.Context, userID string, req assistant.GenerateRequest) (*recipe.Recipe, int, error)
	Remaining(ctx context.Context, u *user.User) (int, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// LinkCodes issues the codes that link a Telegram chat to an account.
type LinkCodes interface {
	IssueLinkCode(userID string, ttl time.Duration) (string, time.Time, error)
}

// Deps is everything the handlers use. Billing and Bot are nil when their
// integration is not configured.
type Deps struct {
	Config  *config.Config
	Log     *logrus.Logger
	DB      *database.DB
	DataDir string

	Users      *user.Repository
	Recipes    *recipe.Repository
	Lists      *shopping.Repository
	PushTokens *notify.TokenRepository
	Library    Library

	Auth        *auth.Handler
	LinkCodes   LinkCodes
	BotUsername string
	Notifier    *notify.Notifier
	Nudge       *nudge.Job
	Billing     *billing.Service
	Uploads     *media.Uploads
	Proxy       *media.Proxy
	Bot         *telegram.Bot
	Limiter     *middleware.RateLimiter
}

type api struct {
	Deps
}

// NewRouter builds the HTTP handler with every route and middleware.
func NewRouter(d Deps) http.Handler {
	a := &api{Deps: d}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(a.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(a.methodNotAllowed)
	r.Use(metrics.InstrumentHandler)

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Anonymous routes are limited per client IP.
	limited := func(h http.HandlerFunc) http.Handler { return d.Limiter.Handler(h) }
	r.Handle("/image", limited(a.image)).Methods(http.MethodGet)
	r.Handle("/auth/{provider}/login", limited(d.Auth.Login)).Methods(http.MethodGet)
	r.Handle("/auth/{provider}/callback", limited(d.Auth.Callback)).Methods(http.MethodGet)
	r.Handle("/auth/logout", limited(d.Auth.Logout)).Methods(http.MethodPost)

	r.HandleFunc("/webhooks/stripe", a.stripeWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/telegram/{secret}", a.telegramWebhook).Methods(http.MethodPost)
	r.HandleFunc("/cron/cook-nudge", a.cookNudge).Methods(http.MethodPost)

	s := r.PathPrefix("/api").Subrouter()
	s.Use(middleware.NewAuthMiddleware(d.Auth).Handler, d.Limiter.Handler)

	s.HandleFunc("/me", a.getMe).Methods(http.MethodGet)
	s.HandleFunc("/me", a.deleteMe).Methods(http.MethodDelete)
	s.HandleFunc("/me/telegram/link", a.linkTelegram).Methods(http.MethodPost)
	s.HandleFunc("/me/telegram", a.unlinkTelegram).Methods(http.MethodDelete)

	// Fixed paths first so {id} does not swallow them.
	s.HandleFunc("/recipes/export", a.exportRecipes).Methods(http.MethodGet)
	s.HandleFunc("/recipes/import/url", a.importURL).Methods(http.MethodPost)
	s.HandleFunc("/recipes/import/zip", a.importZip).Methods(http.MethodPost)
	s.HandleFunc("/recipes/generate", a.generateRecipe).Methods(http.MethodPost)
	s.HandleFunc("/recipes", a.listRecipes).Methods(http.MethodGet)
	s.HandleFunc("/recipes", a.createRecipe).Methods(http.MethodPost)
	s.HandleFunc("/recipes/{id}", a.getRecipe).Methods(http.MethodGet)
	s.HandleFunc("/recipes/{id}", a.updateRecipe).Methods(http.MethodPut)
	s.HandleFunc("/recipes/{id}", a.deleteRecipe).Methods(http.MethodDelete)
	s.HandleFunc("/recipes/{id}/cooked", a.markCooked).Methods(http.MethodPost)
	s.HandleFunc("/recipes/{id}/image", a.uploadImage).Methods(http.MethodPost)
	s.HandleFunc("/recipes/{id}/ingredients", a.addIngredient).Methods(http.MethodPost)
	s.HandleFunc("/recipes/{id}/ingredients/{ingredientID}", a.updateIngredient).Methods(http.MethodPut)
	s.HandleFunc("/recipes/{id}/ingredients/{ingredientID}", a.deleteIngredient).Methods(http.MethodDelete)

	s.HandleFunc("/shopping-lists", a.listLists).Methods(http.MethodGet)
	s.HandleFunc("/shopping-lists", a.createList).Methods(http.MethodPost)
	s.HandleFunc("/shopping-lists/{id}", a.getList).Methods(http.MethodGet)
	s.HandleFunc("/shopping-lists/{id}", a.renameList).Methods(http.MethodPut)
	s.HandleFunc("/shopping-lists/{id}", a.deleteList).Methods(http.MethodDelete)
	s.HandleFunc("/shopping-lists/{id}/items", a.addItem).Methods(http.MethodPost)
	s.HandleFunc("/shopping-lists/{id}/items/{itemID}", a.updateItem).Methods(http.MethodPatch)
	s.HandleFunc("/shopping-lists/{id}/items/{itemID}", a.deleteItem).Methods(http.MethodDelete)
	s.HandleFunc("/shopping-lists/{id}/recipes/{recipeID}", a.addRecipeToList).Methods(http.MethodPost)
	s.HandleFunc("/shopping-lists/{id}/clear-checked", a.clearChecked).Methods(http.MethodPost)
	s.HandleFunc("/shopping-lists/{id}/send", a.sendList).Methods(http.MethodPost)

	s.HandleFunc("/push-tokens", a.registerPushToken).Methods(http.MethodPost)
	s.HandleFunc("/push-tokens/{token}", a.unregisterPushToken).Methods(http.MethodDelete)

	s.HandleFunc("/billing/checkout", a.checkout).Methods(http.MethodPost)
	s.HandleFunc("/billing/portal", a.portal).Methods(http.MethodPost)

	// mux middleware only sees matched routes, so these wrap the router.
	var h http.Handler = r
	h = middleware.NewCORSMiddleware(d.Config.CorsOrigins()).Handler(h)
	h = middleware.Recover(h)
	h = middleware.NewTracingMiddleware(d.Log).Handler(h)
	return h
}

func (a *api) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, r, apperr.NotFound("route", r.URL.Path))
}

func (a *api) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: httputil.ErrorDetail{
		Code:    "METHOD_NOT_ALLOWED",
		Message: r.Method + " is not allowed on " + r.URL.Path,
	}})
}

func userID(r *http.Request) string {
	return middleware.UserID(r.Context())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return httputil.DecodeJSON(w, r, v, httputil.DefaultBodyLimit)
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
