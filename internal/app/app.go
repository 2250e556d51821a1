// Package app builds the service from its configuration and owns the
// flows that span several packages.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"recipe-box/internal/assistant"
	"recipe-box/internal/auth"
	"recipe-box/internal/billing"
	"recipe-box/internal/clipper"
	"recipe-box/internal/config"
	"recipe-box/internal/database"
	"recipe-box/internal/httpapi"
	"recipe-box/internal/llm"
	"recipe-box/internal/media"
	"recipe-box/internal/metrics"
	"recipe-box/internal/middleware"
	"recipe-box/internal/netguard"
	"recipe-box/internal/notify"
	"recipe-box/internal/nudge"
	"recipe-box/internal/recipe"
	"recipe-box/internal/shopping"
	"recipe-box/internal/telegram"
	"recipe-box/internal/user"
)

const (
	nudgeTimeout           = 10 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
	sessionCleanupInterval = time.Hour
)

// Integrations are the outside services the app talks to. A nil field
// disables the feature that needs it.
type Integrations struct {
	TextGen     llm.TextGenerator
	Push        notify.Pusher
	Chat        notify.ChatSender
	BotUsername string
	Checkout    billing.CheckoutProvider
	Objects     media.ObjectStore
	ImageCache  media.ImageCache
	// HTTPClient fetches user-supplied URLs. It defaults to a client that
	// refuses private addresses.
	HTTPClient *http.Client
}

// App holds the application's dependencies.
type App struct {
	cfg *config.Config
	log *logrus.Logger
	db  *database.DB

	Users      *user.Repository
	Sessions   *user.SessionRepository
	Recipes    *recipe.Repository
	Lists      *shopping.Repository
	PushTokens *notify.TokenRepository
	Usage      *metrics.Store

	Issuer   *auth.Issuer
	Auth     *auth.Handler
	Notifier *notify.Notifier
	Nudge    *nudge.Job
	Billing  *billing.Service
	Uploads  *media.Uploads
	Proxy    *media.Proxy
	Bot      *telegram.Bot

	clipper   *clipper.Clipper
	generator *assistant.Generator
	scheduler *nudge.Scheduler
	limiter   *middleware.RateLimiter
	handler   http.Handler
	closers   []func() error
}

// New opens the database, connects the configured integrations and
// assembles the app. It registers the Telegram webhook and creates the
// photo bucket when missing.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	return open(ctx, cfg, log, true)
}

// NewOffline assembles the app like New but leaves the remote setup alone.
// One-shot commands use it so they never re-point the bot's webhook.
func NewOffline(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	return open(ctx, cfg, log, false)
}

func open(ctx context.Context, cfg *config.Config, log *logrus.Logger, provision bool) (*App, error) {
	db, err := database.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		db.Close()
		return nil, err
	}

	in := Integrations{Push: notify.NewExpoClient(cfg)}

	textGen, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("failed to init llm: %w", err))
	}
	if textGen != nil {
		in.TextGen = textGen
		if c, ok := textGen.(llm.Closer); ok {
			closers = append(closers, c.Close)
		}
	} else {
		log.Warn("no LLM API key configured, recipe generation and LLM extraction are disabled")
	}

	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegramSender(cfg.TelegramBotToken)
		if err != nil {
			return fail(err)
		}
		if url := cfg.TelegramWebhookURL(); provision && url != "" {
			if err := tg.SetWebhook(url); err != nil {
				return fail(err)
			}
		}
		in.Chat = tg
		in.BotUsername = tg.Username()
	}

	if cfg.StripeEnabled() {
		in.Checkout = billing.NewStripeProvider(cfg.StripeSecretKey, nil)
	}

	if cfg.S3Enabled() {
		store, err := media.NewS3Store(media.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return fail(err)
		}
		if provision {
			if err := store.EnsureBucket(ctx); err != nil {
				return fail(err)
			}
		}
		in.Objects = store
	}

	if cfg.RedisEnabled() {
		cache, err := media.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, cache.Close)
		if err := cache.Ping(ctx); err != nil {
			// The proxy works without its cache.
			log.WithError(err).Warn("redis unreachable, image cache disabled")
		} else {
			in.ImageCache = cache
		}
	}

	a, err := Assemble(cfg, log, db, in)
	if err != nil {
		return fail(err)
	}
	a.closers = closers
	return a, nil
}

// Assemble builds the app on an open database. Tests use it to swap the
// integrations for fakes.
func Assemble(cfg *config.Config, log *logrus.Logger, db *database.DB, in Integrations) (*App, error) {
	a := &App{
		cfg:        cfg,
		log:        log,
		db:         db,
		Users:      user.NewRepository(db),
		Sessions:   user.NewSessionRepository(db),
		Recipes:    recipe.NewRepository(db),
		Lists:      shopping.NewRepository(db),
		PushTokens: notify.NewTokenRepository(db),
		Usage:      metrics.NewStore(db),
	}

	issuer, err := auth.NewIssuer(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	a.Issuer = issuer

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	var providers []auth.Provider
	if cfg.OAuthEnabled("google") {
		providers = append(providers, auth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, base+"/auth/google/callback"))
	}
	if cfg.OAuthEnabled("github") {
		providers = append(providers, auth.NewGitHub(cfg.GithubClientID, cfg.GithubClientSecret, base+"/auth/github/callback"))
	}
	if len(providers) == 0 {
		log.Warn("no OAuth provider configured, nobody can log in")
	}
	a.Auth = auth.NewHandler(issuer, a.Users, a.Sessions, auth.Config{
		SessionTTL:    cfg.SessionTTL,
		WebAppURL:     cfg.WebAppURL,
		SecureCookies: strings.HasPrefix(base, "https://"),
	}, log, providers...)

	httpClient := in.HTTPClient
	if httpClient == nil {
		httpClient = netguard.NewClient(netguard.Options{})
	}

	var extractor *assistant.Extractor
	if in.TextGen != nil {
		extractor = assistant.NewExtractor(in.TextGen)
		a.generator = assistant.NewGenerator(in.TextGen, a.Usage, cfg.FreeAIGenerations)
	}
	a.clipper = clipper.NewClipper(httpClient, extractor)

	a.Notifier = notify.NewNotifier(a.PushTokens, in.Push, in.Chat, log)
	a.Nudge = nudge.NewJob(a.Recipes, a.Users, a.Notifier, cfg.NudgeAfter, cfg.NudgeBatchSize, log)
	if cfg.NudgeSchedule != "" {
		a.scheduler, err = nudge.NewScheduler(a.Nudge, cfg.NudgeSchedule, nudgeTimeout, log)
		if err != nil {
			return nil, err
		}
	}

	if in.Checkout != nil {
		a.Billing = billing.NewService(in.Checkout, a.Users, billing.NewEventRepository(db), billing.Config{
			PriceID:       cfg.StripePriceID,
			WebhookSecret: cfg.StripeWebhookSecret,
			WebAppURL:     cfg.WebAppURL,
		}, log)
	}

	a.Uploads = media.NewUploads(in.Objects, a.Recipes, log)
	a.Proxy = media.NewProxy(httpClient, in.ImageCache, cfg.ImageProxyMaxBytes, log)

	if in.Chat != nil {
		a.Bot = telegram.NewBot(in.Chat, a.Users, issuer, a, a.Usage, telegram.Config{
			AdminChatID: cfg.TelegramAdminChatID,
			DataDir:     a.DataDir(),
		}, log)
	}

	a.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	a.handler = httpapi.NewRouter(httpapi.Deps{
		Config:      cfg,
		Log:         log,
		DB:          db,
		DataDir:     a.DataDir(),
		Users:       a.Users,
		Recipes:     a.Recipes,
		Lists:       a.Lists,
		PushTokens:  a.PushTokens,
		Library:     a,
		Auth:        a.Auth,
		LinkCodes:   issuer,
		BotUsername: in.BotUsername,
		Notifier:    a.Notifier,
		Nudge:       a.Nudge,
		Billing:     a.Billing,
		Uploads:     a.Uploads,
		Proxy:       a.Proxy,
		Bot:         a.Bot,
		Limiter:     a.limiter,
	})
	return a, nil
}

// Handler is the HTTP entry point.
func (a *App) Handler() http.Handler { return a.handler }

// DB exposes the connection for commands that work on it directly.
func (a *App) DB() *database.DB { return a.db }

// Config returns the settings the app was assembled with.
func (a *App) Config() *config.Config { return a.cfg }

// RunBackground runs the nudge schedule and periodic housekeeping until
// ctx is done, then waits for in-flight work.
func (a *App) RunBackground(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Start()
		a.log.WithField("schedule", a.cfg.NudgeSchedule).Info("cook nudge scheduled")
	}
	a.limiter.StartCleanup(ctx, limiterCleanupInterval)

	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if a.scheduler != nil {
				<-a.scheduler.Stop().Done()
			}
			return nil
		case <-ticker.C:
			n, err := a.Sessions.CleanupExpiredSessions(ctx)
			if err != nil {
				a.log.WithError(err).Warn("session cleanup failed")
				continue
			}
			if n > 0 {
				a.log.WithField("deleted", n).Debug("expired sessions removed")
			}
		}
	}
}

// Close waits for bot replies still in flight, then releases the
// integrations and the database. Call it after the HTTP server has shut
// down so no webhook can start new replies.
func (a *App) Close() error {
	if a.Bot != nil {
		a.Bot.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("failed to close integration")
		}
	}
	return a.db.Close()
}

// DataDir is the directory of the sqlite file, reported by health checks.
func (a *App) DataDir() string {
	return DataDir(a.cfg)
}

// DataDir returns the directory holding the sqlite file, or "" when cfg
// points at a server database.
func DataDir(cfg *config.Config) string {
	if cfg.DatabaseDriver != database.DriverSQLite {
		return ""
	}
	return filepath.Dir(cfg.DatabaseURL)
}
