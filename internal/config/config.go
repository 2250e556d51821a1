package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds the configuration for the application.
type Config struct {
	Port       string `env:"PORT,default=8080"`
	BaseURL    string `env:"BASE_URL,default=http://localhost:8080"`
	WebAppURL  string `env:"WEB_APP_URL,default=http://localhost:3000"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
	LogFormat  string `env:"LOG_FORMAT,default=text"`
	CorsOrigin string `env:"CORS_ORIGINS"`

	DatabaseDriver string `env:"DATABASE_DRIVER,default=sqlite"`
	DatabaseURL    string `env:"DATABASE_URL"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default=720h"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GithubClientID     string `env:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `env:"GITHUB_CLIENT_SECRET"`

	// Stripe
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `env:"STRIPE_PRICE_ID"`

	// LLM
	LLMProvider       string `env:"LLM_PROVIDER,default=gemini"`
	GeminiAPIKey      string `env:"GEMINI_API_KEY"`
	GeminiModel       string `env:"GEMINI_MODEL,default=gemini-1.5-flash"`
	GroqAPIKey        string `env:"GROQ_API_KEY"`
	FreeAIGenerations int    `env:"FREE_AI_GENERATIONS,default=5"`

	// Notifications
	ExpoPushURL      string `env:"EXPO_PUSH_URL,default=https://exp.host/--/api/v2/push/send"`
	ExpoAccessToken  string `env:"EXPO_ACCESS_TOKEN"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	// TelegramWebhookSecret is the last path segment of the bot webhook;
	// the webhook is registered on startup when it is set.
	TelegramWebhookSecret string        `env:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramAdminChatID   int64         `env:"TELEGRAM_ADMIN_CHAT_ID"`
	CronSecret            string        `env:"CRON_SECRET"`
	NudgeSchedule         string        `env:"NUDGE_SCHEDULE"`
	NudgeAfter            time.Duration `env:"NUDGE_AFTER,default=72h"`
	NudgeBatchSize        int           `env:"NUDGE_BATCH_SIZE,default=200"`

	// Media
	S3Endpoint         string `env:"S3_ENDPOINT"`
	S3AccessKey        string `env:"S3_ACCESS_KEY"`
	S3SecretKey        string `env:"S3_SECRET_KEY"`
	S3Bucket           string `env:"S3_BUCKET"`
	S3Region           string `env:"S3_REGION"`
	S3UseSSL           bool   `env:"S3_USE_SSL,default=true"`
	RedisURL           string `env:"REDIS_URL"`
	ImageProxyMaxBytes int64  `env:"IMAGE_PROXY_MAX_BYTES,default=8388608"`

	RateLimitRPS   int `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST,default=20"`
}

// NewFromEnv creates a new Config object from environment variables,
// reading a .env file first when one exists.
func NewFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (want sqlite or postgres)", c.DatabaseDriver)
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET environment variable not set")
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET must be set when STRIPE_SECRET_KEY is")
	}
	switch c.LLMProvider {
	case "gemini", "groq":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q (want gemini or groq)", c.LLMProvider)
	}
	return nil
}

func (c *Config) OAuthEnabled(provider string) bool {
	switch provider {
	case "google":
		return c.GoogleClientID != "" && c.GoogleClientSecret != ""
	case "github":
		return c.GithubClientID != "" && c.GithubClientSecret != ""
	}
	return false
}

// StripeEnabled reports whether billing can run; webhooks are never
// accepted without a signing secret.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != "" && c.StripePriceID != "" && c.StripeWebhookSecret != ""
}

func (c *Config) LLMEnabled() bool {
	if c.LLMProvider == "groq" {
		return c.GroqAPIKey != ""
	}
	return c.GeminiAPIKey != ""
}

func (c *Config) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != "" && c.S3AccessKey != ""
}

func (c *Config) RedisEnabled() bool { return c.RedisURL != "" }

func (c *Config) TelegramEnabled() bool { return c.TelegramBotToken != "" }

// TelegramWebhookURL is where Telegram should push bot updates, or "" when
// the webhook is disabled.
func (c *Config) TelegramWebhookURL() string {
	if !c.TelegramEnabled() || c.TelegramWebhookSecret == "" {
		return ""
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/webhooks/telegram/" + c.TelegramWebhookSecret
}

// CorsOrigins splits CORS_ORIGINS on commas, falling back to the web app.
func (c *Config) CorsOrigins() []string {
	if strings.TrimSpace(c.CorsOrigin) == "" {
		return []string{c.WebAppURL}
	}
	var origins []string
	for _, o := range strings.Split(c.CorsOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
