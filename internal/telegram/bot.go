// Package telegram serves the bot webhook: linking a chat to an account,
// clipping recipe links sent to the bot and the admin usage report.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/metrics"
	"recipe-box/internal/notify"
	"recipe-box/internal/recipe"
	"recipe-box/internal/user"
)

const processTimeout = 2 * time.Minute

// Users is the slice of user.Repository the bot needs.
type Users interface {
	GetByTelegramChat(ctx context.Context, chatID int64) (*user.User, error)
	LinkTelegramChat(ctx context.Context, userID string, chatID int64) error
	SetTelegramChat(ctx context.Context, userID string, chatID *int64) error
}

// LinkCodes verifies the code carried by a /start deep link.
type LinkCodes interface {
	ParseLinkCode(code string) (string, error)
}

// Importer saves the recipe found at a URL into a user's box.
type Importer interface {
	ImportURL(ctx context.Context, userID, pageURL string) (*recipe.Recipe, error)
}

// UsageReporter reads LLM token usage for the admin report.
type UsageReporter interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
}

type Config struct {
	// AdminChatID may request /usage; zero disables the command.
	AdminChatID int64
	DataDir     string
}

// Bot handles updates pushed to the webhook.
type Bot struct {
	chat     notify.ChatSender
	users    Users
	links    LinkCodes
	importer Importer
	usage    UsageReporter
	cfg      Config
	log      *logrus.Entry
	wg       sync.WaitGroup
}

func NewBot(chat notify.ChatSender, users Users, links LinkCodes, importer Importer, usage UsageReporter, cfg Config, log *logrus.Logger) *Bot {
	return &Bot{
		chat:     chat,
		users:    users,
		links:    links,
		importer: importer,
		usage:    usage,
		cfg:      cfg,
		log:      log.WithField("component", "telegram"),
	}
}

// HandleWebhook acknowledges an update at once and processes it in the
// background, since clipping can outlast Telegram's webhook timeout.
func (b *Bot) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&update); err != nil {
		b.log.WithError(err).Warn("failed to parse update")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	msg := update.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		b.process(ctx, msg.Chat.ID, msg.Text)
	}()
}

// Wait blocks until every update in flight has been processed.
func (b *Bot) Wait() { b.wg.Wait() }

func (b *Bot) process(ctx context.Context, chatID int64, text string) {
	fields := strings.Fields(text)
	first := fields[0]

	if strings.HasPrefix(first, "/") {
		command, _, _ := strings.Cut(strings.TrimPrefix(first, "/"), "@")
		var arg string
		if len(fields) > 1 {
			arg = fields[1]
		}
		switch strings.ToLower(command) {
		case "start":
			b.handleStart(ctx, chatID, arg)
		case "stop":
			b.handleStop(ctx, chatID)
		case "usage":
			b.handleUsage(ctx, chatID)
		default:
			b.reply(chatID, helpText)
		}
		return
	}

	if recipe.IsWebURL(first) {
		b.handleClip(ctx, chatID, first)
		return
	}
	b.reply(chatID, helpText)
}

const helpText = "👋 Send me a link to a recipe and I'll save it to your recipe box.\n\n" +
	"/start - link this chat from the app\n/stop - unlink this chat"

func (b *Bot) handleStart(ctx context.Context, chatID int64, code string) {
	if code == "" {
		b.reply(chatID, "👋 Open *Settings → Telegram* in the app to link this chat.")
		return
	}
	userID, err := b.links.ParseLinkCode(code)
	if err != nil {
		b.reply(chatID, "❌ That link is invalid or has expired. Get a new one from the app.")
		return
	}
	if err := b.users.LinkTelegramChat(ctx, userID, chatID); err != nil {
		b.log.WithError(err).WithField("user_id", userID).Error("failed to link chat")
		b.reply(chatID, "❌ Something went wrong linking this chat. Please try again.")
		return
	}
	b.log.WithField("user_id", userID).Info("telegram chat linked")
	b.reply(chatID, "✅ *Linked!* Send me a recipe link and I'll save it. Cooking reminders will arrive here too.")
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	u, ok := b.linkedUser(ctx, chatID)
	if !ok {
		return
	}
	if err := b.users.SetTelegramChat(ctx, u.ID, nil); err != nil {
		b.log.WithError(err).WithField("user_id", u.ID).Error("failed to unlink chat")
		b.reply(chatID, "❌ Something went wrong. Please try again.")
		return
	}
	b.reply(chatID, "👋 This chat is no longer linked.")
}

func (b *Bot) handleClip(ctx context.Context, chatID int64, pageURL string) {
	u, ok := b.linkedUser(ctx, chatID)
	if !ok {
		return
	}
	b.reply(chatID, "✂️ *Clipping recipe...*")

	rec, err := b.importer.ImportURL(ctx, u.ID, pageURL)
	if err != nil {
		appErr := apperr.From(err)
		entry := b.log.WithError(err).WithField("user_id", u.ID)
		if appErr.HTTPStatus() >= http.StatusInternalServerError {
			entry.Error("failed to clip recipe")
		} else {
			entry.Info("recipe not clipped")
		}
		b.reply(chatID, fmt.Sprintf("❌ *Couldn't save that recipe:* %s", escape(appErr.PublicMessage())))
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ *Recipe saved!*\n\n*%s*\n%d ingredients, %d steps",
		escape(rec.Title), len(rec.Ingredients), len(rec.Steps)))
}

// handleUsage reports LLM usage and process health to the admin chat.
func (b *Bot) handleUsage(ctx context.Context, chatID int64) {
	if b.cfg.AdminChatID == 0 || chatID != b.cfg.AdminChatID {
		b.reply(chatID, "⛔ *Access Denied*: Admin only.")
		return
	}
	usage, err := b.usage.GetDailyUsage(ctx, 7)
	if err != nil {
		b.log.WithError(err).Error("failed to read usage")
		b.reply(chatID, "❌ Error fetching metrics.")
		return
	}
	b.reply(chatID, FormatUsageReport(usage, metrics.GetSysHealth(b.cfg.DataDir)))
}

// FormatUsageReport renders daily token usage and process health.
func FormatUsageReport(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&sb, "• *%s*: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution)
	}

	sb.WriteString("\n🧠 *System Health*\n")
	fmt.Fprintf(&sb, "• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB)
	fmt.Fprintf(&sb, "• Goroutines: %d\n", health.Goroutines)
	fmt.Fprintf(&sb, "• Uptime: %s\n", health.Uptime)
	if health.DataSize != "" {
		fmt.Fprintf(&sb, "• Disk Data: %s\n", health.DataSize)
	}
	return sb.String()
}

func (b *Bot) linkedUser(ctx context.Context, chatID int64) (*user.User, bool) {
	u, err := b.users.GetByTelegramChat(ctx, chatID)
	if err == nil {
		return u, true
	}
	if apperr.Is(err, apperr.KindNotFound) {
		b.reply(chatID, "🔗 This chat isn't linked yet. Open *Settings → Telegram* in the app to link it.")
	} else {
		b.log.WithError(err).Error("failed to look up chat owner")
		b.reply(chatID, "❌ Something went wrong. Please try again.")
	}
	return nil, false
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.chat.SendMarkdown(chatID, text); err != nil {
		b.log.WithError(err).WithField("chat_id", chatID).Warn("failed to reply")
	}
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escape(s string) string { return markdownEscaper.Replace(s) }
