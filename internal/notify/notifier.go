// Package notify delivers user notifications over Expo push and Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/user"
)

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// Message is a channel-neutral notification.
type Message struct {
	Title string
	Body  string
	// Data is handed to the mobile app, e.g. the recipe to open.
	Data map[string]string
}

// Markdown renders the message for chat channels.
func (m Message) Markdown() string {
	if m.Title == "" {
		return markdownEscaper.Replace(m.Body)
	}
	return fmt.Sprintf("*%s*\n%s", markdownEscaper.Replace(m.Title), markdownEscaper.Replace(m.Body))
}

// TokenStore is the subset of TokenRepository the notifier needs.
type TokenStore interface {
	ListForUser(ctx context.Context, userID string) ([]PushToken, error)
	Delete(ctx context.Context, token string) error
}

// Notifier fans a message out to every channel a user has.
type Notifier struct {
	tokens TokenStore
	push   Pusher
	chat   ChatSender
	log    *logrus.Entry
}

// NewNotifier builds a notifier. push and chat may be nil when the
// channel is not configured.
func NewNotifier(tokens TokenStore, push Pusher, chat ChatSender, log *logrus.Logger) *Notifier {
	return &Notifier{
		tokens: tokens,
		push:   push,
		chat:   chat,
		log:    log.WithField("component", "notifier"),
	}
}

// NotifyUser sends msg to u. A user without any reachable channel is a
// no-op. Once any channel delivered, failures on the others are only
// logged; otherwise the error joins every channel's failure.
func (n *Notifier) NotifyUser(ctx context.Context, u *user.User, msg Message) error {
	var (
		errs      []error
		delivered bool
	)
	if n.push != nil {
		sent, err := n.pushToUser(ctx, u.ID, msg)
		if err != nil {
			errs = append(errs, err)
		}
		delivered = sent
	}
	if n.chat != nil && u.TelegramChatID != nil {
		if err := n.chat.SendMarkdown(*u.TelegramChatID, msg.Markdown()); err != nil {
			errs = append(errs, err)
		} else {
			delivered = true
		}
	}

	err := errors.Join(errs...)
	if err != nil && delivered {
		n.log.WithError(err).WithField("user_id", u.ID).Warn("notification reached only some channels")
		return nil
	}
	return err
}

// SendChat delivers pre-rendered Markdown to the user's linked chat.
func (n *Notifier) SendChat(u *user.User, markdown string) error {
	if n.chat == nil {
		return apperr.NotConfigured("telegram")
	}
	if u.TelegramChatID == nil {
		return apperr.Validation("no telegram chat linked to this account")
	}
	return n.chat.SendMarkdown(*u.TelegramChatID, markdown)
}

// pushToUser reports whether any device accepted msg.
func (n *Notifier) pushToUser(ctx context.Context, userID string, msg Message) (bool, error) {
	tokens, err := n.tokens.ListForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(tokens) == 0 {
		return false, nil
	}

	msgs := make([]PushMessage, len(tokens))
	for i, t := range tokens {
		msgs[i] = PushMessage{To: t.Token, Title: msg.Title, Body: msg.Body, Data: msg.Data, Sound: "default"}
	}

	tickets, err := n.push.Push(ctx, msgs)
	if err != nil {
		return false, fmt.Errorf("failed to send push notification: %w", err)
	}

	delivered := 0
	var lastErr string
	for i, ticket := range tickets {
		if ticket.OK() {
			delivered++
			continue
		}
		token := msgs[i].To
		if ticket.Details.Error == ErrDeviceNotRegistered {
			if err := n.tokens.Delete(ctx, token); err != nil {
				n.log.WithError(err).Warn("failed to delete stale push token")
			} else {
				n.log.WithField("user_id", userID).Info("removed unregistered push token")
			}
			continue
		}
		lastErr = ticket.Message
		n.log.WithFields(logrus.Fields{"user_id": userID, "error": ticket.Details.Error}).
			Warnf("push ticket rejected: %s", ticket.Message)
	}
	if delivered == 0 && lastErr != "" {
		return false, fmt.Errorf("push notification rejected: %s", lastErr)
	}
	return delivered > 0, nil
}
