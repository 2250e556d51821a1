// Package billing runs Stripe checkout, the customer portal and the
// subscription webhooks that keep a user's plan current.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"recipe-box/internal/apperr"
	"recipe-box/internal/user"
)

const metadataUserID = "user_id"

type UserStore interface {
	Get(ctx context.Context, id string) (*user.User, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*user.User, error)
	SetStripeCustomer(ctx context.Context, userID, customerID string) error
	UpdateSubscription(ctx context.Context, userID string, s user.SubscriptionUpdate) error
}

type EventStore interface {
	Seen(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, id, eventType string) error
}

// Config carries the Stripe settings the service needs.
type Config struct {
	PriceID       string
	WebhookSecret string
	WebAppURL     string
}

// Service orchestrates billing flows.
type Service struct {
	provider CheckoutProvider
	users    UserStore
	events   EventStore
	cfg      Config
	log      *logrus.Entry
}

func NewService(provider CheckoutProvider, users UserStore, events EventStore, cfg Config, log *logrus.Logger) *Service {
	cfg.WebAppURL = strings.TrimRight(cfg.WebAppURL, "/")
	return &Service{
		provider: provider,
		users:    users,
		events:   events,
		cfg:      cfg,
		log:      log.WithField("component", "billing"),
	}
}

// Checkout returns the URL of a hosted checkout page for the pro plan.
func (s *Service) Checkout(ctx context.Context, u *user.User) (string, error) {
	if u.IsPro() {
		return "", apperr.Conflict("already subscribed")
	}
	url, err := s.provider.NewCheckoutSession(ctx, CheckoutRequest{
		UserID:     u.ID,
		Email:      u.Email,
		CustomerID: u.CustomerID(),
		PriceID:    s.cfg.PriceID,
		SuccessURL: s.cfg.WebAppURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.WebAppURL + "/billing",
	})
	if err != nil {
		return "", apperr.External("stripe", err)
	}
	return url, nil
}

// Portal returns the URL of the Stripe customer portal.
func (s *Service) Portal(ctx context.Context, u *user.User) (string, error) {
	customerID := u.CustomerID()
	if customerID == "" {
		return "", apperr.Validation("no subscription to manage")
	}
	url, err := s.provider.NewPortalSession(ctx, customerID, s.cfg.WebAppURL+"/billing")
	if err != nil {
		return "", apperr.External("stripe", err)
	}
	return url, nil
}

// HandleWebhook verifies and applies a Stripe event. Events already
// processed are acknowledged without being applied again.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	if s.cfg.WebhookSecret == "" {
		return apperr.NotConfigured("stripe webhook")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return apperr.Validation("invalid webhook signature")
	}

	seen, err := s.events.Seen(ctx, event.ID)
	if err != nil {
		return err
	}
	log := s.log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})
	if seen {
		log.Info("duplicate stripe event ignored")
		return nil
	}

	switch event.Type {
	case "checkout.session.completed":
		err = s.checkoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		err = s.subscriptionChanged(ctx, event)
	default:
		log.Debug("unhandled stripe event")
	}
	if err != nil {
		return err
	}
	return s.events.Record(ctx, event.ID, string(event.Type))
}

func (s *Service) checkoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return apperr.Validation("malformed checkout session")
	}
	if session.ClientReferenceID == "" || session.Customer == nil {
		s.log.WithField("event_id", event.ID).Warn("checkout session without user reference")
		return nil
	}

	userID := session.ClientReferenceID
	if err := s.users.SetStripeCustomer(ctx, userID, session.Customer.ID); err != nil {
		return err
	}
	if session.Subscription == nil {
		return nil
	}

	status := string(session.Subscription.Status)
	if status == "" {
		status = checkoutStatus(session.PaymentStatus)
	}
	return s.users.UpdateSubscription(ctx, userID, user.SubscriptionUpdate{
		CustomerID:     session.Customer.ID,
		SubscriptionID: session.Subscription.ID,
		Status:         status,
	})
}

func checkoutStatus(ps stripe.CheckoutSessionPaymentStatus) string {
	switch ps {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return string(stripe.SubscriptionStatusActive)
	case stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return string(stripe.SubscriptionStatusTrialing)
	}
	return string(stripe.SubscriptionStatusIncomplete)
}

func (s *Service) subscriptionChanged(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return apperr.Validation("malformed subscription")
	}
	if sub.Customer == nil {
		return apperr.Validation("subscription without customer")
	}

	u, err := s.ownerOf(ctx, &sub)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.log.WithFields(logrus.Fields{"event_id": event.ID, "customer": sub.Customer.ID}).
				Warn("subscription for unknown customer ignored")
			return nil
		}
		return err
	}

	status := string(sub.Status)
	if event.Type == "customer.subscription.deleted" {
		status = string(stripe.SubscriptionStatusCanceled)
	}
	update := user.SubscriptionUpdate{
		CustomerID:     sub.Customer.ID,
		SubscriptionID: sub.ID,
		Status:         status,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		update.CurrentPeriodEnd = &end
	}
	if err := s.users.UpdateSubscription(ctx, u.ID, update); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "status": status}).Info("subscription updated")
	return nil
}

// ownerOf finds the user by customer id, falling back to the user id
// stamped on the subscription at checkout, which links the customer.
func (s *Service) ownerOf(ctx context.Context, sub *stripe.Subscription) (*user.User, error) {
	u, err := s.users.GetByStripeCustomer(ctx, sub.Customer.ID)
	if err == nil || !apperr.Is(err, apperr.KindNotFound) {
		return u, err
	}
	userID := sub.Metadata[metadataUserID]
	if userID == "" {
		return nil, err
	}
	if u, err = s.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.users.SetStripeCustomer(ctx, u.ID, sub.Customer.ID); err != nil {
		return nil, fmt.Errorf("failed to link stripe customer: %w", err)
	}
	return u, nil
}
