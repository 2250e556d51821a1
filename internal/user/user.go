// Package user holds accounts, their linked OAuth identities and login
// sessions.
package user

import "time"

const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// User is an account. Billing fields are maintained by Stripe webhooks.
type User struct {
	ID                 string     `db:"id" json:"id"`
	Email              string     `db:"email" json:"email"`
	Name               string     `db:"name" json:"name"`
	AvatarURL          string     `db:"avatar_url" json:"avatar_url"`
	Plan               string     `db:"plan" json:"plan"`
	StripeCustomerID   *string    `db:"stripe_customer_id" json:"-"`
	SubscriptionID     string     `db:"subscription_id" json:"-"`
	SubscriptionStatus string     `db:"subscription_status" json:"subscription_status,omitempty"`
	CurrentPeriodEnd   *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	TelegramChatID     *int64     `db:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsPro reports whether the user currently holds a paid subscription.
func (u *User) IsPro() bool {
	if u.Plan != PlanPro {
		return false
	}
	switch u.SubscriptionStatus {
	case "active", "trialing":
		return true
	}
	return false
}

// CustomerID returns the Stripe customer id, or "" when none is linked.
func (u *User) CustomerID() string {
	if u.StripeCustomerID == nil {
		return ""
	}
	return *u.StripeCustomerID
}

// Identity is what an OAuth provider tells us about the person logging in.
type Identity struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
}

// SubscriptionUpdate is the billing state pushed by a webhook.
type SubscriptionUpdate struct {
	CustomerID       string
	SubscriptionID   string
	Status           string
	CurrentPeriodEnd *time.Time
}

// PlanFor maps a Stripe subscription status onto a plan.
func PlanFor(status string) string {
	switch status {
	case "active", "trialing":
		return PlanPro
	}
	return PlanFree
}
