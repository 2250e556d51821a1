package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CheckoutRequest describes a subscription checkout for one user.
type CheckoutRequest struct {
	UserID     string
	Email      string
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutProvider creates hosted Stripe pages.
type CheckoutProvider interface {
	NewCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	NewPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// StripeProvider implements CheckoutProvider with the Stripe API.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a provider for the given secret key.
// backends may be nil; tests point it at a fake server.
func NewStripeProvider(secretKey string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, backends)}
}

func (p *StripeProvider) NewCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataUserID: req.UserID},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return s.URL, nil
}

func (p *StripeProvider) NewPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create billing portal session: %w", err)
	}
	return s.URL, nil
}
