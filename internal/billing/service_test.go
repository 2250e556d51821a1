package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
	"recipe-box/internal/database/dbtest"
	"recipe-box/internal/logging"
	"recipe-box/internal/user"
)

const testSecret = "whsec_test"

type fakeProvider struct {
	checkout []CheckoutRequest
	portal   []string
	err      error
}

func (f *fakeProvider) NewCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.checkout = append(f.checkout, req)
	return "https://checkout.stripe.test/session", nil
}

func (f *fakeProvider) NewPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.portal = append(f.portal, customerID+"|"+returnURL)
	return "https://billing.stripe.test/portal", nil
}

func sign(payload string) string {
	return signWith(testSecret, payload)
}

func signWith(secret, payload string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func event(id, typ, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2020-08-27","data":{"object":%s}}`, id, typ, object)
}

func newTestService(t *testing.T) (*Service, *user.Repository, *database.DB, *fakeProvider) {
	t.Helper()
	db := dbtest.New(t)
	users := user.NewRepository(db)
	provider := &fakeProvider{}
	svc := NewService(provider, users, NewEventRepository(db), Config{
		PriceID:       "price_pro",
		WebhookSecret: testSecret,
		WebAppURL:     "https://app.example.com/",
	}, logging.Discard())
	return svc, users, db, provider
}

func seed(t *testing.T, users *user.Repository) *user.User {
	t.Helper()
	u, err := users.UpsertFromOAuth(context.Background(), user.Identity{
		Provider: "google", ProviderUserID: "g-1", Email: "alice@example.com", Name: "Alice",
	})
	require.NoError(t, err)
	return u
}

func TestCheckoutAndPortal(t *testing.T) {
	ctx := context.Background()
	svc, users, _, provider := newTestService(t)
	u := seed(t, users)

	url, err := svc.Checkout(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/session", url)
	require.Len(t, provider.checkout, 1)
	req := provider.checkout[0]
	assert.Equal(t, u.ID, req.UserID)
	assert.Equal(t, "price_pro", req.PriceID)
	assert.Equal(t, "alice@example.com", req.Email)
	assert.Equal(t, "https://app.example.com/billing", req.CancelURL)

	_, err = svc.Portal(ctx, u)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	customer := "cus_1"
	u.StripeCustomerID = &customer
	_, err = svc.Portal(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, []string{"cus_1|https://app.example.com/billing"}, provider.portal)

	u.Plan, u.SubscriptionStatus = user.PlanPro, "active"
	_, err = svc.Checkout(ctx, u)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	provider.err = errors.New("stripe down")
	_, err = svc.Portal(ctx, u)
	assert.True(t, apperr.Is(err, apperr.KindExternal))
}

func TestHandleWebhook_SubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, users, _, _ := newTestService(t)
	u := seed(t, users)

	completed := event("evt_1", "checkout.session.completed", fmt.Sprintf(
		`{"id":"cs_1","object":"checkout.session","client_reference_id":%q,"customer":"cus_1","subscription":"sub_1","payment_status":"paid"}`, u.ID))
	require.NoError(t, svc.HandleWebhook(ctx, []byte(completed), sign(completed)))

	got, err := users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", got.CustomerID())
	assert.Equal(t, "sub_1", got.SubscriptionID)
	assert.True(t, got.IsPro())

	updated := event("evt_2", "customer.subscription.updated",
		`{"id":"sub_1","object":"subscription","customer":"cus_1","status":"past_due","current_period_end":1767225600}`)
	require.NoError(t, svc.HandleWebhook(ctx, []byte(updated), sign(updated)))

	got, err = users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPro())
	assert.Equal(t, user.PlanFree, got.Plan)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, got.CurrentPeriodEnd.Equal(time.Unix(1767225600, 0)))

	deleted := event("evt_3", "customer.subscription.deleted",
		`{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active"}`)
	require.NoError(t, svc.HandleWebhook(ctx, []byte(deleted), sign(deleted)))
	got, err = users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", got.SubscriptionStatus)
}

func TestHandleWebhook_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, users, db, _ := newTestService(t)
	u := seed(t, users)
	require.NoError(t, users.SetStripeCustomer(ctx, u.ID, "cus_1"))

	active := event("evt_10", "customer.subscription.created",
		`{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active"}`)
	require.NoError(t, svc.HandleWebhook(ctx, []byte(active), sign(active)))

	// Flip the row by hand; a replay of the same event must not undo it.
	require.NoError(t, users.UpdateSubscription(ctx, u.ID, user.SubscriptionUpdate{SubscriptionID: "sub_1", Status: "canceled"}))
	require.NoError(t, svc.HandleWebhook(ctx, []byte(active), sign(active)))

	got, err := users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", got.SubscriptionStatus)

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM stripe_events`))
	assert.Equal(t, 1, n)
}

func TestHandleWebhook_LinksCustomerFromMetadata(t *testing.T) {
	ctx := context.Background()
	svc, users, _, _ := newTestService(t)
	u := seed(t, users)

	created := event("evt_20", "customer.subscription.created", fmt.Sprintf(
		`{"id":"sub_9","object":"subscription","customer":"cus_9","status":"trialing","metadata":{"user_id":%q}}`, u.ID))
	require.NoError(t, svc.HandleWebhook(ctx, []byte(created), sign(created)))

	got, err := users.GetByStripeCustomer(ctx, "cus_9")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.IsPro())
}

func TestHandleWebhook_Rejections(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	payload := event("evt_30", "customer.subscription.updated", `{"id":"sub_1","object":"subscription","customer":"cus_x","status":"active"}`)
	err := svc.HandleWebhook(ctx, []byte(payload), "t=1,v1=deadbeef")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	// Unknown customers are acknowledged so Stripe stops retrying.
	require.NoError(t, svc.HandleWebhook(ctx, []byte(payload), sign(payload)))

	other := event("evt_31", "invoice.paid", `{"id":"in_1","object":"invoice"}`)
	require.NoError(t, svc.HandleWebhook(ctx, []byte(other), sign(other)))
}

func TestHandleWebhook_RequiresSigningSecret(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	users := user.NewRepository(db)
	u := seed(t, users)
	svc := NewService(&fakeProvider{}, users, NewEventRepository(db), Config{PriceID: "price_pro"}, logging.Discard())

	payload := event("evt_40", "customer.subscription.updated", fmt.Sprintf(
		`{"id":"sub_1","object":"subscription","customer":"cus_x","status":"active","metadata":{"user_id":%q}}`, u.ID))
	err := svc.HandleWebhook(ctx, []byte(payload), signWith("", payload))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternal), "got %v", err)

	got, err := users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPro(), "an event signed with an empty key must not upgrade the user")
}
