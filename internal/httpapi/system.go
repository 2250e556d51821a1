package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"recipe-box/internal/apperr"
	"recipe-box/internal/httputil"
	"recipe-box/internal/logging"
	"recipe-box/internal/metrics"
)

const (
	healthTimeout = 2 * time.Second
	// Stripe documents 64 KiB as the upper bound of an event payload.
	maxWebhookBytes   = 64 << 10
	imageCacheControl = "public, max-age=86400"
)

type healthResponse struct {
	Status   string            `json:"status"`
	Database string            `json:"database"`
	System   metrics.SysHealth `json:"system"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", System: metrics.GetSysHealth(a.DataDir)}
	status := http.StatusOK
	if err := a.DB.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("health check: database unreachable")
		resp.Status, resp.Database = "degraded", "unreachable"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

// cookNudge lets an external scheduler trigger the nudge run.
func (a *api) cookNudge(w http.ResponseWriter, r *http.Request) {
	secret := a.Config.CronSecret
	if secret == "" {
		httputil.WriteError(w, r, apperr.NotConfigured("cron"))
		return
	}
	token := httputil.BearerToken(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		httputil.WriteError(w, r, apperr.Unauthenticated("invalid cron secret"))
		return
	}
	res, err := a.Nudge.Run(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (a *api) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if a.Billing == nil {
		httputil.WriteError(w, r, apperr.NotConfigured("billing"))
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteError(w, r, apperr.Validation("webhook payload too large"))
			return
		}
		httputil.WriteError(w, r, apperr.Validation("failed to read webhook payload"))
		return
	}
	if err := a.Billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// telegramWebhook only answers on the secret path registered with
// Telegram; anything else looks like a missing route.
func (a *api) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	secret := a.Config.TelegramWebhookSecret
	given := pathVar(r, "secret")
	if a.Bot == nil || secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
		a.notFound(w, r)
		return
	}
	a.Bot.HandleWebhook(w, r)
}

func (a *api) checkout(w http.ResponseWriter, r *http.Request) {
	a.billingRedirect(w, r, false)
}

func (a *api) portal(w http.ResponseWriter, r *http.Request) {
	a.billingRedirect(w, r, true)
}

func (a *api) billingRedirect(w http.ResponseWriter, r *http.Request, portal bool) {
	if a.Billing == nil {
		httputil.WriteError(w, r, apperr.NotConfigured("billing"))
		return
	}
	ctx := r.Context()
	u, err := a.Users.Get(ctx, userID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var url string
	if portal {
		url, err = a.Billing.Portal(ctx, u)
	} else {
		url, err = a.Billing.Checkout(ctx, u)
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

// image serves uploaded photos by redirecting to a presigned URL, and
// proxies remote images so clients never hit third-party hosts directly.
func (a *api) image(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if key := q.Get("key"); key != "" {
		signed, err := a.Uploads.URL(r.Context(), key)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		http.Redirect(w, r, signed, http.StatusFound)
		return
	}

	rawURL := q.Get("url")
	if rawURL == "" {
		httputil.WriteError(w, r, apperr.Validation("url or key is required").WithDetail("field", "url"))
		return
	}
	img, err := a.Proxy.Fetch(r.Context(), rawURL)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", img.ContentType)
	h.Set("Cache-Control", imageCacheControl)
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}
