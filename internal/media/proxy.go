// Package media stores uploaded recipe photos and proxies remote images.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/netguard"
	"recipe-box/internal/recipe"
)

const (
	DefaultMaxBytes = 8 << 20
	DefaultCacheTTL = 24 * time.Hour
)

// Image is a fetched image body.
type Image struct {
	ContentType string
	Data        []byte
}

// Proxy fetches remote images on behalf of clients.
type Proxy struct {
	client   *http.Client
	cache    ImageCache
	maxBytes int64
	ttl      time.Duration
	log      *logrus.Entry
}

// NewProxy builds a proxy. cache may be nil.
func NewProxy(client *http.Client, cache ImageCache, maxBytes int64, log *logrus.Logger) *Proxy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Proxy{
		client:   client,
		cache:    cache,
		maxBytes: maxBytes,
		ttl:      DefaultCacheTTL,
		log:      log.WithField("component", "image_proxy"),
	}
}

// Fetch returns the image at rawURL, from the cache when possible.
func (p *Proxy) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	if !recipe.IsWebURL(rawURL) {
		return nil, apperr.Validation("url must be an absolute http(s) URL").WithDetail("field", "url")
	}

	key := CacheKey(rawURL)
	if p.cache != nil {
		img, err := p.cache.Get(ctx, key)
		if err != nil {
			p.log.WithError(err).Warn("image cache read failed")
		} else if img != nil {
			return img, nil
		}
	}

	img, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, img, p.ttl); err != nil {
			p.log.WithError(err).Warn("image cache write failed")
		}
	}
	return img, nil
}

func (p *Proxy) fetch(ctx context.Context, rawURL string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.Validation("invalid url: %v", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, netguard.ErrForbiddenAddress) {
			return nil, apperr.Forbidden("image host is not allowed")
		}
		return nil, apperr.External("image host", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.External("image host", fmt.Errorf("status %d", resp.StatusCode)).WithDetail("status", resp.StatusCode)
	}
	if resp.ContentLength > p.maxBytes {
		return nil, apperr.Validation("image is larger than %d bytes", p.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, apperr.External("image host", err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, apperr.Validation("image is larger than %d bytes", p.maxBytes)
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, apperr.Validation("url is not an image (%s)", ct)
	}
	return &Image{ContentType: ct, Data: data}, nil
}
