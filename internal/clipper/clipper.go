package clipper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"recipe-box/internal/apperr"
	"recipe-box/internal/assistant"
	"recipe-box/internal/netguard"
	"recipe-box/internal/recipe"
	"recipe-box/internal/shared"
)

// MaxPageBytes bounds how much of a page is read.
const MaxPageBytes = 5 << 20

const userAgent = "Mozilla/5.0 (compatible; RecipeBox/1.0; +https://recipebox.app)"

// Clipper handles fetching and extracting recipes from URLs.
type Clipper struct {
	httpClient *http.Client
	extractor  *assistant.Extractor
}

// NewClipper creates a new Clipper. extractor may be nil, in which case
// only pages with embedded recipe metadata can be clipped.
func NewClipper(httpClient *http.Client, extractor *assistant.Extractor) *Clipper {
	return &Clipper{
		httpClient: httpClient,
		extractor:  extractor,
	}
}

// Clip fetches the page and returns the recipe on it. Meta is only set
// when the LLM fallback ran.
func (c *Clipper) Clip(ctx context.Context, pageURL string) (*assistant.Draft, shared.AgentMeta, error) {
	if !recipe.IsWebURL(pageURL) {
		return nil, shared.AgentMeta{}, apperr.Validation("url must be an absolute http(s) URL").WithDetail("field", "url")
	}

	// 1. Fetch
	doc, err := c.fetch(ctx, pageURL)
	if err != nil {
		return nil, shared.AgentMeta{}, err
	}

	// 2. Structured data
	if draft, ok := ParseDocument(doc, pageURL); ok {
		return draft, shared.AgentMeta{}, nil
	}

	// 3. Extract Data via LLM
	if c.extractor == nil {
		return nil, shared.AgentMeta{}, apperr.Validation("no recipe found at %s", pageURL)
	}
	ogImage, _ := doc.Find(`meta[property="og:image"]`).Attr("content")
	draft, meta, err := c.extractor.Extract(ctx, pageText(doc), pageURL)
	if err != nil {
		return nil, meta, err
	}
	if draft.ImageURL == "" {
		draft.ImageURL = ogImage
	}
	return &draft, meta, nil
}

func (c *Clipper) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, apperr.Validation("invalid url: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, netguard.ErrForbiddenAddress) {
			return nil, apperr.Validation("URL points to a private address")
		}
		return nil, apperr.External("recipe site", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Validation("failed to fetch URL: status %d", resp.StatusCode).WithDetail("status", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			return nil, apperr.Validation("URL is not an HTML page (%s)", mediaType)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageBytes+1))
	if err != nil {
		return nil, apperr.External("recipe site", err)
	}
	if len(body) > MaxPageBytes {
		return nil, apperr.Validation("page is larger than %d bytes", MaxPageBytes)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperr.External("recipe site", fmt.Errorf("failed to parse HTML: %w", err))
	}
	return doc, nil
}

// pageText strips noise to save LLM tokens and returns the visible text.
func pageText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, nav, header, footer, aside, iframe, form, ads, .ads, #ads").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}
