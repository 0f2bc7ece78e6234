// Package extract fetches article pages and pulls out their main text.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"

	"github.com/bryan-buckman/pulse/internal/markup"
)

// DefaultUserAgent mimics a desktop browser; many publishers reject bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxBytes = 5 << 20
)

// pageNoise is stripped from article pages on top of markup.NoiseTags.
var pageNoise = []string{"header", "footer", "nav", "aside", "figure"}

// contentRegions are tried in order; the first match wins.
var contentRegions = []string{"article", "main", "body"}

// Config controls the extractor's HTTP behaviour.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// Extractor fetches a URL and returns its main-content text.
type Extractor struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    zerolog.Logger
}

// New builds an extractor. A nil client gets one bounded by cfg.Timeout.
func New(cfg Config, client *http.Client, logger zerolog.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Extractor{
		client:    client,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		logger:    logger,
	}
}

// Fetch issues a single GET for url and returns the page's main text.
// Every failure yields "" so callers can fall back to feed content.
func (e *Extractor) Fetch(ctx context.Context, url string) string {
	if url == "" {
		return ""
	}
	doc, err := e.fetchDocument(ctx, url)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", url).Msg("article fetch failed")
		return ""
	}
	return MainText(doc)
}

func (e *Extractor) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := charset.NewReader(io.LimitReader(resp.Body, e.maxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	return goquery.NewDocumentFromReader(body)
}

// MainText strips page noise and returns the text of the first content
// region found: article, then main, then body, then the whole document.
func MainText(doc *goquery.Document) string {
	markup.RemoveNoise(doc.Selection, pageNoise...)
	for _, region := range contentRegions {
		if sel := doc.Find(region).First(); sel.Length() > 0 {
			return markup.Text(sel)
		}
	}
	return markup.Text(doc.Selection)
}

// StatusError reports a non-2xx article response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}
