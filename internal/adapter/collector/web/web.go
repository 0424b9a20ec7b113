// Package web implements the Collector port for CSS-selector-driven HTML
// pages (spec §4.3).
package web

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/google/uuid"

	"github.com/jafechang/atlas/internal/domain/document"
	"github.com/jafechang/atlas/internal/domain/source"
	"github.com/jafechang/atlas/internal/port/collector"
)

// CollectorVersion is recorded on every RawDocument this adapter produces.
const CollectorVersion = "web-v1"

func init() {
	collector.Register(source.TypeWeb, func() collector.Collector { return New() })
}

// Fetcher is the subset of httpclient.Client this adapter needs.
type Fetcher interface {
	Request(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error)
}

// Response mirrors the fields of httpclient.Response this adapter reads.
type Response struct {
	StatusCode int
	Body       []byte
}

// Adapter collects single HTML pages using per-source CSS selector chains.
type Adapter struct {
	fetch Fetcher
}

// New creates an Adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithFetcher sets the HTTP fetcher used to retrieve the page.
func WithFetcher(f Fetcher) Option {
	return func(a *Adapter) { a.fetch = f }
}

// Collect fetches cfg.URL once, builds its DOM once, and extracts fields
// using cfg.Selectors' fallback chains (first non-empty match wins, §4.3).
// A page matching no title/content selector produces no RawDocument.
func (a *Adapter) Collect(ctx context.Context, cfg *source.Config) ([]*document.Raw, error) {
	body, err := a.fetchBody(ctx, cfg)
	if err != nil {
		return nil, &collector.CollectorError{SourceID: cfg.Name, Cause: err}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, &collector.CollectorError{SourceID: cfg.Name, Cause: fmt.Errorf("parse html: %w", err)}
	}

	title := firstMatch(doc, cfg.Selectors.Title)
	content := firstMatch(doc, cfg.Selectors.Content)
	if title == "" && content == "" {
		return nil, nil
	}

	author := firstMatch(doc, cfg.Selectors.Author)
	publishedAt := parsePublishedFrom(firstMatch(doc, cfg.Selectors.Date))
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	raw := &document.Raw{
		ID:               uuid.NewString(),
		SourceID:         cfg.Name,
		SourceURL:        cfg.URL,
		SourceType:       string(source.TypeWeb),
		CollectedAt:      time.Now().UTC(),
		CollectorVersion: CollectorVersion,
		RawContent:       content,
		ContentHash:      contentHash(title, cfg.URL, content),
		Title:            title,
		Author:           author,
		PublishedAt:      publishedAt,
		ProcessingStatus: document.ProcessingPending,
	}

	return []*document.Raw{raw}, nil
}

// firstMatch evaluates a selector fallback chain against doc, returning the
// first selector whose matched text is non-empty.
func firstMatch(doc *goquery.Document, chain []string) string {
	for _, sel := range chain {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// parsePublishedFrom attempts a permissive date parse; an empty or
// unparseable string yields the zero time (caller substitutes fetch time).
func parsePublishedFrom(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func (a *Adapter) fetchBody(ctx context.Context, cfg *source.Config) ([]byte, error) {
	if a.fetch != nil {
		resp, err := a.fetch.Request(ctx, http.MethodGet, cfg.URL, nil, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("fetch %s: status %d", cfg.URL, resp.StatusCode)
		}
		return resp.Body, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", cfg.URL, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func contentHash(title, link, content string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(title)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.TrimSpace(link)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(h.Sum(nil))
}
