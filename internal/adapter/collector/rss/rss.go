// Package rss implements the Collector port for RSS 2.0 / Atom / RDF feeds
// (spec §4.3).
package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/jafechang/atlas/internal/domain/document"
	"github.com/jafechang/atlas/internal/domain/source"
	"github.com/jafechang/atlas/internal/port/collector"
)

// CollectorVersion is recorded on every RawDocument this adapter produces,
// so reprocessing after a format change is identifiable (§4.3).
const CollectorVersion = "rss-v1"

func init() {
	collector.Register(source.TypeRSS, func() collector.Collector { return New() })
}

// Fetcher is the subset of httpclient.Client this adapter needs, kept
// narrow so tests can substitute a fake transport.
type Fetcher interface {
	Request(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error)
}

// Response mirrors httpclient.Response's fields this adapter reads, avoiding
// a compile-time dependency cycle between collector adapters and the HTTP
// client package's retry/cache internals.
type Response struct {
	StatusCode int
	Body       []byte
}

// Adapter collects RSS/Atom/RDF feeds via gofeed.
type Adapter struct {
	fetch Fetcher
}

// New creates an Adapter using the given Fetcher for retrieval.
func New(opts ...Option) *Adapter {
	a := &Adapter{}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithFetcher sets the HTTP fetcher used to retrieve feed bodies. Without
// one, Collect falls back to a bare http.Get (used only when no C2 client
// is wired, e.g. in isolated tests).
func WithFetcher(f Fetcher) Option {
	return func(a *Adapter) { a.fetch = f }
}

// Collect fetches cfg.URL, parses it as RSS/Atom/RDF, and returns one
// RawDocument per feed entry (duplicate links within the feed collapsed,
// keeping the first).
func (a *Adapter) Collect(ctx context.Context, cfg *source.Config) ([]*document.Raw, error) {
	body, err := a.fetchBody(ctx, cfg)
	if err != nil {
		return nil, &collector.CollectorError{SourceID: cfg.Name, Cause: err}
	}

	fp := gofeed.NewParser()
	feed, err := fp.ParseString(string(body))
	if err != nil {
		return nil, &collector.CollectorError{SourceID: cfg.Name, Cause: fmt.Errorf("parse feed: %w", err)}
	}

	collectedAt := time.Now().UTC()
	seenLinks := make(map[string]bool, len(feed.Items))
	docs := make([]*document.Raw, 0, len(feed.Items))

	for _, item := range feed.Items {
		link := resolveLink(cfg.URL, item.Link)
		if link != "" && seenLinks[link] {
			continue
		}
		if link != "" {
			seenLinks[link] = true
		}

		content := bestContent(item)
		publishedAt := parsePublished(item, collectedAt)

		raw := &document.Raw{
			ID:               uuid.NewString(),
			SourceID:         cfg.Name,
			SourceURL:        cfg.URL,
			SourceType:       string(source.TypeRSS),
			CollectedAt:      collectedAt,
			CollectorVersion: CollectorVersion,
			RawContent:       content,
			RawMetadata:      entryMetadata(item),
			ContentHash:      contentHash(item.Title, link, content),
			Title:            item.Title,
			Author:           authorName(item),
			PublishedAt:      publishedAt,
			ProcessingStatus: document.ProcessingPending,
		}
		docs = append(docs, raw)
	}

	return docs, nil
}

// fetchBody retrieves cfg.URL's bytes, preferring the injected Fetcher.
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

	return io.ReadAll(resp.Body)
}

// resolveLink resolves a possibly-relative entry link against the feed URL,
// per §4.3's "relative links are resolved against the feed's <link> or the
// feed URL."
func resolveLink(feedURL, link string) string {
	if link == "" {
		return ""
	}
	base, err := url.Parse(feedURL)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}

// bestContent implements the content > description > summary priority
// chain from §4.3.
func bestContent(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	if item.Description != "" {
		return item.Description
	}
	return ""
}

// authorName prefers the structured Author, falling back to the raw
// author string gofeed sometimes leaves unparsed.
func authorName(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if len(item.Authors) > 0 && item.Authors[0].Name != "" {
		return item.Authors[0].Name
	}
	return ""
}

// parsePublished tries the entry's parsed dates first, then a permissive
// multi-format parse of the raw strings gofeed preserves, falling back to
// fetchTime per §4.3's "on total failure uses fetch time."
func parsePublished(item *gofeed.Item, fetchTime time.Time) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			return t.UTC()
		}
	}
	return fetchTime
}

// entryMetadata captures categories and enclosures as flat string metadata
// (RawDocument.RawMetadata is an opaque string map, per §3).
func entryMetadata(item *gofeed.Item) map[string]string {
	meta := make(map[string]string)
	if len(item.Categories) > 0 {
		meta["categories"] = strings.Join(item.Categories, ",")
	}
	if len(item.Enclosures) > 0 {
		e := item.Enclosures[0]
		meta["enclosure_url"] = e.URL
		meta["enclosure_type"] = e.Type
		if e.Length != "" {
			if _, err := strconv.Atoi(e.Length); err == nil {
				meta["enclosure_length"] = e.Length
			}
		}
	}
	if item.GUID != "" {
		meta["guid"] = item.GUID
	}
	return meta
}

// contentHash computes the SHA-256 over canonicalized title+link+content,
// per §4.3.
func contentHash(title, link, content string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(title)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.TrimSpace(link)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(h.Sum(nil))
}
