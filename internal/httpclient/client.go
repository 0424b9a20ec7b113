package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jafechang/atlas/internal/domain"
	"github.com/jafechang/atlas/internal/port/cache"
	"github.com/jafechang/atlas/internal/resilience"
)

// Options configures a Client's retry, timeout, and cache behavior.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	CacheTTL    time.Duration
}

// Stats are cumulative counters exposed for observability.
type Stats struct {
	Requests   int64
	CacheHits  int64
	Retries    int64
	Failures   int64
}

// Client is a cached, retrying HTTP fetcher (spec §4.2). A nil breaker or
// nil cache disables that feature; both are optional so Client works
// standalone in tests.
type Client struct {
	opts       Options
	httpClient *http.Client
	cache      cache.Cache
	breaker    *resilience.Breaker

	requests  atomic.Int64
	cacheHits atomic.Int64
	retries   atomic.Int64
	failures  atomic.Int64
}

// New creates a Client. cache and breaker may be nil.
func New(opts Options, c cache.Cache, breaker *resilience.Breaker) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      c,
		breaker:    breaker,
	}
}

// Stats returns a snapshot of cumulative request counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:  c.requests.Load(),
		CacheHits: c.cacheHits.Load(),
		Retries:   c.retries.Load(),
		Failures:  c.failures.Load(),
	}
}

// Request performs method against url with the given headers and body,
// honoring ctx's deadline. GET/HEAD requests consult the response cache
// first; a cache hit short-circuits the network entirely.
func (c *Client) Request(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	c.requests.Add(1)

	cacheable := method == http.MethodGet || method == http.MethodHead
	key := cacheKey(method, url, body)

	if cacheable && c.cache != nil {
		if cached, ok := c.lookupCache(ctx, key); ok {
			c.cacheHits.Add(1)
			return cached, nil
		}
	}

	resp, err := c.doWithRetry(ctx, method, url, headers, body)
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}

	if cacheable && c.cache != nil && resp.Ok() {
		c.storeCache(ctx, key, resp)
	}

	return resp, nil
}

// lookupCache returns a cached Response if present; cache failures degrade
// silently to a miss per §4.2's "best-effort" cache semantics.
func (c *Client) lookupCache(ctx context.Context, key string) (*Response, bool) {
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	resp, err := decodeResponse(data)
	if err != nil {
		return nil, false
	}
	resp.FromCache = true
	return resp, true
}

// storeCache writes resp to the cache, ignoring any failure (best-effort).
func (c *Client) storeCache(ctx context.Context, key string, resp *Response) {
	data, err := encodeResponse(resp)
	if err != nil {
		return
	}
	_ = c.cache.Set(ctx, key, data, c.opts.CacheTTL)
}

// doWithRetry performs the HTTP exchange with retry/backoff per §4.2. It
// returns a completed Response for any exchange that reaches a final HTTP
// status (including 4xx/5xx with retries exhausted), or a transport error
// for requests that never complete.
func (c *Client) doWithRetry(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, headers, body)

		var retryDelay time.Duration
		switch {
		case err == nil:
			if resp.Ok() || !shouldRetryStatus(resp.StatusCode) || attempt == c.opts.MaxAttempts {
				return resp, nil
			}
			lastErr = fmt.Errorf("http %d after %d attempt(s)", resp.StatusCode, attempt)
			if d, ok := retryAfterDelay(resp.Headers); ok {
				retryDelay = d
			} else {
				retryDelay = backoffDelay(c.opts.BaseDelay, attempt)
			}

		case errors.Is(err, domain.ErrCircuitOpen):
			return nil, err

		default:
			mapped, retryable := classifyTransportError(err)
			if !retryable || attempt == c.opts.MaxAttempts {
				return nil, mapped
			}
			lastErr = mapped
			retryDelay = backoffDelay(c.opts.BaseDelay, attempt)
		}

		c.retries.Add(1)
		select {
		case <-ctx.Done():
			return nil, domain.ErrCancelled
		case <-time.After(retryDelay):
		}
	}

	return nil, lastErr
}

// attempt performs one HTTP exchange, routed through the circuit breaker if
// one is configured.
func (c *Client) attempt(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	var resp *Response
	var callErr error
	call := func() error {
		resp, callErr = c.exchange(ctx, method, url, headers, body)
		return callErr
	}

	if c.breaker != nil {
		if breakerErr := c.breaker.Execute(call); breakerErr != nil {
			if errors.Is(breakerErr, resilience.ErrCircuitOpen) {
				return nil, domain.ErrCircuitOpen
			}
			return nil, callErr
		}
		return resp, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return resp, nil
}

// exchange performs a single HTTP round trip with no retry logic.
func (c *Client) exchange(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	start := time.Now()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       data,
		Elapsed:    time.Since(start),
	}, nil
}

// Result carries the outcome of an asynchronous fetch.
type Result struct {
	Response *Response
	Err      error
}

// RequestAsync runs Request on a separate goroutine and returns a channel
// that receives exactly one Result, letting a caller yield to other work
// while the fetch is in flight (spec §4.2's async variant).
func (c *Client) RequestAsync(ctx context.Context, method, url string, headers http.Header, body []byte) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		resp, err := c.Request(ctx, method, url, headers, body)
		out <- Result{Response: resp, Err: err}
	}()
	return out
}
