// Package httpclient provides a cached, retrying HTTP fetcher (spec §4.2).
package httpclient

import (
	"net/http"
	"time"
)

// Response is the result of one logical request, including retries and
// cache lookups.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration
	FromCache  bool
}

// Ok reports whether the response's status code indicates success (2xx).
func (r *Response) Ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
