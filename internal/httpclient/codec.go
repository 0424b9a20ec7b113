package httpclient

import (
	"bytes"
	"encoding/gob"
	"net/http"
)

// cacheEntry is the on-wire shape stored for a cached Response. Elapsed and
// FromCache are intentionally excluded: they describe the original fetch,
// not the cached copy.
type cacheEntry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

func encodeResponse(r *Response) ([]byte, error) {
	var buf bytes.Buffer
	entry := cacheEntry{StatusCode: r.StatusCode, Headers: r.Headers, Body: r.Body}
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeResponse(data []byte) (*Response, error) {
	var entry cacheEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return nil, err
	}
	return &Response{StatusCode: entry.StatusCode, Headers: entry.Headers, Body: entry.Body}, nil
}
