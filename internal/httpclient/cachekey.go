package httpclient

import (
	"crypto/sha256"
	"encoding/hex"
)

// cacheKey hashes method|url|canonical-body per §4.2's cache key definition.
func cacheKey(method, url string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(url))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
