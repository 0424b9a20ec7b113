package dedup

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

type contentHashes struct {
	md5    string
	sha1   string
	sha256 string
}

func computeHashes(content string) contentHashes {
	b := []byte(content)
	m := md5.Sum(b)
	s1 := sha1.Sum(b)
	s256 := sha256.Sum256(b)
	return contentHashes{
		md5:    hex.EncodeToString(m[:]),
		sha1:   hex.EncodeToString(s1[:]),
		sha256: hex.EncodeToString(s256[:]),
	}
}

// encodeVector/decodeVector give embeddings a fixed-width binary cache
// representation (8 bytes per float64, IEEE-754).
func encodeVector(v []float64) []byte {
	out := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(f))
	}
	return out
}

func decodeVector(raw []byte) []float64 {
	n := len(raw) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out
}
