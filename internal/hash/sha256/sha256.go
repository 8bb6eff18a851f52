// Package sha256 provides SHA-256 digests for synthetic post keys and
// snapshot object names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashFields joins fields with "|" and returns the first n hex characters of
// the digest. n outside (0, 64] returns the full digest.
func (h *Hasher) HashFields(n int, fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	digest := hex.EncodeToString(sum[:])
	if n <= 0 || n >= len(digest) {
		return digest
	}
	return digest[:n]
}
