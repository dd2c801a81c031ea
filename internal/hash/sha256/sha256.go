// Package sha256 fingerprints captured images.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher returns lowercase hex SHA-256 digests. Identical pages captured
// twice share a digest, which lets consumers of capture events dedupe.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests an encoded image. An empty image is an error: the capture
// step never produces one on success.
func (*Hasher) Hash(image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("hash: empty image")
	}
	digest := sha256.Sum256(image)
	return hex.EncodeToString(digest[:]), nil
}
