// Package sha256 fingerprints page bodies so dataset records can be compared
// across runs without storing the body.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum returns the hex digest of data, prefixed with the algorithm name.
func (*Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
