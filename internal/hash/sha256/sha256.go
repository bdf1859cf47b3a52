// Package sha256 digests fetched pages so unchanged dossiers can be spotted
// across runs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

var _ crawler.Hasher = Hasher{}

// New returns a SHA-256 hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the hex digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum is the hex SHA-256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
