package store

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no content exists under the requested id,
// including content that has aged out of the retention window.
var ErrNotFound = errors.New("content not found")

// DefaultRetention is how long saved documents are kept.
const DefaultRetention = 30 * 24 * time.Hour

const (
	idLength   = 64
	idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Store persists completed generated documents under opaque random
// identifiers with a fixed retention window.
type Store interface {
	Save(ctx context.Context, content string) (string, error)
	Get(ctx context.Context, id string) (string, error)
}

// NewID returns a 64-character random alphanumeric identifier.
func NewID() (string, error) {
	b := make([]byte, idLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "generate content id")
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b), nil
}
