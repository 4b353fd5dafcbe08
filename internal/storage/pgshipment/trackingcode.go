package pgshipment

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const trackingCodeChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// generateTrackingCode returns a public code like "PKG-7Q2FX0ZA". Collisions
// are negligible but the unique constraint is still checked on insert.
func generateTrackingCode() (string, error) {
	b := make([]byte, 0, 12)
	b = append(b, "PKG-"...)
	for i := 0; i < 8; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(trackingCodeChars))))
		if err != nil {
			return "", errors.Wrap(err, "random tracking code")
		}
		b = append(b, trackingCodeChars[n.Int64()])
	}
	return string(b), nil
}
