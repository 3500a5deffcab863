package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet is the symbol set tokens are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// String returns a cryptographically secure random string of the given
// length drawn uniformly from Alphabet.
func String(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("read random index: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}
