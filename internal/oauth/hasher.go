package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and checks one-way digests of client secrets and passwords.
type Hasher interface {
	Digest(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// SHA256Hasher produces deterministic hex SHA-256 digests.
type SHA256Hasher struct{}

func (SHA256Hasher) Digest(plaintext string) (string, error) {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:]), nil
}

// Verify compares digests in constant time.
func (h SHA256Hasher) Verify(plaintext, digest string) bool {
	got, err := h.Digest(plaintext)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

// BcryptHasher stores salted bcrypt digests. Cost 0 selects bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Digest(plaintext string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt digest: %w", err)
	}
	return string(b), nil
}

func (BcryptHasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// NewHasher returns the hasher registered under name.
func NewHasher(name string, bcryptCost int) (Hasher, error) {
	switch name {
	case "", "sha256":
		return SHA256Hasher{}, nil
	case "bcrypt":
		if bcryptCost != 0 && (bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost) {
			return nil, fmt.Errorf("bcrypt cost %d out of range [%d,%d]", bcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
		}
		return BcryptHasher{Cost: bcryptCost}, nil
	default:
		return nil, fmt.Errorf("unsupported hasher %q (supported: sha256, bcrypt)", name)
	}
}
