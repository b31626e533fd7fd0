package auth

import (
	"fmt"

	"github.com/charlesng35/animehub/pkg/crypto"
)

// DefaultSecretCost is the bcrypt work factor applied to session secrets.
const DefaultSecretCost = 12

// SecretHasher hashes rotation secrets and compares candidates against stored hashes.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) bool
}

// BcryptHasher is the SecretHasher used in production.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or DefaultSecretCost when cost is not positive.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = DefaultSecretCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt hash of secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	hash, err := crypto.HashWithCost(secret, h.cost)
	if err != nil {
		return "", fmt.Errorf("secret hasher: %w", err)
	}
	return hash, nil
}

// Compare reports whether secret matches hash. bcrypt compares in constant time.
func (h *BcryptHasher) Compare(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return crypto.VerifyPassword(hash, secret)
}
