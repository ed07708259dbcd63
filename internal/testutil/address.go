package testutil

import (
	"crypto/sha256"

	"github.com/roach88/preauth/internal/address"
)

// Named derives a stable address from a human-readable name, so tests and
// scenarios can say "alice" instead of a base58 string.
func Named(name string) address.Address {
	return address.Address(sha256.Sum256([]byte("preauth/named/" + name)))
}

// Resolve parses s as a base58 address and falls back to Named(s).
// It has the shape of ledger.Resolver.
func Resolve(s string) (address.Address, error) {
	if a, err := address.Parse(s); err == nil {
		return a, nil
	}
	return Named(s), nil
}
