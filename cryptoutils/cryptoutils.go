// Package cryptoutils provides the hashing and key-derivation helpers used
// across the backend: one-way digests of personal identifiers for
// storage-equality lookups, and purpose-tagged derivation of process keys
// from the injected master secret.
package cryptoutils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Digest returns the lowercase hex SHA-256 digest of data. Raw national
// identifiers and phone numbers are digested before they reach the store;
// equality of digests is the only operation ever performed on them.
func Digest(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// DeriveKey derives a 32-byte key from the master secret for the given
// purpose tag. Distinct purposes yield independent keys, so the same
// injected secret can back multiple concerns without reuse.
func DeriveKey(masterSecret []byte, purpose string) ([]byte, error) {
	if len(masterSecret) < 32 {
		return nil, fmt.Errorf("master secret must be at least 32 bytes, got %d", len(masterSecret))
	}

	r := hkdf.New(sha256.New, masterSecret, nil, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
