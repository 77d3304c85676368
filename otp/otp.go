// Package otp implements the short-lived two-part passcode store that gates
// login completion. Each principal pool (admin, voter, authority) owns an
// independent Store instance.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// DefaultTTL is the challenge lifetime used by all pools.
const DefaultTTL = 300 * time.Second

var (
	// ErrNoChallenge signals no outstanding challenge for the principal,
	// including one already consumed.
	ErrNoChallenge = errors.New("no outstanding challenge")

	// ErrExpired signals the challenge outlived its TTL. The challenge is
	// removed; a fresh login-start is required.
	ErrExpired = errors.New("challenge expired")

	// ErrMismatch signals wrong codes. The challenge stays consumable
	// within its TTL.
	ErrMismatch = errors.New("passcodes do not match")
)

// Challenge is one outstanding two-part passcode pair.
type Challenge struct {
	EmailCode string
	PhoneCode string
	ExpiresAt time.Time
}

// Store holds at most one pending challenge per principal id. All methods
// are safe for concurrent use; the internal lock is held only for map
// access, never across code delivery.
type Store struct {
	mu         sync.Mutex
	challenges map[int64]Challenge
	ttl        time.Duration

	now func() time.Time
}

// NewStore creates a store with the given challenge TTL. A non-positive
// ttl falls back to DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		challenges: make(map[int64]Challenge),
		ttl:        ttl,
		now:        time.Now,
	}
}

// Start creates a fresh challenge for the principal, replacing any prior
// one, and returns it for out-of-band delivery. Delivery happens after the
// store's lock is released and is not covered by its atomicity.
func (s *Store) Start(principalID int64) (Challenge, error) {
	emailCode, err := generateCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("failed to generate email code: %w", err)
	}
	phoneCode, err := generateCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("failed to generate phone code: %w", err)
	}

	c := Challenge{
		EmailCode: emailCode,
		PhoneCode: phoneCode,
		ExpiresAt: s.now().Add(s.ttl),
	}

	s.mu.Lock()
	s.challenges[principalID] = c
	s.mu.Unlock()

	return c, nil
}

// Verify checks the submitted codes against the outstanding challenge.
// The challenge is consumed on success and on detected expiry; a mismatch
// leaves it in place for a bounded retry within the TTL.
func (s *Store) Verify(principalID int64, emailCode, phoneCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[principalID]
	if !ok {
		return ErrNoChallenge
	}

	if s.now().After(c.ExpiresAt) {
		delete(s.challenges, principalID)
		return ErrExpired
	}

	if c.EmailCode != emailCode || c.PhoneCode != phoneCode {
		return ErrMismatch
	}

	delete(s.challenges, principalID)
	return nil
}

// generateCode returns a 6-digit numeric code uniform in [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
