// Package session mints and verifies the signed bearer tokens that bind a
// principal id to its role. Tokens are stateless: validity is determined
// entirely by signature and expiry at verification time, with no server-side
// session record and no revocation list.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

// DefaultTTL is the token lifetime for all roles.
const DefaultTTL = 24 * time.Hour

type claims struct {
	PrincipalID int64  `json:"principal_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with an HS256 key injected at
// startup.
type Issuer struct {
	signingKey []byte
	ttl        time.Duration

	now func() time.Time
}

// NewIssuer creates a token issuer. The signing key must be at least 32
// bytes; a non-positive ttl falls back to DefaultTTL.
func NewIssuer(signingKey []byte, ttl time.Duration) (*Issuer, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// Issue mints a token for the principal in the given role.
func (i *Issuer) Issue(principalID int64, role interfaces.Role) (string, error) {
	now := i.now()
	c := claims{
		PrincipalID: principalID,
		Role:        string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry and role, returning the principal id.
// Every failure mode maps onto interfaces.ErrUnauthorized so handlers need
// no token-library knowledge.
func (i *Issuer) Verify(tokenString string, expected interfaces.Role) (int64, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return i.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, err)
	}

	if c.Role != string(expected) {
		return 0, fmt.Errorf("%w: token role %q, expected %q", interfaces.ErrUnauthorized, c.Role, expected)
	}
	return c.PrincipalID, nil
}
