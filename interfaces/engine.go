package interfaces

import "context"

// CryptoEngine is the narrow boundary to the external pairing-based
// cryptographic service. Both operations are synchronous; the returned
// material is opaque and passed through to storage without interpretation.
// Implementations must surface any engine-reported failure or absent
// result as an error; callers never retry automatically.
type CryptoEngine interface {
	// Setup generates the public domain parameters for a poll at the given
	// security level.
	Setup(ctx context.Context, securityLevel int) (SetupParams, error)

	// KeyGen generates the master verification key and one key share per
	// authority under the given signing threshold. Shares are returned in
	// generation order.
	KeyGen(ctx context.Context, params SetupParams, threshold, authorityCount int) (KeyGenResult, error)
}
