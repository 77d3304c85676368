package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	// Known SHA-256 vector
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Digest("hello"))

	// Stable and input-sensitive
	assert.Equal(t, Digest("12345678901"), Digest("12345678901"))
	assert.NotEqual(t, Digest("12345678901"), Digest("12345678902"))
}

func TestDeriveKey(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}

	signing, err := DeriveKey(secret, "session-token-signing")
	require.NoError(t, err)
	assert.Len(t, signing, 32)

	// Same inputs, same key
	again, err := DeriveKey(secret, "session-token-signing")
	require.NoError(t, err)
	assert.Equal(t, signing, again)

	// Different purpose, independent key
	other, err := DeriveKey(secret, "something-else")
	require.NoError(t, err)
	assert.NotEqual(t, signing, other)
}

func TestDeriveKeyRejectsShortSecret(t *testing.T) {
	_, err := DeriveKey([]byte("too short"), "session-token-signing")
	require.Error(t, err)
}
