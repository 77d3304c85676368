package otp

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartGeneratesSixDigitCodes(t *testing.T) {
	s := NewStore(0)

	for i := 0; i < 50; i++ {
		c, err := s.Start(1)
		require.NoError(t, err)

		for _, code := range []string{c.EmailCode, c.PhoneCode} {
			require.Len(t, code, 6)
			n, err := strconv.Atoi(code)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, 100000)
			assert.LessOrEqual(t, n, 999999)
		}
	}
}

func TestVerifyConsumesChallengeOnce(t *testing.T) {
	s := NewStore(0)

	c, err := s.Start(7)
	require.NoError(t, err)

	require.NoError(t, s.Verify(7, c.EmailCode, c.PhoneCode))

	// Same codes again: already consumed
	assert.ErrorIs(t, s.Verify(7, c.EmailCode, c.PhoneCode), ErrNoChallenge)
}

func TestVerifyAfterExpiryRemovesChallenge(t *testing.T) {
	s := NewStore(0)
	base := time.Now()
	s.now = func() time.Time { return base }

	c, err := s.Start(7)
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(DefaultTTL + time.Second) }
	assert.ErrorIs(t, s.Verify(7, c.EmailCode, c.PhoneCode), ErrExpired)

	// Expiry consumed the challenge
	assert.ErrorIs(t, s.Verify(7, c.EmailCode, c.PhoneCode), ErrNoChallenge)
}

func TestMismatchLeavesChallengeConsumable(t *testing.T) {
	s := NewStore(0)

	c, err := s.Start(7)
	require.NoError(t, err)

	wrong := "000000"
	if c.EmailCode == wrong {
		wrong = "000001"
	}

	assert.ErrorIs(t, s.Verify(7, wrong, c.PhoneCode), ErrMismatch)
	assert.ErrorIs(t, s.Verify(7, c.EmailCode, wrong), ErrMismatch)

	// Still valid for the correct attempt
	require.NoError(t, s.Verify(7, c.EmailCode, c.PhoneCode))
}

func TestStartOverwritesPriorChallenge(t *testing.T) {
	s := NewStore(0)

	first, err := s.Start(7)
	require.NoError(t, err)
	second, err := s.Start(7)
	require.NoError(t, err)

	// First challenge was discarded unless the codes happen to collide
	if first.EmailCode != second.EmailCode || first.PhoneCode != second.PhoneCode {
		assert.ErrorIs(t, s.Verify(7, first.EmailCode, first.PhoneCode), ErrMismatch)
	}
	require.NoError(t, s.Verify(7, second.EmailCode, second.PhoneCode))
}

func TestVerifyUnknownPrincipal(t *testing.T) {
	s := NewStore(0)
	assert.ErrorIs(t, s.Verify(42, "123456", "654321"), ErrNoChallenge)
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore(0)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c, err := s.Start(id)
			require.NoError(t, err)
			require.NoError(t, s.Verify(id, c.EmailCode, c.PhoneCode))
		}(int64(i))
	}
	wg.Wait()
}

func TestConcurrentVerifySucceedsAtMostOnce(t *testing.T) {
	s := NewStore(0)

	c, err := s.Start(7)
	require.NoError(t, err)

	var wg sync.WaitGroup
	successes := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Verify(7, c.EmailCode, c.PhoneCode) == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count)
}
