package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceSourceStrictlyIncreasing(t *testing.T) {
	fixed := time.Unix(1616492376, 594000000)
	n := NewNonceSource(time.Millisecond)
	n.now = func() time.Time { return fixed }

	first := n.Next()
	assert.Equal(t, int64(1616492376594), first)
	assert.Equal(t, first+1, n.Next())
	assert.Equal(t, first+2, n.Next())
}

func TestNonceSourceMicroseconds(t *testing.T) {
	n := NewNonceSource(time.Microsecond)
	a, b := n.Next(), n.Next()
	assert.Greater(t, b, a)
	assert.Greater(t, a, time.Now().Add(-time.Minute).UnixMicro())
}

var staleNonce = &VenueError{Venue: "kraken", Path: "private/Balance", Message: "EAPI:Invalid nonce"}

func isStale(err error) bool { return errors.Is(err, staleNonce) }

func TestWithNonceRetrySucceedsAfterRetries(t *testing.T) {
	var attempts []int
	err := WithNonceRetry(context.Background(), 3, isStale, func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 2 {
			return staleNonce
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestWithNonceRetryExhausted(t *testing.T) {
	var calls int
	err := WithNonceRetry(context.Background(), 2, isStale, func(int) error {
		calls++
		return staleNonce
	})
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, ErrNonceRetriesExhausted))
	assert.True(t, errors.Is(err, staleNonce))
}

func TestWithNonceRetryOtherError(t *testing.T) {
	other := errors.New("EOrder:Insufficient funds")
	var calls int
	err := WithNonceRetry(context.Background(), 3, isStale, func(int) error {
		calls++
		return other
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, other, err)
}

func TestSessionCallRetriesKrakenNonce(t *testing.T) {
	s := newTestSession(t)
	var calls int
	err := s.Call(context.Background(), "Balance", func(attempt int) error {
		calls++
		if attempt == 0 {
			return &VenueError{Venue: "kraken", Path: "private/Balance", Message: "EAPI:Invalid nonce"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSessionCallRetriesDisabled(t *testing.T) {
	settings := testSettings()
	settings.MaxNonceRetries = -1
	s := NewSession("kraken", settings, nil)
	t.Cleanup(func() { _ = s.Close() })

	var calls int
	err := s.Call(context.Background(), "Balance", func(int) error {
		calls++
		return &VenueError{Venue: "kraken", Path: "private/Balance", Message: "EAPI:Invalid nonce"}
	})
	assert.True(t, errors.Is(err, ErrNonceRetriesExhausted))
	assert.Equal(t, 1, calls)
}
