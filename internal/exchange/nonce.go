package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// NonceSource hands out strictly increasing wall-clock derived nonces.
type NonceSource struct {
	mu   sync.Mutex
	last int64
	unit time.Duration
	now  func() time.Time
}

// NewNonceSource returns a source counting in unit, e.g. time.Millisecond or
// time.Microsecond.
func NewNonceSource(unit time.Duration) *NonceSource {
	if unit <= 0 {
		unit = time.Millisecond
	}
	return &NonceSource{unit: unit, now: time.Now}
}

// Next returns a nonce greater than every nonce returned before.
func (n *NonceSource) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.now().UnixNano() / int64(n.unit)
	if v <= n.last {
		v = n.last + 1
	}
	n.last = v
	return v
}

// WithNonceRetry runs fn and runs it again while isNonce reports the error as
// a stale nonce, at most maxRetries extra times. fn must build a fresh nonce on each
// run. attempt starts at 0. Any other error is returned as is.
func WithNonceRetry(ctx context.Context, maxRetries int, isNonce func(error) bool, fn func(attempt int) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(attempt)
		if err == nil || !isNonce(err) {
			return err
		}
		if attempt >= maxRetries {
			return fmt.Errorf("%w after %d attempts: %w", ErrNonceRetriesExhausted, attempt+1, err)
		}
	}
}

// IsVenueMessage returns a predicate matching *VenueError values whose message
// satisfies match.
func IsVenueMessage(match func(msg string) bool) func(error) bool {
	return func(err error) bool {
		var ve *VenueError
		if errors.As(err, &ve) {
			return match(ve.Message)
		}
		return false
	}
}
