package rate

import (
	"sync"
	"time"

	"tradecore/logger"
)

// WSWeightTracker counts the client messages a websocket sends per one second
// window and the handshakes it attempted. Venues limit both.
type WSWeightTracker struct {
	mu       sync.Mutex
	window   time.Time
	msgs     int
	peak     int
	attempts int
	now      func() time.Time
}

func NewWSWeightTracker() *WSWeightTracker {
	return &WSWeightTracker{window: time.Now(), now: time.Now}
}

// RegisterOutgoing records n subscribe or heartbeat messages.
func (t *WSWeightTracker) RegisterOutgoing(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now := t.now(); now.Sub(t.window) >= time.Second {
		t.msgs = 0
		t.window = now
	}
	t.msgs += n
	t.peak = max(t.peak, t.msgs)
}

func (t *WSWeightTracker) RegisterConnectionAttempt() {
	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()
}

// Stats returns the messages of the current window and the handshakes so far.
func (t *WSWeightTracker) Stats() (msgs int, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.msgs, t.attempts
}

// Peak is the busiest one second window seen.
func (t *WSWeightTracker) Peak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

// ReportWSWeight emits the tracker gauges for component.
func ReportWSWeight(log *logger.Log, t *WSWeightTracker, component string) {
	msgs, attempts := t.Stats()
	l := log.WithComponent(component)
	l.LogMetric(component, "outgoing_messages", int64(msgs), "gauge", nil)
	l.LogMetric(component, "peak_outgoing_messages", int64(t.Peak()), "gauge", nil)
	l.LogMetric(component, "connection_attempts", int64(attempts), "counter", nil)
}
