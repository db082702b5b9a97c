package exchange

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented        = errors.New("not implemented")
	ErrUnknownMarket         = errors.New("unknown market")
	ErrUnknownAccount        = errors.New("unknown account")
	ErrUnknownOrder          = errors.New("unknown order")
	ErrNotReady              = errors.New("session is not ready")
	ErrNonceRetriesExhausted = errors.New("nonce retries exhausted")
)

// VenueError is a business error reported by a venue in an otherwise valid
// response.
type VenueError struct {
	Venue   string
	Path    string
	Status  int
	Message string
}

func (e *VenueError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %d %s", e.Venue, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Venue, e.Path, e.Message)
}

// notImplemented wraps ErrNotImplemented with the venue and capability name.
func notImplemented(venue, capability string) error {
	return fmt.Errorf("%s: %s: %w", venue, capability, ErrNotImplemented)
}
