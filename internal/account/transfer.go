package account

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"tradecore/internal/observe"
)

// TransferType tells deposits from withdrawals.
type TransferType string

const (
	Deposit    TransferType = "deposit"
	Withdrawal TransferType = "withdrawal"
)

// TransferStatus is open until the venue settles the transfer.
type TransferStatus string

const (
	TransferOpen      TransferStatus = "open"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// ErrClosed is returned when settling a transfer twice.
var ErrClosed = errors.New("transfer is closed")

// Transfer moves an asset between the holder and the venue.
type Transfer struct {
	ID      string
	Type    TransferType
	Account *Account
	Amount  float64

	mu       sync.RWMutex
	originID string
	status   TransferStatus
	subject  *observe.Subject[TransferState]
}

// TransferState is a copy of a transfer's fields.
type TransferState struct {
	ID       string
	OriginID string
	Type     TransferType
	Status   TransferStatus
	Amount   float64
}

// NewTransfer creates an open transfer with a fresh local id.
func NewTransfer(typ TransferType, acc *Account, amount float64) *Transfer {
	return &Transfer{
		ID:      uuid.NewString(),
		Type:    typ,
		Account: acc,
		Amount:  amount,
		status:  TransferOpen,
		subject: observe.New[TransferState](),
	}
}

// SetOriginID records the venue id.
func (t *Transfer) SetOriginID(id string) error {
	t.mu.Lock()
	if t.status != TransferOpen {
		t.mu.Unlock()
		return ErrClosed
	}
	t.originID = id
	s := t.stateLocked()
	t.mu.Unlock()
	t.subject.Next(s)
	return nil
}

// Complete settles the transfer successfully.
func (t *Transfer) Complete() error { return t.close(TransferCompleted) }

// Fail settles the transfer as failed.
func (t *Transfer) Fail() error { return t.close(TransferFailed) }

func (t *Transfer) close(status TransferStatus) error {
	t.mu.Lock()
	if t.status != TransferOpen {
		t.mu.Unlock()
		return ErrClosed
	}
	t.status = status
	s := t.stateLocked()
	t.mu.Unlock()

	t.subject.Next(s)
	t.subject.Complete()
	return nil
}

func (t *Transfer) OriginID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.originID
}

func (t *Transfer) Status() TransferStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Transfer) IsOpen() bool      { return t.Status() == TransferOpen }
func (t *Transfer) IsCompleted() bool { return t.Status() == TransferCompleted }
func (t *Transfer) IsFailed() bool    { return t.Status() == TransferFailed }
func (t *Transfer) IsClosed() bool    { return !t.IsOpen() }

// State returns a copy of the fields.
func (t *Transfer) State() TransferState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stateLocked()
}

func (t *Transfer) stateLocked() TransferState {
	return TransferState{ID: t.ID, OriginID: t.originID, Type: t.Type, Status: t.status, Amount: t.Amount}
}

// Subscribe registers next for changes and done for settlement.
func (t *Transfer) Subscribe(next func(TransferState), done func()) func() {
	return t.subject.Subscribe(next, done)
}
