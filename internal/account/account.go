// Package account models venue balances and deposit/withdrawal transfers.
package account

import (
	"sync"

	"tradecore/internal/observe"
)

// Account is the balance of one asset on a venue.
type Account struct {
	Type string

	mu      sync.RWMutex
	address string
	amount  float64
	subject *observe.Subject[State]
}

// State is a copy of an account's mutable fields.
type State struct {
	Type    string
	Address string
	Amount  float64
}

// New creates an account for asset type.
func New(typ string) *Account {
	return &Account{Type: typ, subject: observe.New[State]()}
}

// Address returns the deposit address, empty until refreshed.
func (a *Account) Address() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.address
}

// Amount returns the available balance.
func (a *Account) Amount() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.amount
}

// SetAddress stores a refreshed deposit address.
func (a *Account) SetAddress(address string) {
	a.mu.Lock()
	a.address = address
	s := a.stateLocked()
	a.mu.Unlock()
	a.subject.Next(s)
}

// SetAmount stores a refreshed balance.
func (a *Account) SetAmount(amount float64) {
	a.mu.Lock()
	a.amount = amount
	s := a.stateLocked()
	a.mu.Unlock()
	a.subject.Next(s)
}

// State returns a copy of the fields.
func (a *Account) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stateLocked()
}

func (a *Account) stateLocked() State {
	return State{Type: a.Type, Address: a.address, Amount: a.amount}
}

// Subscribe registers next for refreshes. A late subscriber gets the last
// state first.
func (a *Account) Subscribe(next func(State)) func() {
	return a.subject.Subscribe(next, nil)
}
