// Package custody defines the asset custody boundary.
//
// The engine never moves funds itself; it authorizes amounts and asks the
// custody service to execute the transfer.
package custody

import (
	"context"
	"errors"
	"sync"
)

// ErrInsufficientFunds indicates the pool balance cannot cover a transfer.
var ErrInsufficientFunds = errors.New("pool balance is insufficient")

// Ledger holds pool balances and executes authorized transfers.
type Ledger interface {
	// BalanceOf returns the pool's current balance.
	BalanceOf(ctx context.Context, poolID string) (uint64, error)
	// Transfer moves amount from the pool to the destination address.
	// Returns ErrInsufficientFunds when the pool cannot cover it.
	Transfer(ctx context.Context, poolID, to string, amount uint64) error
}

// MemoryLedger is an in-memory Ledger for tests and the operator CLI.
type MemoryLedger struct {
	mu        sync.Mutex
	balances  map[string]uint64
	transfers map[string]uint64
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:  make(map[string]uint64),
		transfers: make(map[string]uint64),
	}
}

// Fund adds amount to the pool's balance.
func (l *MemoryLedger) Fund(poolID string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[poolID] += amount
}

// BalanceOf returns the pool's current balance.
func (l *MemoryLedger) BalanceOf(_ context.Context, poolID string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[poolID], nil
}

// Transfer moves amount from the pool to the destination address.
func (l *MemoryLedger) Transfer(_ context.Context, poolID, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[poolID] < amount {
		return ErrInsufficientFunds
	}
	l.balances[poolID] -= amount
	l.transfers[to] += amount
	return nil
}

// Received returns the total amount transferred to an address.
func (l *MemoryLedger) Received(to string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfers[to]
}
