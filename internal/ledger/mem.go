package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Mem is an in-memory Ledger. Safe for concurrent use; every call is a
// single atomic step under one mutex.
type Mem struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewMem returns an empty in-memory ledger.
func NewMem() *Mem {
	return &Mem{balances: make(map[string]uint64)}
}

func (m *Mem) Balance(_ context.Context, asset uuid.UUID, account Account) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey(asset, account)], nil
}

func (m *Mem) Transfer(_ context.Context, asset uuid.UUID, from, to Account, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromKey := balanceKey(asset, from)
	if m.balances[fromKey] < amount {
		return fmt.Errorf("transfer %d from %s: %w", amount, from, ErrInsufficientFunds)
	}
	m.balances[fromKey] -= amount
	m.balances[balanceKey(asset, to)] += amount
	return nil
}

func (m *Mem) Close(_ context.Context, asset uuid.UUID, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey(asset, account)
	if m.balances[key] != 0 {
		return fmt.Errorf("close %s: %w", account, ErrNonZeroBalance)
	}
	delete(m.balances, key)
	return nil
}

func (m *Mem) Deposit(_ context.Context, asset uuid.UUID, account Account, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey(asset, account)] += amount
	return nil
}
