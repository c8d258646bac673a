package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
)

// Bank is an in-process balance book implementing the Disburser boundary. It
// is the default wiring for deployments that settle internally and the
// fixture used by tests.
type Bank struct {
	mu       sync.RWMutex
	balances map[string]uint64
}

var _ Disburser = (*Bank)(nil)
var _ Reclaimer = (*Bank)(nil)

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{balances: make(map[string]uint64)}
}

// Disburse credits the recipient.
func (b *Bank) Disburse(ctx context.Context, recipient string, amount uint64) error {
	if recipient == "" {
		return fmt.Errorf("recipient is required: %w", asset.ErrInvalidArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[recipient] += amount
	return nil
}

// Reclaim debits a previously disbursed amount.
func (b *Bank) Reclaim(ctx context.Context, recipient string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[recipient] < amount {
		return fmt.Errorf("balance of %s below reclaim amount %d", recipient, amount)
	}
	b.balances[recipient] -= amount
	return nil
}

// Balance returns the current balance of a principal.
func (b *Bank) Balance(principal string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[principal]
}

// Balances returns a copy of the full balance book.
func (b *Bank) Balances() map[string]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]uint64, len(b.balances))
	for principal, amount := range b.balances {
		out[principal] = amount
	}
	return out
}
