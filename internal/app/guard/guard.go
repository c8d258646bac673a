// Package guard provides the serialization primitives shared by the ledger
// and market services: a per-collection lock table that linearizes mutating
// operations, and a per-collection non-reentrant flag that rejects calls
// arriving while a purchase or transfer has settlement funds in flight.
package guard

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
)

// Locks hands out one mutex per collection so every mutating operation on an
// instance runs to completion before the next begins.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// For returns the mutex for the collection, creating it on first use.
func (l *Locks) For(collectionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[collectionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[collectionID] = m
	}
	return m
}

// Reentry is the non-reentrant flag wrapping the purchase and transfer entry
// points. A disbursement may hand control to external logic that calls back
// into the engine; any such call observes the flag and fails fast instead of
// nesting into the settlement path. The flag is released on every exit path.
type Reentry struct {
	mu    sync.Mutex
	flags map[string]*atomic.Bool
}

// NewReentry creates an empty guard.
func NewReentry() *Reentry {
	return &Reentry{flags: make(map[string]*atomic.Bool)}
}

func (r *Reentry) flag(collectionID string) *atomic.Bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[collectionID]
	if !ok {
		f = &atomic.Bool{}
		r.flags[collectionID] = f
	}
	return f
}

// Enter claims the guarded region for the collection. It fails with
// asset.ErrReentrancyRejected when the region is already active.
func (r *Reentry) Enter(collectionID string) error {
	if !r.flag(collectionID).CompareAndSwap(false, true) {
		return fmt.Errorf("collection %s: %w", collectionID, asset.ErrReentrancyRejected)
	}
	return nil
}

// Exit releases the guarded region.
func (r *Reentry) Exit(collectionID string) {
	r.flag(collectionID).Store(false)
}

// Check fails when the guarded region for the collection is active. Mutating
// entry points that do not move funds still call this so a reentrant callback
// cannot observe or produce a half-updated instance.
func (r *Reentry) Check(collectionID string) error {
	if r.flag(collectionID).Load() {
		return fmt.Errorf("collection %s: %w", collectionID, asset.ErrReentrancyRejected)
	}
	return nil
}
