package settlement

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
	"github.com/R3E-Network/asset_layer/internal/app/services/registry"
	"github.com/R3E-Network/asset_layer/internal/app/storage/memory"
)

func seedCollection(t *testing.T, store *memory.Store, roles *registry.Service, bps uint64, recipient string) string {
	t.Helper()
	ctx := context.Background()
	col, err := store.CreateCollection(ctx, asset.Collection{
		Name:             "Artifacts",
		Symbol:           "ART",
		RoyaltyRecipient: recipient,
		RoyaltyBps:       bps,
	})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if err := roles.Bootstrap(ctx, col.ID, "alice"); err != nil {
		t.Fatalf("bootstrap roles: %v", err)
	}
	return col.ID
}

func TestSplit(t *testing.T) {
	cases := []struct {
		total, bps, royalty, seller uint64
	}{
		{1000, 500, 50, 950},
		{1000, 0, 0, 1000},
		{1000, 10000, 1000, 0},
		{999, 500, 49, 950}, // truncation favours the seller
		{1, 9999, 0, 1},
		{0, 500, 0, 0},
		// totals large enough to wrap a 64-bit product
		{1 << 62, 500, 230584300921369395, 4381101717506018509},
		{math.MaxUint64, 10000, math.MaxUint64, 0},
	}
	for _, c := range cases {
		royalty, seller := Split(c.total, c.bps)
		if royalty != c.royalty || seller != c.seller {
			t.Fatalf("Split(%d, %d) = %d, %d; want %d, %d", c.total, c.bps, royalty, seller, c.royalty, c.seller)
		}
		if royalty+seller != c.total {
			t.Fatalf("Split(%d, %d) legs do not sum to total", c.total, c.bps)
		}
	}
}

func TestSetRoyalty(t *testing.T) {
	store := memory.New()
	roles := registry.New(store, nil, nil)
	bank := NewBank()
	svc := New(store, roles, bank, nil, nil)
	ctx := context.Background()
	colID := seedCollection(t, store, roles, 0, "")

	if err := svc.SetRoyalty(ctx, "mallory", colID, "treasury", 500); !errors.Is(err, asset.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.SetRoyalty(ctx, "alice", colID, "", 500); !errors.Is(err, asset.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty recipient, got %v", err)
	}
	if err := svc.SetRoyalty(ctx, "alice", colID, "treasury", 10001); !errors.Is(err, asset.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for rate above denominator, got %v", err)
	}

	if err := svc.SetRoyalty(ctx, "alice", colID, "treasury", 500); err != nil {
		t.Fatalf("set royalty: %v", err)
	}
	recipient, bps, err := svc.Royalty(ctx, colID)
	if err != nil {
		t.Fatalf("royalty: %v", err)
	}
	if recipient != "treasury" || bps != 500 {
		t.Fatalf("expected treasury/500, got %s/%d", recipient, bps)
	}
}

func TestSettleSplitsBothLegs(t *testing.T) {
	store := memory.New()
	roles := registry.New(store, nil, nil)
	bank := NewBank()
	svc := New(store, roles, bank, nil, nil)
	ctx := context.Background()
	colID := seedCollection(t, store, roles, 500, "treasury")

	royalty, seller, err := svc.Settle(ctx, colID, 1000, "alice")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if royalty != 50 || seller != 950 {
		t.Fatalf("expected 50/950, got %d/%d", royalty, seller)
	}
	if bank.Balance("treasury") != 50 || bank.Balance("alice") != 950 {
		t.Fatalf("unexpected balances: %v", bank.Balances())
	}
}

func TestUnsettleReclaimsBothLegs(t *testing.T) {
	store := memory.New()
	roles := registry.New(store, nil, nil)
	bank := NewBank()
	svc := New(store, roles, bank, nil, nil)
	ctx := context.Background()
	colID := seedCollection(t, store, roles, 500, "treasury")

	royalty, seller, err := svc.Settle(ctx, colID, 1000, "alice")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := svc.Unsettle(ctx, colID, royalty, seller, "alice"); err != nil {
		t.Fatalf("unsettle: %v", err)
	}
	if bank.Balance("treasury") != 0 || bank.Balance("alice") != 0 {
		t.Fatalf("expected both legs reclaimed, got %v", bank.Balances())
	}
}

func TestSettleWithoutRecipientFailsWhenRoyaltyDue(t *testing.T) {
	store := memory.New()
	roles := registry.New(store, nil, nil)
	svc := New(store, roles, NewBank(), nil, nil)
	ctx := context.Background()
	colID := seedCollection(t, store, roles, 500, "")

	if _, _, err := svc.Settle(ctx, colID, 1000, "alice"); !errors.Is(err, asset.ErrDisbursementFailed) {
		t.Fatalf("expected ErrDisbursementFailed, got %v", err)
	}
}

// legFailDisburser pays the royalty leg and rejects the seller leg, while
// recording reclaims.
type legFailDisburser struct {
	bank      *Bank
	failFor   string
	reclaimed map[string]uint64
}

func (d *legFailDisburser) Disburse(ctx context.Context, recipient string, amount uint64) error {
	if recipient == d.failFor {
		return errors.New("recipient rejected payment")
	}
	return d.bank.Disburse(ctx, recipient, amount)
}

func (d *legFailDisburser) Reclaim(ctx context.Context, recipient string, amount uint64) error {
	if d.reclaimed == nil {
		d.reclaimed = make(map[string]uint64)
	}
	d.reclaimed[recipient] += amount
	return d.bank.Reclaim(ctx, recipient, amount)
}

func TestSettleUndoesRoyaltyLegOnSellerFailure(t *testing.T) {
	store := memory.New()
	roles := registry.New(store, nil, nil)
	d := &legFailDisburser{bank: NewBank(), failFor: "alice"}
	svc := New(store, roles, d, nil, nil)
	ctx := context.Background()
	colID := seedCollection(t, store, roles, 500, "treasury")

	if _, _, err := svc.Settle(ctx, colID, 1000, "alice"); !errors.Is(err, asset.ErrDisbursementFailed) {
		t.Fatalf("expected ErrDisbursementFailed, got %v", err)
	}
	if d.reclaimed["treasury"] != 50 {
		t.Fatalf("expected royalty leg reclaimed, got %v", d.reclaimed)
	}
	if d.bank.Balance("treasury") != 0 {
		t.Fatalf("expected treasury balance restored, got %d", d.bank.Balance("treasury"))
	}
}

func TestBank(t *testing.T) {
	bank := NewBank()
	ctx := context.Background()

	if err := bank.Disburse(ctx, "", 1); !errors.Is(err, asset.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty recipient, got %v", err)
	}
	if err := bank.Disburse(ctx, "alice", 100); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if err := bank.Reclaim(ctx, "alice", 200); err == nil {
		t.Fatalf("expected reclaim above balance to fail")
	}
	if err := bank.Reclaim(ctx, "alice", 40); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if bank.Balance("alice") != 60 {
		t.Fatalf("expected balance 60, got %d", bank.Balance("alice"))
	}
}
