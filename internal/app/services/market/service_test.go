package market

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
	"github.com/R3E-Network/asset_layer/internal/app/guard"
	"github.com/R3E-Network/asset_layer/internal/app/services/ledger"
	"github.com/R3E-Network/asset_layer/internal/app/services/registry"
	"github.com/R3E-Network/asset_layer/internal/app/services/settlement"
	"github.com/R3E-Network/asset_layer/internal/app/storage/memory"
)

type fixture struct {
	store      *memory.Store
	registry   *registry.Service
	settlement *settlement.Service
	ledger     *ledger.Service
	market     *Service
	bank       *settlement.Bank
}

func newFixture(t *testing.T, disburser settlement.Disburser) *fixture {
	t.Helper()
	store := memory.New()
	locks := guard.NewLocks()
	reentry := guard.NewReentry()

	var bank *settlement.Bank
	if disburser == nil {
		bank = settlement.NewBank()
		disburser = bank
	}

	registrySvc := registry.New(store, nil, nil)
	settlementSvc := settlement.New(store, registrySvc, disburser, nil, nil)
	ledgerSvc := ledger.New(store, store, store, registrySvc, locks, reentry, nil, nil)
	marketSvc := New(store, store, store, registrySvc, settlementSvc, ledgerSvc, locks, reentry, nil, nil)
	ledgerSvc.SetTransferHook(marketSvc)

	return &fixture{
		store:      store,
		registry:   registrySvc,
		settlement: settlementSvc,
		ledger:     ledgerSvc,
		market:     marketSvc,
		bank:       bank,
	}
}

// newListing creates a collection owned by alice with one item held by
// alice, listed at the given price when price is positive.
func (f *fixture) newListing(t *testing.T, price uint64) string {
	t.Helper()
	ctx := context.Background()
	col, err := f.ledger.CreateCollection(ctx, "alice", "Artifacts", "ART", 0)
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if _, err := f.ledger.Mint(ctx, "alice", col.ID, "alice"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if price > 0 {
		if err := f.market.SetPrice(ctx, "alice", col.ID, 0, price); err != nil {
			t.Fatalf("set price: %v", err)
		}
	}
	return col.ID
}

func TestSetPriceRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 0)

	if err := f.market.SetPrice(ctx, "mallory", colID, 0, 100); !errors.Is(err, asset.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-holder, got %v", err)
	}

	if err := f.market.SetPrice(ctx, "alice", colID, 0, 100); err != nil {
		t.Fatalf("list: %v", err)
	}
	status, err := f.market.Status(ctx, colID, 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != asset.StatusForSale {
		t.Fatalf("expected for_sale, got %s", status)
	}

	// Repricing keeps an existing designated buyer; delisting clears it.
	if err := f.store.PutSale(ctx, asset.SaleRecord{
		CollectionID: colID, ItemID: 0, Status: asset.StatusForSale, Price: 100, Buyer: "bob",
	}); err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	if err := f.market.SetPrice(ctx, "alice", colID, 0, 150); err != nil {
		t.Fatalf("reprice: %v", err)
	}
	sale, err := f.market.Sale(ctx, colID, 0)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if sale.Price != 150 || sale.Buyer != "bob" {
		t.Fatalf("reprice must keep the buyer, got %+v", sale)
	}

	if err := f.market.SetPrice(ctx, "alice", colID, 0, 0); err != nil {
		t.Fatalf("delist: %v", err)
	}
	sale, err = f.market.Sale(ctx, colID, 0)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if sale.Status != asset.StatusNotForSale || sale.Price != 0 || sale.Buyer != "" {
		t.Fatalf("delist must reset the record, got %+v", sale)
	}
}

func TestSetPriceRejectsInProgressSale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 0)

	if err := f.store.PutSale(ctx, asset.SaleRecord{
		CollectionID: colID, ItemID: 0, Status: asset.StatusInProgress, Price: 100, Buyer: "bob",
	}); err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	if err := f.market.SetPrice(ctx, "alice", colID, 0, 200); !errors.Is(err, asset.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPurchaseSettlesAndTransfers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 1000)

	if err := f.settlement.SetRoyalty(ctx, "alice", colID, "treasury", 500); err != nil {
		t.Fatalf("set royalty: %v", err)
	}

	if err := f.market.Purchase(ctx, "bob", colID, 0, 1000); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	item, err := f.ledger.Item(ctx, colID, 0)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Holder != "bob" {
		t.Fatalf("expected holder bob, got %s", item.Holder)
	}
	if got := f.bank.Balance("treasury"); got != 50 {
		t.Fatalf("expected royalty 50, got %d", got)
	}
	if got := f.bank.Balance("alice"); got != 950 {
		t.Fatalf("expected seller 950, got %d", got)
	}

	sale, err := f.market.Sale(ctx, colID, 0)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if sale.Status != asset.StatusNotForSale || sale.Price != 0 || sale.Buyer != "" {
		t.Fatalf("expected reset record after purchase, got %+v", sale)
	}
}

func TestPurchaseOverpayIsSettlementBase(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 1000)

	if err := f.settlement.SetRoyalty(ctx, "alice", colID, "treasury", 500); err != nil {
		t.Fatalf("set royalty: %v", err)
	}
	if err := f.market.Purchase(ctx, "bob", colID, 0, 1200); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got := f.bank.Balance("treasury"); got != 60 {
		t.Fatalf("expected royalty 60 on overpay, got %d", got)
	}
	if got := f.bank.Balance("alice"); got != 1140 {
		t.Fatalf("expected seller 1140 on overpay, got %d", got)
	}
}

func TestPurchaseRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 1000)

	if err := f.market.Purchase(ctx, "bob", colID, 0, 999); !errors.Is(err, asset.ErrInsufficientOffer) {
		t.Fatalf("expected ErrInsufficientOffer, got %v", err)
	}
	status, err := f.market.Status(ctx, colID, 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != asset.StatusForSale {
		t.Fatalf("rejected purchase must leave the listing, got %s", status)
	}

	if err := f.market.SetPrice(ctx, "alice", colID, 0, 0); err != nil {
		t.Fatalf("delist: %v", err)
	}
	if err := f.market.Purchase(ctx, "bob", colID, 0, 1000); !errors.Is(err, asset.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for unlisted item, got %v", err)
	}

	if err := f.market.Purchase(ctx, "bob", colID, 99, 1000); !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing item, got %v", err)
	}
}

type failingDisburser struct {
	failFor string
}

func (d *failingDisburser) Disburse(ctx context.Context, recipient string, amount uint64) error {
	if recipient == d.failFor {
		return errors.New("recipient rejected payment")
	}
	return nil
}

func TestFailedSettlementAbortsPurchase(t *testing.T) {
	f := newFixture(t, &failingDisburser{failFor: "alice"})
	ctx := context.Background()
	colID := f.newListing(t, 1000)

	err := f.market.Purchase(ctx, "bob", colID, 0, 1000)
	if !errors.Is(err, asset.ErrDisbursementFailed) {
		t.Fatalf("expected ErrDisbursementFailed, got %v", err)
	}

	// Ownership must not move and the listing is restored.
	item, err := f.ledger.Item(ctx, colID, 0)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Holder != "alice" {
		t.Fatalf("failed settlement must not move the item, holder is %s", item.Holder)
	}
	sale, err := f.market.Sale(ctx, colID, 0)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if sale.Status != asset.StatusForSale || sale.Price != 1000 || sale.Buyer != "" {
		t.Fatalf("expected restored listing, got %+v", sale)
	}
}

func TestNonSaleTransferRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 1000)

	err := f.ledger.Transfer(ctx, "alice", colID, "alice", "carol", 0)
	if !errors.Is(err, asset.ErrTransferNotAuthorized) {
		t.Fatalf("expected ErrTransferNotAuthorized, got %v", err)
	}
	item, err := f.ledger.Item(ctx, colID, 0)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Holder != "alice" {
		t.Fatalf("vetoed transfer must not move the item, holder is %s", item.Holder)
	}
}

func TestAllowlistedTransferBypassesSettlement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 1000)

	if err := f.market.SetMarketplaces(ctx, "alice", colID, []string{"market-x"}); err != nil {
		t.Fatalf("set marketplaces: %v", err)
	}
	if err := f.ledger.SetOperator(ctx, "alice", colID, "market-x", true); err != nil {
		t.Fatalf("set operator: %v", err)
	}

	if err := f.ledger.Transfer(ctx, "market-x", colID, "alice", "bob", 0); err != nil {
		t.Fatalf("allowlisted transfer: %v", err)
	}
	item, err := f.ledger.Item(ctx, colID, 0)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Holder != "bob" {
		t.Fatalf("expected holder bob, got %s", item.Holder)
	}

	// No settlement ran and the sale record was not touched.
	if got := f.bank.Balance("alice"); got != 0 {
		t.Fatalf("allowlisted transfer must not settle, alice has %d", got)
	}
	sale, err := f.market.Sale(ctx, colID, 0)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if sale.Status != asset.StatusForSale || sale.Price != 1000 {
		t.Fatalf("allowlisted transfer must leave the record alone, got %+v", sale)
	}
}

func TestAllowlistedBuyerSkipsSettlement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 1000)

	if err := f.market.SetMarketplaces(ctx, "alice", colID, []string{"market-x"}); err != nil {
		t.Fatalf("set marketplaces: %v", err)
	}

	// An allowlisted principal buying directly is exempt from the hook, so
	// ownership moves without settlement and the committed in-progress
	// record stays behind until the next listing change.
	if err := f.market.Purchase(ctx, "market-x", colID, 0, 1000); err != nil {
		t.Fatalf("allowlisted purchase: %v", err)
	}
	item, err := f.ledger.Item(ctx, colID, 0)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Holder != "market-x" {
		t.Fatalf("expected holder market-x, got %s", item.Holder)
	}
	if got := f.bank.Balance("alice"); got != 0 {
		t.Fatalf("no settlement expected, alice has %d", got)
	}
	status, err := f.market.Status(ctx, colID, 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != asset.StatusInProgress {
		t.Fatalf("expected in_progress leftover record, got %s", status)
	}
}

func TestMarketplaceAllowlistManagement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	colID := f.newListing(t, 0)

	if err := f.market.SetMarketplaces(ctx, "mallory", colID, []string{"m"}); !errors.Is(err, asset.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := f.market.SetMarketplaces(ctx, "alice", colID, []string{" market-x ", "market-x", "", "market-y"}); err != nil {
		t.Fatalf("set marketplaces: %v", err)
	}
	list, err := f.market.Marketplaces(ctx, colID)
	if err != nil {
		t.Fatalf("marketplaces: %v", err)
	}
	if len(list) != 2 || list[0] != "market-x" || list[1] != "market-y" {
		t.Fatalf("expected trimmed deduplicated list, got %v", list)
	}

	if err := f.market.ClearMarketplaces(ctx, "alice", colID); err != nil {
		t.Fatalf("clear marketplaces: %v", err)
	}
	list, err = f.market.Marketplaces(ctx, colID)
	if err != nil {
		t.Fatalf("marketplaces: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty allowlist, got %v", list)
	}
}

// reentrantDisburser calls back into the market mid-settlement, the way a
// malicious recipient would.
type reentrantDisburser struct {
	market *Service
	colID  string
	seen   []error
}

func (d *reentrantDisburser) Disburse(ctx context.Context, recipient string, amount uint64) error {
	d.seen = append(d.seen, d.market.Purchase(ctx, "mallory", d.colID, 0, 1000))
	d.seen = append(d.seen, d.market.SetPrice(ctx, recipient, d.colID, 0, 1))
	return nil
}

func TestReentrantCallsRejectedDuringSettlement(t *testing.T) {
	d := &reentrantDisburser{}
	f := newFixture(t, d)
	ctx := context.Background()
	colID := f.newListing(t, 1000)
	d.market = f.market
	d.colID = colID

	if err := f.market.Purchase(ctx, "bob", colID, 0, 1000); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if len(d.seen) == 0 {
		t.Fatalf("disburser was never invoked")
	}
	for i, err := range d.seen {
		if !errors.Is(err, asset.ErrReentrancyRejected) {
			t.Fatalf("nested call %d: expected ErrReentrancyRejected, got %v", i, err)
		}
	}

	// The outer purchase completed normally.
	item, err := f.ledger.Item(ctx, colID, 0)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Holder != "bob" {
		t.Fatalf("expected holder bob, got %s", item.Holder)
	}
}

// quotaDisburser pays into a bank until its call quota is exhausted, then
// rejects every further payment. Reclaims always go through.
type quotaDisburser struct {
	bank  *settlement.Bank
	quota int
	calls int
}

func (d *quotaDisburser) Disburse(ctx context.Context, recipient string, amount uint64) error {
	d.calls++
	if d.calls > d.quota {
		return errors.New("payment quota exhausted")
	}
	return d.bank.Disburse(ctx, recipient, amount)
}

func (d *quotaDisburser) Reclaim(ctx context.Context, recipient string, amount uint64) error {
	return d.bank.Reclaim(ctx, recipient, amount)
}

// seedInProgressPair mints a second item and puts both items of the
// collection into an in-progress sale to bob at 100.
func (f *fixture) seedInProgressPair(t *testing.T, colID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.ledger.Mint(ctx, "alice", colID, "alice"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	for _, itemID := range []uint64{0, 1} {
		if err := f.store.PutSale(ctx, asset.SaleRecord{
			CollectionID: colID, ItemID: itemID, Status: asset.StatusInProgress, Price: 100, Buyer: "bob",
		}); err != nil {
			t.Fatalf("seed sale: %v", err)
		}
	}
}

func TestFailedBatchSettlementLeavesNoPartialEffect(t *testing.T) {
	d := &quotaDisburser{bank: settlement.NewBank(), quota: 1}
	f := newFixture(t, d)
	ctx := context.Background()
	colID := f.newListing(t, 0)
	f.seedInProgressPair(t, colID)

	err := f.ledger.TransferBatch(ctx, "alice", colID, "alice", "bob", []uint64{0, 1})
	if !errors.Is(err, asset.ErrDisbursementFailed) {
		t.Fatalf("expected ErrDisbursementFailed, got %v", err)
	}

	for _, itemID := range []uint64{0, 1} {
		item, err := f.ledger.Item(ctx, colID, itemID)
		if err != nil {
			t.Fatalf("item %d: %v", itemID, err)
		}
		if item.Holder != "alice" {
			t.Fatalf("item %d moved to %s after failed batch", itemID, item.Holder)
		}
		sale, err := f.store.GetSale(ctx, colID, itemID)
		if err != nil {
			t.Fatalf("sale %d: %v", itemID, err)
		}
		if sale.Status != asset.StatusInProgress || sale.Price != 100 || sale.Buyer != "bob" {
			t.Fatalf("sale %d not restored: %+v", itemID, sale)
		}
	}
	if d.bank.Balance("alice") != 0 {
		t.Fatalf("seller kept payment from failed batch: %d", d.bank.Balance("alice"))
	}
}

func TestBatchTransferSettlesEachSale(t *testing.T) {
	d := &quotaDisburser{bank: settlement.NewBank(), quota: 10}
	f := newFixture(t, d)
	ctx := context.Background()
	colID := f.newListing(t, 0)
	f.seedInProgressPair(t, colID)

	if err := f.ledger.TransferBatch(ctx, "alice", colID, "alice", "bob", []uint64{0, 1}); err != nil {
		t.Fatalf("transfer batch: %v", err)
	}

	for _, itemID := range []uint64{0, 1} {
		item, err := f.ledger.Item(ctx, colID, itemID)
		if err != nil {
			t.Fatalf("item %d: %v", itemID, err)
		}
		if item.Holder != "bob" {
			t.Fatalf("item %d held by %s, want bob", itemID, item.Holder)
		}
		status, err := f.market.Status(ctx, colID, itemID)
		if err != nil {
			t.Fatalf("status %d: %v", itemID, err)
		}
		if status != asset.StatusNotForSale {
			t.Fatalf("sale %d not reset, got %s", itemID, status)
		}
	}
	if d.bank.Balance("alice") != 200 {
		t.Fatalf("expected seller paid 200, got %d", d.bank.Balance("alice"))
	}
}
