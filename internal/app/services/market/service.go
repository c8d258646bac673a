// Package market implements the per-item sale state machine and the
// marketplace allowlist. It owns sale records, drives purchases through the
// ledger, and implements the ledger's pre-transfer hook: allowlisted
// initiators bypass royalty enforcement entirely, every other transfer must
// match an in-progress sale and settles before ownership moves.
package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
	"github.com/R3E-Network/asset_layer/internal/app/events"
	"github.com/R3E-Network/asset_layer/internal/app/guard"
	"github.com/R3E-Network/asset_layer/internal/app/metrics"
	"github.com/R3E-Network/asset_layer/internal/app/services/ledger"
	"github.com/R3E-Network/asset_layer/internal/app/storage"
	"github.com/R3E-Network/asset_layer/pkg/logger"
)

// Settler splits and disburses sale proceeds, and takes a completed
// settlement back when a transfer has to be unwound.
type Settler interface {
	Settle(ctx context.Context, collectionID string, total uint64, seller string) (royalty, sellerAmt uint64, err error)
	Unsettle(ctx context.Context, collectionID string, royalty, sellerAmt uint64, seller string) error
}

// RoleChecker answers role membership queries.
type RoleChecker interface {
	Has(ctx context.Context, collectionID, role, principal string) (bool, error)
}

// Service is the sale state machine.
type Service struct {
	collections storage.CollectionStore
	items       storage.ItemStore
	sales       storage.SaleStore
	roles       RoleChecker
	settler     Settler
	ledger      *ledger.Service
	locks       *guard.Locks
	reentry     *guard.Reentry
	emitter     events.Emitter
	log         *logger.Logger
}

var _ ledger.TransferHook = (*Service)(nil)

// New constructs a market service sharing the ledger's lock table and
// reentrancy guard.
func New(collections storage.CollectionStore, items storage.ItemStore, sales storage.SaleStore, roles RoleChecker, settler Settler, led *ledger.Service, locks *guard.Locks, reentry *guard.Reentry, emitter events.Emitter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("market")
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{
		collections: collections,
		items:       items,
		sales:       sales,
		roles:       roles,
		settler:     settler,
		ledger:      led,
		locks:       locks,
		reentry:     reentry,
		emitter:     emitter,
		log:         log,
	}
}

// SetPrice lists or delists an item. The caller must be the current holder
// and the sale must not be in progress. Price zero delists: the record
// returns to not-for-sale and the designated buyer is cleared. A positive
// price lists the item at that price.
func (s *Service) SetPrice(ctx context.Context, caller, collectionID string, itemID uint64, price uint64) error {
	if err := s.reentry.Check(collectionID); err != nil {
		return err
	}
	mu := s.locks.For(collectionID)
	mu.Lock()
	defer mu.Unlock()

	item, err := s.liveItem(ctx, collectionID, itemID)
	if err != nil {
		return err
	}
	if caller != item.Holder {
		return fmt.Errorf("caller %s does not hold item %d: %w", caller, itemID, asset.ErrUnauthorized)
	}
	sale, err := s.sales.GetSale(ctx, collectionID, itemID)
	if err != nil {
		return err
	}
	if sale.Status == asset.StatusInProgress {
		return fmt.Errorf("item %d has a sale in progress: %w", itemID, asset.ErrInvalidState)
	}

	if price == 0 {
		sale = asset.NotForSale(collectionID, itemID)
	} else {
		sale.Status = asset.StatusForSale
		sale.Price = price
	}
	if err := s.sales.PutSale(ctx, sale); err != nil {
		return err
	}

	s.emitter.Emit(events.Event{
		Type:         events.PriceSet,
		CollectionID: collectionID,
		ItemID:       itemID,
		Principal:    caller,
		Amount:       price,
	})
	s.log.WithField("collection", collectionID).
		WithField("item", itemID).
		WithField("price", price).
		Info("price set")
	return nil
}

// Purchase buys a listed item at or above its asking price. The sale record
// commits to in-progress, with the offered amount as the settlement base and
// the caller as designated buyer, before any funds move; the ownership
// transfer then runs through the ledger, whose hook settles royalty and
// resets the record. A failed settlement unwinds the record to its state
// before the call. The whole entry is wrapped in the reentrancy guard.
func (s *Service) Purchase(ctx context.Context, buyer, collectionID string, itemID uint64, offered uint64) error {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return fmt.Errorf("buyer is required: %w", asset.ErrInvalidArgument)
	}
	if err := s.reentry.Enter(collectionID); err != nil {
		return err
	}
	defer s.reentry.Exit(collectionID)
	mu := s.locks.For(collectionID)
	mu.Lock()
	defer mu.Unlock()

	item, err := s.liveItem(ctx, collectionID, itemID)
	if err != nil {
		return err
	}
	sale, err := s.sales.GetSale(ctx, collectionID, itemID)
	if err != nil {
		return err
	}
	if sale.Status != asset.StatusForSale {
		return fmt.Errorf("item %d is not for sale: %w", itemID, asset.ErrInvalidState)
	}
	if offered < sale.Price {
		return fmt.Errorf("offered %d below asking price %d: %w", offered, sale.Price, asset.ErrInsufficientOffer)
	}

	// Commit the state transition before any external fund movement. Paying
	// above ask is allowed and the offered amount becomes the settlement
	// base.
	snapshot := sale
	sale.Status = asset.StatusInProgress
	sale.Price = offered
	sale.Buyer = buyer
	if err := s.sales.PutSale(ctx, sale); err != nil {
		return err
	}

	if err := s.ledger.CompleteSale(ctx, buyer, collectionID, item.Holder, itemID); err != nil {
		// Unwind only if the record is still the in-progress sale this call
		// committed; settlement failures leave it exactly there.
		if cur, getErr := s.sales.GetSale(ctx, collectionID, itemID); getErr == nil &&
			cur.Status == asset.StatusInProgress && cur.Buyer == buyer {
			if putErr := s.sales.PutSale(ctx, snapshot); putErr != nil {
				s.log.WithError(putErr).
					WithField("item", itemID).
					Error("could not unwind sale record after failed purchase")
			}
		}
		return err
	}

	metrics.Purchases.Inc()
	metrics.SaleVolume.Add(float64(offered))
	s.emitter.Emit(events.Event{
		Type:         events.ItemPurchased,
		CollectionID: collectionID,
		ItemID:       itemID,
		From:         item.Holder,
		To:           buyer,
		Amount:       offered,
	})
	s.log.WithField("collection", collectionID).
		WithField("item", itemID).
		WithField("buyer", buyer).
		WithField("amount", offered).
		Info("item purchased")
	return nil
}

// Price returns the listed price of an item.
func (s *Service) Price(ctx context.Context, collectionID string, itemID uint64) (uint64, error) {
	if _, err := s.items.GetItem(ctx, collectionID, itemID); err != nil {
		return 0, err
	}
	sale, err := s.sales.GetSale(ctx, collectionID, itemID)
	if err != nil {
		return 0, err
	}
	return sale.Price, nil
}

// Status returns the sale status of an item.
func (s *Service) Status(ctx context.Context, collectionID string, itemID uint64) (asset.SaleStatus, error) {
	if _, err := s.items.GetItem(ctx, collectionID, itemID); err != nil {
		return "", err
	}
	sale, err := s.sales.GetSale(ctx, collectionID, itemID)
	if err != nil {
		return "", err
	}
	return sale.Status, nil
}

// Sale returns the full sale record of an item.
func (s *Service) Sale(ctx context.Context, collectionID string, itemID uint64) (asset.SaleRecord, error) {
	if _, err := s.items.GetItem(ctx, collectionID, itemID); err != nil {
		return asset.SaleRecord{}, err
	}
	return s.sales.GetSale(ctx, collectionID, itemID)
}

// SetMarketplaces replaces the collection's marketplace allowlist wholesale.
// The caller must hold ADMIN. Allowlisted principals are trusted to settle
// payment externally, so their transfers bypass royalty enforcement.
func (s *Service) SetMarketplaces(ctx context.Context, caller, collectionID string, marketplaces []string) error {
	if err := s.reentry.Check(collectionID); err != nil {
		return err
	}
	mu := s.locks.For(collectionID)
	mu.Lock()
	defer mu.Unlock()

	ok, err := s.roles.Has(ctx, collectionID, asset.RoleAdmin, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("caller %s lacks %s on collection %s: %w", caller, asset.RoleAdmin, collectionID, asset.ErrUnauthorized)
	}

	cleaned := make([]string, 0, len(marketplaces))
	seen := make(map[string]bool, len(marketplaces))
	for _, m := range marketplaces {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		cleaned = append(cleaned, m)
	}

	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	col.Marketplaces = cleaned
	if _, err := s.collections.UpdateCollection(ctx, col); err != nil {
		return err
	}

	s.emitter.Emit(events.Event{
		Type:         events.MarketplaceChanged,
		CollectionID: collectionID,
		Principal:    caller,
		Count:        len(cleaned),
	})
	s.log.WithField("collection", collectionID).
		WithField("marketplaces", len(cleaned)).
		Info("marketplace allowlist replaced")
	return nil
}

// ClearMarketplaces empties the allowlist.
func (s *Service) ClearMarketplaces(ctx context.Context, caller, collectionID string) error {
	return s.SetMarketplaces(ctx, caller, collectionID, nil)
}

// Marketplaces returns the current allowlist.
func (s *Service) Marketplaces(ctx context.Context, collectionID string) ([]string, error) {
	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return col.Marketplaces, nil
}

// --- ledger.TransferHook ----------------------------------------------------

// AuthorizeTransfer vetoes transfers that are neither allowlisted nor the
// completion of an in-progress sale to the designated buyer. It is
// side-effect free.
func (s *Service) AuthorizeTransfer(ctx context.Context, initiator, collectionID, from, to string, itemID uint64) error {
	exempt, err := s.isAllowlisted(ctx, collectionID, initiator)
	if err != nil {
		return err
	}
	if exempt {
		return nil
	}

	sale, err := s.sales.GetSale(ctx, collectionID, itemID)
	if err != nil {
		return err
	}
	if sale.Status != asset.StatusInProgress || sale.Buyer != to {
		return fmt.Errorf("item %d has no in-progress sale to %s: %w", itemID, to, asset.ErrTransferNotAuthorized)
	}
	return nil
}

// CommitTransfer settles the in-progress sale and resets the record to
// not-for-sale. Allowlisted initiators are exempt: they settled externally
// and no sale or royalty state is touched. The reset happens only after a
// successful settlement, so an aborted settlement leaves the record
// unmutated and the ledger aborts the transfer. The returned undo reclaims
// both settled legs and restores the sale record when a later step of the
// same transfer fails.
func (s *Service) CommitTransfer(ctx context.Context, initiator, collectionID, from, to string, itemID uint64) (func(context.Context) error, error) {
	exempt, err := s.isAllowlisted(ctx, collectionID, initiator)
	if err != nil {
		return nil, err
	}
	if exempt {
		return nil, nil
	}

	sale, err := s.sales.GetSale(ctx, collectionID, itemID)
	if err != nil {
		return nil, err
	}
	if sale.Status != asset.StatusInProgress || sale.Buyer != to {
		return nil, fmt.Errorf("item %d has no in-progress sale to %s: %w", itemID, to, asset.ErrTransferNotAuthorized)
	}

	royaltyAmt, sellerAmt, err := s.settler.Settle(ctx, collectionID, sale.Price, from)
	if err != nil {
		return nil, err
	}
	if err := s.sales.PutSale(ctx, asset.NotForSale(collectionID, itemID)); err != nil {
		if unErr := s.settler.Unsettle(ctx, collectionID, royaltyAmt, sellerAmt, from); unErr != nil {
			s.log.WithError(unErr).
				WithField("item", itemID).
				Error("could not take back settlement after failed sale reset")
		}
		return nil, err
	}

	snapshot := sale
	undo := func(ctx context.Context) error {
		if err := s.settler.Unsettle(ctx, collectionID, royaltyAmt, sellerAmt, from); err != nil {
			return err
		}
		return s.sales.PutSale(ctx, snapshot)
	}

	metrics.RoyaltyPaid.Add(float64(royaltyAmt))
	s.log.WithField("collection", collectionID).
		WithField("item", itemID).
		WithField("royalty", royaltyAmt).
		WithField("seller_amount", sellerAmt).
		Debug("sale settled and record reset")
	return undo, nil
}

func (s *Service) isAllowlisted(ctx context.Context, collectionID, principal string) (bool, error) {
	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return false, err
	}
	for _, m := range col.Marketplaces {
		if m == principal {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) liveItem(ctx context.Context, collectionID string, itemID uint64) (asset.Item, error) {
	item, err := s.items.GetItem(ctx, collectionID, itemID)
	if err != nil {
		return asset.Item{}, err
	}
	if item.Burned {
		return asset.Item{}, fmt.Errorf("item %d in collection %s is burned: %w", itemID, collectionID, asset.ErrNotFound)
	}
	return item, nil
}
