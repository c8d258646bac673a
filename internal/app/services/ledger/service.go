// Package ledger owns item existence and holder state: minting against the
// collection supply cap, burning, and transfers. Every transfer consults the
// market pre-transfer hook before holder state is mutated, so sale
// enforcement and settlement happen before ownership changes hands.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
	"github.com/R3E-Network/asset_layer/internal/app/events"
	"github.com/R3E-Network/asset_layer/internal/app/guard"
	"github.com/R3E-Network/asset_layer/internal/app/metrics"
	"github.com/R3E-Network/asset_layer/internal/app/storage"
	"github.com/R3E-Network/asset_layer/pkg/logger"
)

// RoleRegistry answers role membership queries and seeds the creator roles
// when a collection is created.
type RoleRegistry interface {
	Has(ctx context.Context, collectionID, role, principal string) (bool, error)
	Bootstrap(ctx context.Context, collectionID, creator string) error
}

// TransferHook is consulted before any holder mutation. AuthorizeTransfer is
// side-effect free; CommitTransfer performs settlement for sale-enforced
// paths and resets the sale record. A non-nil undo takes those side effects
// back when a later step of the same operation fails, so a batch with a
// failing entry leaves no settled leg behind. The ledger never mutates
// holder state when either call fails.
type TransferHook interface {
	AuthorizeTransfer(ctx context.Context, initiator, collectionID, from, to string, itemID uint64) error
	CommitTransfer(ctx context.Context, initiator, collectionID, from, to string, itemID uint64) (undo func(context.Context) error, err error)
}

// Service is the item ledger.
type Service struct {
	collections storage.CollectionStore
	items       storage.ItemStore
	sales       storage.SaleStore
	roles       RoleRegistry
	hook        TransferHook
	locks       *guard.Locks
	reentry     *guard.Reentry
	emitter     events.Emitter
	log         *logger.Logger
	budget      MeterFunc
}

// New constructs a ledger service. The transfer hook is wired afterwards via
// SetTransferHook because the market service depends on the ledger in turn.
func New(collections storage.CollectionStore, items storage.ItemStore, sales storage.SaleStore, roles RoleRegistry, locks *guard.Locks, reentry *guard.Reentry, emitter events.Emitter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if locks == nil {
		locks = guard.NewLocks()
	}
	if reentry == nil {
		reentry = guard.NewReentry()
	}
	return &Service{
		collections: collections,
		items:       items,
		sales:       sales,
		roles:       roles,
		locks:       locks,
		reentry:     reentry,
		emitter:     emitter,
		log:         log,
		budget:      Unlimited,
	}
}

// SetTransferHook wires the pre-transfer hook. Must be called before the
// first transfer.
func (s *Service) SetTransferHook(hook TransferHook) { s.hook = hook }

// SetBudget replaces the meter factory used by batch mint. The default meter
// is unlimited.
func (s *Service) SetBudget(fn MeterFunc) {
	if fn != nil {
		s.budget = fn
	}
}

// CreateCollection registers a new deployment of the engine and grants the
// creator ADMIN and MINTER. MaxSupply zero means unlimited.
func (s *Service) CreateCollection(ctx context.Context, creator, name, symbol string, maxSupply uint64) (asset.Collection, error) {
	creator = strings.TrimSpace(creator)
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if creator == "" {
		return asset.Collection{}, fmt.Errorf("creator is required: %w", asset.ErrInvalidArgument)
	}
	if name == "" || symbol == "" {
		return asset.Collection{}, fmt.Errorf("name and symbol are required: %w", asset.ErrInvalidArgument)
	}

	col, err := s.collections.CreateCollection(ctx, asset.Collection{
		Name:      name,
		Symbol:    symbol,
		MaxSupply: maxSupply,
	})
	if err != nil {
		return asset.Collection{}, err
	}
	if err := s.roles.Bootstrap(ctx, col.ID, creator); err != nil {
		return asset.Collection{}, err
	}

	s.emitter.Emit(events.Event{
		Type:         events.CollectionCreated,
		CollectionID: col.ID,
		Principal:    creator,
		Detail:       name,
	})
	s.log.WithField("collection", col.ID).
		WithField("creator", creator).
		Info("collection created")
	return col, nil
}

// Collection returns a collection record.
func (s *Service) Collection(ctx context.Context, collectionID string) (asset.Collection, error) {
	return s.collections.GetCollection(ctx, collectionID)
}

// Collections lists all collection records.
func (s *Service) Collections(ctx context.Context) ([]asset.Collection, error) {
	return s.collections.ListCollections(ctx)
}

// Mint issues the next identifier to holder. The caller must hold MINTER on
// the collection; an exhausted supply cap fails with ErrCapacityExceeded and
// leaves the counter unchanged.
func (s *Service) Mint(ctx context.Context, caller, collectionID, holder string) (asset.Item, error) {
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return asset.Item{}, fmt.Errorf("holder is required: %w", asset.ErrInvalidArgument)
	}
	if err := s.reentry.Check(collectionID); err != nil {
		return asset.Item{}, err
	}
	mu := s.locks.For(collectionID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.requireRole(ctx, caller, collectionID, asset.RoleMinter); err != nil {
		return asset.Item{}, err
	}
	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return asset.Item{}, err
	}
	if capReached(col) {
		return asset.Item{}, fmt.Errorf("collection %s minted %d of %d: %w", collectionID, col.Minted, col.MaxSupply, asset.ErrCapacityExceeded)
	}

	item, err := s.mintNext(ctx, &col, holder)
	if err != nil {
		return asset.Item{}, err
	}
	if _, err := s.collections.UpdateCollection(ctx, col); err != nil {
		return asset.Item{}, err
	}

	metrics.ItemsMinted.Inc()
	s.emitter.Emit(events.Event{
		Type:         events.ItemMinted,
		CollectionID: collectionID,
		ItemID:       item.ID,
		To:           holder,
	})
	s.log.WithField("collection", collectionID).
		WithField("item", item.ID).
		WithField("holder", holder).
		Info("item minted")
	return item, nil
}

// MintBatch issues up to count identifiers to holder. Completion is
// deliberately partial: the loop stops once the supply cap is reached or the
// per-call budget falls below the safety margin, and the caller must inspect
// the returned range rather than assume the requested count. It fails with
// ErrCapacityExceeded only when nothing could be minted for lack of
// capacity; first and last are meaningful only when minted > 0.
func (s *Service) MintBatch(ctx context.Context, caller, collectionID, holder string, count int) (first, last uint64, minted int, err error) {
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return 0, 0, 0, fmt.Errorf("holder is required: %w", asset.ErrInvalidArgument)
	}
	if count <= 0 {
		return 0, 0, 0, fmt.Errorf("count must be positive: %w", asset.ErrInvalidArgument)
	}
	if err := s.reentry.Check(collectionID); err != nil {
		return 0, 0, 0, err
	}
	mu := s.locks.For(collectionID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.requireRole(ctx, caller, collectionID, asset.RoleMinter); err != nil {
		return 0, 0, 0, err
	}
	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return 0, 0, 0, err
	}
	if capReached(col) {
		return 0, 0, 0, fmt.Errorf("collection %s minted %d of %d: %w", collectionID, col.Minted, col.MaxSupply, asset.ErrCapacityExceeded)
	}

	meter := s.budget()
	for minted < count {
		if capReached(col) {
			break
		}
		if meter.Remaining() < MintCost+SafetyMargin {
			break
		}
		item, mintErr := s.mintNext(ctx, &col, holder)
		if mintErr != nil {
			err = mintErr
			break
		}
		meter.Charge(MintCost)
		if minted == 0 {
			first = item.ID
		}
		last = item.ID
		minted++
	}

	if minted == 0 {
		return 0, 0, 0, err
	}
	if _, updateErr := s.collections.UpdateCollection(ctx, col); updateErr != nil {
		return 0, 0, 0, updateErr
	}
	metrics.ItemsMinted.Add(float64(minted))
	s.emitter.Emit(events.Event{
		Type:         events.BatchMinted,
		CollectionID: collectionID,
		FirstID:      first,
		LastID:       last,
		To:           holder,
		Count:        minted,
	})
	if err != nil {
		// The items minted so far exist; the caller still has to know the
		// store stopped the batch.
		s.log.WithError(err).
			WithField("collection", collectionID).
			WithField("minted", minted).
			Warn("batch mint stopped by store failure")
		return first, last, minted, err
	}
	s.log.WithField("collection", collectionID).
		WithField("first", first).
		WithField("last", last).
		WithField("requested", count).
		Info("batch minted")
	return first, last, minted, nil
}

// Burn marks an item non-existent and clears its holder. The caller must be
// the current holder or hold ADMIN. The identifier is never reassigned.
func (s *Service) Burn(ctx context.Context, caller, collectionID string, itemID uint64) error {
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
		isAdmin, err := s.roles.Has(ctx, collectionID, asset.RoleAdmin, caller)
		if err != nil {
			return err
		}
		if !isAdmin {
			return fmt.Errorf("caller %s is neither holder nor admin of item %d: %w", caller, itemID, asset.ErrUnauthorized)
		}
	}

	if err := s.burnOne(ctx, item); err != nil {
		return err
	}
	metrics.ItemsBurned.Inc()
	s.emitter.Emit(events.Event{
		Type:         events.ItemBurned,
		CollectionID: collectionID,
		ItemID:       itemID,
		Principal:    caller,
	})
	s.log.WithField("collection", collectionID).
		WithField("item", itemID).
		Info("item burned")
	return nil
}

// BurnBatch burns every listed item or none of them. The caller must hold
// ADMIN; any entry failing its existence check aborts the whole batch.
func (s *Service) BurnBatch(ctx context.Context, caller, collectionID string, itemIDs []uint64) error {
	if len(itemIDs) == 0 {
		return fmt.Errorf("no items given: %w", asset.ErrInvalidArgument)
	}
	if err := s.reentry.Check(collectionID); err != nil {
		return err
	}
	mu := s.locks.For(collectionID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.requireRole(ctx, caller, collectionID, asset.RoleAdmin); err != nil {
		return err
	}

	now := time.Now().UTC()
	updates := make([]asset.Item, 0, len(itemIDs))
	seen := make(map[uint64]bool, len(itemIDs))
	for _, id := range itemIDs {
		if seen[id] {
			return fmt.Errorf("item %d listed twice: %w", id, asset.ErrInvalidArgument)
		}
		seen[id] = true
		item, err := s.liveItem(ctx, collectionID, id)
		if err != nil {
			return err
		}
		item.Burned = true
		item.Holder = ""
		item.BurnedAt = now
		updates = append(updates, item)
	}

	// Reset the sale records before the holder mutation so a burned item can
	// never keep a live listing; any failure restores the records already
	// reset and leaves every item live.
	snapshots := make([]asset.SaleRecord, 0, len(itemIDs))
	for _, id := range itemIDs {
		snapshot, err := s.sales.GetSale(ctx, collectionID, id)
		if err != nil {
			s.restoreSales(ctx, snapshots)
			return err
		}
		if err := s.sales.PutSale(ctx, asset.NotForSale(collectionID, id)); err != nil {
			s.restoreSales(ctx, snapshots)
			return err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := s.items.ApplyItems(ctx, updates); err != nil {
		s.restoreSales(ctx, snapshots)
		return err
	}

	metrics.ItemsBurned.Add(float64(len(itemIDs)))
	s.emitter.Emit(events.Event{
		Type:         events.BatchBurned,
		CollectionID: collectionID,
		Principal:    caller,
		Count:        len(itemIDs),
	})
	s.log.WithField("collection", collectionID).
		WithField("count", len(itemIDs)).
		Info("batch burned")
	return nil
}

// Transfer reassigns an item's holder. The caller must be the current holder
// or an approved operator, and the market hook must authorize the transfer
// before any holder mutation. The whole call runs inside the reentrancy
// guard because sale-enforced transfers move funds.
func (s *Service) Transfer(ctx context.Context, caller, collectionID, from, to string, itemID uint64) error {
	if err := validateTransferParties(from, to); err != nil {
		return err
	}
	if err := s.reentry.Enter(collectionID); err != nil {
		return err
	}
	defer s.reentry.Exit(collectionID)
	mu := s.locks.For(collectionID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.authorizeCaller(ctx, caller, collectionID, from, itemID); err != nil {
		return err
	}
	if err := s.transferLocked(ctx, caller, collectionID, from, to, itemID); err != nil {
		return err
	}
	metrics.ItemsTransferred.Inc()
	return nil
}

// TransferBatch transfers every listed item from one holder to another or
// none of them: every entry is validated, including sale authorization,
// before the first mutation.
func (s *Service) TransferBatch(ctx context.Context, caller, collectionID, from, to string, itemIDs []uint64) error {
	if err := validateTransferParties(from, to); err != nil {
		return err
	}
	if len(itemIDs) == 0 {
		return fmt.Errorf("no items given: %w", asset.ErrInvalidArgument)
	}
	if err := s.reentry.Enter(collectionID); err != nil {
		return err
	}
	defer s.reentry.Exit(collectionID)
	mu := s.locks.For(collectionID)
	mu.Lock()
	defer mu.Unlock()

	seen := make(map[uint64]bool, len(itemIDs))
	staged := make([]asset.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		if seen[id] {
			return fmt.Errorf("item %d listed twice: %w", id, asset.ErrInvalidArgument)
		}
		seen[id] = true
		item, err := s.authorizeCaller(ctx, caller, collectionID, from, id)
		if err != nil {
			return err
		}
		if s.hook != nil {
			if err := s.hook.AuthorizeTransfer(ctx, caller, collectionID, from, to, id); err != nil {
				return err
			}
		}
		item.Holder = to
		staged = append(staged, item)
	}

	// Settle every entry before the first holder mutation; a failing entry
	// unwinds the legs already settled, and the holder updates land in one
	// atomic apply, so a failed batch has no partial effect.
	undos := make([]func(context.Context) error, 0, len(itemIDs))
	if s.hook != nil {
		for _, id := range itemIDs {
			undo, err := s.hook.CommitTransfer(ctx, caller, collectionID, from, to, id)
			if err != nil {
				s.unwind(ctx, collectionID, undos)
				return err
			}
			if undo != nil {
				undos = append(undos, undo)
			}
		}
	}
	if err := s.items.ApplyItems(ctx, staged); err != nil {
		s.unwind(ctx, collectionID, undos)
		return err
	}

	for _, id := range itemIDs {
		s.emitter.Emit(events.Event{
			Type:         events.ItemTransferred,
			CollectionID: collectionID,
			ItemID:       id,
			From:         from,
			To:           to,
			Principal:    caller,
		})
	}
	metrics.ItemsTransferred.Add(float64(len(itemIDs)))
	s.emitter.Emit(events.Event{
		Type:         events.BatchTransferred,
		CollectionID: collectionID,
		From:         from,
		To:           to,
		Count:        len(itemIDs),
	})
	s.log.WithField("collection", collectionID).
		WithField("from", from).
		WithField("to", to).
		WithField("count", len(itemIDs)).
		Info("batch transferred")
	return nil
}

// CompleteSale executes the ownership transfer of an in-progress sale on
// behalf of the market service, which already holds the collection's guard
// and lock. The hook still runs, so settlement and sale reset happen before
// the holder changes.
func (s *Service) CompleteSale(ctx context.Context, buyer, collectionID, from string, itemID uint64) error {
	return s.transferLocked(ctx, buyer, collectionID, from, buyer, itemID)
}

// SetOperator approves or revokes an operator for all of holder's items in
// the collection.
func (s *Service) SetOperator(ctx context.Context, holder, collectionID, operator string, approved bool) error {
	holder = strings.TrimSpace(holder)
	operator = strings.TrimSpace(operator)
	if holder == "" || operator == "" {
		return fmt.Errorf("holder and operator are required: %w", asset.ErrInvalidArgument)
	}
	if holder == operator {
		return fmt.Errorf("cannot approve self as operator: %w", asset.ErrInvalidArgument)
	}
	if err := s.reentry.Check(collectionID); err != nil {
		return err
	}
	return s.items.SetOperator(ctx, collectionID, holder, operator, approved)
}

// IsOperator reports whether operator is approved for all of holder's items.
func (s *Service) IsOperator(ctx context.Context, collectionID, holder, operator string) (bool, error) {
	return s.items.IsOperator(ctx, collectionID, holder, operator)
}

// Item returns an item record, including burned ones.
func (s *Service) Item(ctx context.Context, collectionID string, itemID uint64) (asset.Item, error) {
	return s.items.GetItem(ctx, collectionID, itemID)
}

// ItemsByHolder lists the live items held by a principal.
func (s *Service) ItemsByHolder(ctx context.Context, collectionID, holder string) ([]asset.Item, error) {
	return s.items.ListItemsByHolder(ctx, collectionID, holder)
}

// --- internals --------------------------------------------------------------

func (s *Service) mintNext(ctx context.Context, col *asset.Collection, holder string) (asset.Item, error) {
	item, err := s.items.CreateItem(ctx, asset.Item{
		CollectionID: col.ID,
		ID:           col.Minted,
		Holder:       holder,
		MintedAt:     time.Now().UTC(),
	})
	if err != nil {
		return asset.Item{}, err
	}
	col.Minted++
	return item, nil
}

// burnOne resets the sale record first so a burned item can never keep a
// live listing; a failed holder mutation restores the record.
func (s *Service) burnOne(ctx context.Context, item asset.Item) error {
	snapshot, err := s.sales.GetSale(ctx, item.CollectionID, item.ID)
	if err != nil {
		return err
	}
	if err := s.sales.PutSale(ctx, asset.NotForSale(item.CollectionID, item.ID)); err != nil {
		return err
	}
	item.Burned = true
	item.Holder = ""
	item.BurnedAt = time.Now().UTC()
	if _, err := s.items.UpdateItem(ctx, item); err != nil {
		if putErr := s.sales.PutSale(ctx, snapshot); putErr != nil {
			s.log.WithError(putErr).
				WithField("item", item.ID).
				Error("could not restore sale record after failed burn")
		}
		return err
	}
	return nil
}

func (s *Service) restoreSales(ctx context.Context, snapshots []asset.SaleRecord) {
	for i := len(snapshots) - 1; i >= 0; i-- {
		rec := snapshots[i]
		if err := s.sales.PutSale(ctx, rec); err != nil {
			s.log.WithError(err).
				WithField("item", rec.ItemID).
				Error("could not restore sale record")
		}
	}
}

func (s *Service) unwind(ctx context.Context, collectionID string, undos []func(context.Context) error) {
	for i := len(undos) - 1; i >= 0; i-- {
		if err := undos[i](ctx); err != nil {
			s.log.WithError(err).
				WithField("collection", collectionID).
				Error("could not unwind settled transfer")
		}
	}
}

func (s *Service) authorizeCaller(ctx context.Context, caller, collectionID, from string, itemID uint64) (asset.Item, error) {
	item, err := s.liveItem(ctx, collectionID, itemID)
	if err != nil {
		return asset.Item{}, err
	}
	if item.Holder != from {
		return asset.Item{}, fmt.Errorf("item %d is not held by %s: %w", itemID, from, asset.ErrUnauthorized)
	}
	if caller == from {
		return item, nil
	}
	approved, err := s.items.IsOperator(ctx, collectionID, from, caller)
	if err != nil {
		return asset.Item{}, err
	}
	if !approved {
		return asset.Item{}, fmt.Errorf("caller %s is not %s or an approved operator: %w", caller, from, asset.ErrUnauthorized)
	}
	return item, nil
}

// transferLocked runs the hook and reassigns the holder. Callers hold the
// collection lock and have verified caller authority over from.
func (s *Service) transferLocked(ctx context.Context, initiator, collectionID, from, to string, itemID uint64) error {
	item, err := s.liveItem(ctx, collectionID, itemID)
	if err != nil {
		return err
	}
	if item.Holder != from {
		return fmt.Errorf("item %d is not held by %s: %w", itemID, from, asset.ErrUnauthorized)
	}
	var undo func(context.Context) error
	if s.hook != nil {
		if err := s.hook.AuthorizeTransfer(ctx, initiator, collectionID, from, to, itemID); err != nil {
			return err
		}
		undo, err = s.hook.CommitTransfer(ctx, initiator, collectionID, from, to, itemID)
		if err != nil {
			return err
		}
	}

	item.Holder = to
	if _, err := s.items.UpdateItem(ctx, item); err != nil {
		if undo != nil {
			s.unwind(ctx, collectionID, []func(context.Context) error{undo})
		}
		return err
	}
	s.emitter.Emit(events.Event{
		Type:         events.ItemTransferred,
		CollectionID: collectionID,
		ItemID:       itemID,
		From:         from,
		To:           to,
		Principal:    initiator,
	})
	return nil
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

func (s *Service) requireRole(ctx context.Context, caller, collectionID, role string) error {
	ok, err := s.roles.Has(ctx, collectionID, role, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("caller %s lacks %s on collection %s: %w", caller, role, collectionID, asset.ErrUnauthorized)
	}
	return nil
}

func capReached(col asset.Collection) bool {
	return col.MaxSupply > 0 && col.Minted >= col.MaxSupply
}

func validateTransferParties(from, to string) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return fmt.Errorf("from and to are required: %w", asset.ErrInvalidArgument)
	}
	return nil
}
