package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
	"github.com/R3E-Network/asset_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu          sync.RWMutex
	collections map[string]asset.Collection
	roles       map[string]map[string]map[string]bool // collection -> role -> principal
	items       map[string]map[uint64]asset.Item
	operators   map[string]map[string]map[string]bool // collection -> holder -> operator
	sales       map[string]map[uint64]asset.SaleRecord
}

var _ storage.CollectionStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)
var _ storage.ItemStore = (*Store)(nil)
var _ storage.SaleStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]asset.Collection),
		roles:       make(map[string]map[string]map[string]bool),
		items:       make(map[string]map[uint64]asset.Item),
		operators:   make(map[string]map[string]map[string]bool),
		sales:       make(map[string]map[uint64]asset.SaleRecord),
	}
}

// --- CollectionStore --------------------------------------------------------

func (s *Store) CreateCollection(ctx context.Context, col asset.Collection) (asset.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col.ID == "" {
		col.ID = uuid.NewString()
	}
	if _, ok := s.collections[col.ID]; ok {
		return asset.Collection{}, fmt.Errorf("collection %s already exists", col.ID)
	}
	now := time.Now().UTC()
	col.CreatedAt = now
	col.UpdatedAt = now
	s.collections[col.ID] = cloneCollection(col)
	return col, nil
}

func (s *Store) UpdateCollection(ctx context.Context, col asset.Collection) (asset.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.collections[col.ID]
	if !ok {
		return asset.Collection{}, fmt.Errorf("collection %s: %w", col.ID, asset.ErrNotFound)
	}
	col.CreatedAt = existing.CreatedAt
	col.UpdatedAt = time.Now().UTC()
	s.collections[col.ID] = cloneCollection(col)
	return col, nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (asset.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[id]
	if !ok {
		return asset.Collection{}, fmt.Errorf("collection %s: %w", id, asset.ErrNotFound)
	}
	return cloneCollection(col), nil
}

func (s *Store) ListCollections(ctx context.Context) ([]asset.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]asset.Collection, 0, len(s.collections))
	for _, col := range s.collections {
		out = append(out, cloneCollection(col))
	}
	return out, nil
}

// --- RoleStore --------------------------------------------------------------

func (s *Store) GrantRole(ctx context.Context, collectionID, role, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRole, ok := s.roles[collectionID]
	if !ok {
		byRole = make(map[string]map[string]bool)
		s.roles[collectionID] = byRole
	}
	members, ok := byRole[role]
	if !ok {
		members = make(map[string]bool)
		byRole[role] = members
	}
	members[principal] = true
	return nil
}

func (s *Store) RevokeRole(ctx context.Context, collectionID, role, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byRole, ok := s.roles[collectionID]; ok {
		delete(byRole[role], principal)
	}
	return nil
}

func (s *Store) HasRole(ctx context.Context, collectionID, role, principal string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byRole, ok := s.roles[collectionID]
	if !ok {
		return false, nil
	}
	return byRole[role][principal], nil
}

func (s *Store) ListRoleMembers(ctx context.Context, collectionID, role string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	if byRole, ok := s.roles[collectionID]; ok {
		for principal := range byRole[role] {
			out = append(out, principal)
		}
	}
	return out, nil
}

// --- ItemStore --------------------------------------------------------------

func (s *Store) CreateItem(ctx context.Context, item asset.Item) (asset.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.items[item.CollectionID]
	if !ok {
		byID = make(map[uint64]asset.Item)
		s.items[item.CollectionID] = byID
	}
	if _, ok := byID[item.ID]; ok {
		return asset.Item{}, fmt.Errorf("item %d already exists in collection %s", item.ID, item.CollectionID)
	}
	if item.MintedAt.IsZero() {
		item.MintedAt = time.Now().UTC()
	}
	byID[item.ID] = item
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item asset.Item) (asset.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureItemLocked(item.CollectionID, item.ID); err != nil {
		return asset.Item{}, err
	}
	s.items[item.CollectionID][item.ID] = item
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, collectionID string, id uint64) (asset.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, ok := s.items[collectionID]
	if !ok {
		return asset.Item{}, fmt.Errorf("item %d in collection %s: %w", id, collectionID, asset.ErrNotFound)
	}
	item, ok := byID[id]
	if !ok {
		return asset.Item{}, fmt.Errorf("item %d in collection %s: %w", id, collectionID, asset.ErrNotFound)
	}
	return item, nil
}

func (s *Store) ListItemsByHolder(ctx context.Context, collectionID, holder string) ([]asset.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []asset.Item
	for _, item := range s.items[collectionID] {
		if !item.Burned && item.Holder == holder {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Store) ApplyItems(ctx context.Context, items []asset.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if err := s.ensureItemLocked(item.CollectionID, item.ID); err != nil {
			return err
		}
	}
	for _, item := range items {
		s.items[item.CollectionID][item.ID] = item
	}
	return nil
}

func (s *Store) ensureItemLocked(collectionID string, id uint64) error {
	byID, ok := s.items[collectionID]
	if !ok {
		return fmt.Errorf("item %d in collection %s: %w", id, collectionID, asset.ErrNotFound)
	}
	if _, ok := byID[id]; !ok {
		return fmt.Errorf("item %d in collection %s: %w", id, collectionID, asset.ErrNotFound)
	}
	return nil
}

func (s *Store) SetOperator(ctx context.Context, collectionID, holder, operator string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHolder, ok := s.operators[collectionID]
	if !ok {
		byHolder = make(map[string]map[string]bool)
		s.operators[collectionID] = byHolder
	}
	ops, ok := byHolder[holder]
	if !ok {
		ops = make(map[string]bool)
		byHolder[holder] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
	return nil
}

func (s *Store) IsOperator(ctx context.Context, collectionID, holder, operator string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byHolder, ok := s.operators[collectionID]
	if !ok {
		return false, nil
	}
	return byHolder[holder][operator], nil
}

// --- SaleStore --------------------------------------------------------------

func (s *Store) GetSale(ctx context.Context, collectionID string, itemID uint64) (asset.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if byID, ok := s.sales[collectionID]; ok {
		if rec, ok := byID[itemID]; ok {
			return rec, nil
		}
	}
	return asset.NotForSale(collectionID, itemID), nil
}

func (s *Store) PutSale(ctx context.Context, rec asset.SaleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.sales[rec.CollectionID]
	if !ok {
		byID = make(map[uint64]asset.SaleRecord)
		s.sales[rec.CollectionID] = byID
	}
	byID[rec.ItemID] = rec
	return nil
}

func cloneCollection(col asset.Collection) asset.Collection {
	out := col
	out.Marketplaces = append([]string(nil), col.Marketplaces...)
	return out
}
