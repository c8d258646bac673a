// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
	"github.com/R3E-Network/asset_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.CollectionStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)
var _ storage.ItemStore = (*Store)(nil)
var _ storage.SaleStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- CollectionStore --------------------------------------------------------

func (s *Store) CreateCollection(ctx context.Context, col asset.Collection) (asset.Collection, error) {
	if col.ID == "" {
		col.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	col.CreatedAt = now
	col.UpdatedAt = now

	marketplacesJSON, err := json.Marshal(marketplacesOrEmpty(col.Marketplaces))
	if err != nil {
		return asset.Collection{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO asset_collections (id, name, symbol, max_supply, minted, royalty_recipient, royalty_bps, marketplaces, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, col.ID, col.Name, col.Symbol, int64(col.MaxSupply), int64(col.Minted), col.RoyaltyRecipient, int64(col.RoyaltyBps), marketplacesJSON, col.CreatedAt, col.UpdatedAt)
	if err != nil {
		return asset.Collection{}, err
	}
	return col, nil
}

func (s *Store) UpdateCollection(ctx context.Context, col asset.Collection) (asset.Collection, error) {
	col.UpdatedAt = time.Now().UTC()

	marketplacesJSON, err := json.Marshal(marketplacesOrEmpty(col.Marketplaces))
	if err != nil {
		return asset.Collection{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE asset_collections
		SET name = $2, symbol = $3, max_supply = $4, minted = $5, royalty_recipient = $6, royalty_bps = $7, marketplaces = $8, updated_at = $9
		WHERE id = $1
	`, col.ID, col.Name, col.Symbol, int64(col.MaxSupply), int64(col.Minted), col.RoyaltyRecipient, int64(col.RoyaltyBps), marketplacesJSON, col.UpdatedAt)
	if err != nil {
		return asset.Collection{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return asset.Collection{}, fmt.Errorf("collection %s: %w", col.ID, asset.ErrNotFound)
	}
	return col, nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (asset.Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, symbol, max_supply, minted, royalty_recipient, royalty_bps, marketplaces, created_at, updated_at
		FROM asset_collections WHERE id = $1
	`, id)
	return scanCollection(row, id)
}

func (s *Store) ListCollections(ctx context.Context) ([]asset.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, symbol, max_supply, minted, royalty_recipient, royalty_bps, marketplaces, created_at, updated_at
		FROM asset_collections ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.Collection
	for rows.Next() {
		col, err := scanCollection(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner, id string) (asset.Collection, error) {
	var col asset.Collection
	var maxSupply, minted, royaltyBps int64
	var marketplacesJSON []byte
	err := row.Scan(&col.ID, &col.Name, &col.Symbol, &maxSupply, &minted, &col.RoyaltyRecipient, &royaltyBps, &marketplacesJSON, &col.CreatedAt, &col.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Collection{}, fmt.Errorf("collection %s: %w", id, asset.ErrNotFound)
	}
	if err != nil {
		return asset.Collection{}, err
	}
	col.MaxSupply = uint64(maxSupply)
	col.Minted = uint64(minted)
	col.RoyaltyBps = uint64(royaltyBps)
	if len(marketplacesJSON) > 0 {
		if err := json.Unmarshal(marketplacesJSON, &col.Marketplaces); err != nil {
			return asset.Collection{}, err
		}
	}
	return col, nil
}

func marketplacesOrEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// --- RoleStore --------------------------------------------------------------

func (s *Store) GrantRole(ctx context.Context, collectionID, role, principal string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_roles (collection_id, role, principal)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, collectionID, role, principal)
	return err
}

func (s *Store) RevokeRole(ctx context.Context, collectionID, role, principal string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM asset_roles WHERE collection_id = $1 AND role = $2 AND principal = $3
	`, collectionID, role, principal)
	return err
}

func (s *Store) HasRole(ctx context.Context, collectionID, role, principal string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM asset_roles WHERE collection_id = $1 AND role = $2 AND principal = $3
	`, collectionID, role, principal).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListRoleMembers(ctx context.Context, collectionID, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal FROM asset_roles WHERE collection_id = $1 AND role = $2 ORDER BY principal
	`, collectionID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var principal string
		if err := rows.Scan(&principal); err != nil {
			return nil, err
		}
		out = append(out, principal)
	}
	return out, rows.Err()
}

// --- ItemStore --------------------------------------------------------------

func (s *Store) CreateItem(ctx context.Context, item asset.Item) (asset.Item, error) {
	if item.MintedAt.IsZero() {
		item.MintedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_items (collection_id, id, holder, burned, minted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, item.CollectionID, int64(item.ID), item.Holder, item.Burned, item.MintedAt)
	if err != nil {
		return asset.Item{}, err
	}
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item asset.Item) (asset.Item, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE asset_items SET holder = $3, burned = $4, burned_at = $5
		WHERE collection_id = $1 AND id = $2
	`, item.CollectionID, int64(item.ID), item.Holder, item.Burned, nullableTime(item.BurnedAt))
	if err != nil {
		return asset.Item{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return asset.Item{}, fmt.Errorf("item %d in collection %s: %w", item.ID, item.CollectionID, asset.ErrNotFound)
	}
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, collectionID string, id uint64) (asset.Item, error) {
	var item asset.Item
	var itemID int64
	var burnedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT collection_id, id, holder, burned, minted_at, burned_at
		FROM asset_items WHERE collection_id = $1 AND id = $2
	`, collectionID, int64(id)).Scan(&item.CollectionID, &itemID, &item.Holder, &item.Burned, &item.MintedAt, &burnedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Item{}, fmt.Errorf("item %d in collection %s: %w", id, collectionID, asset.ErrNotFound)
	}
	if err != nil {
		return asset.Item{}, err
	}
	item.ID = uint64(itemID)
	if burnedAt.Valid {
		item.BurnedAt = burnedAt.Time
	}
	return item, nil
}

func (s *Store) ListItemsByHolder(ctx context.Context, collectionID, holder string) ([]asset.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection_id, id, holder, burned, minted_at, burned_at
		FROM asset_items
		WHERE collection_id = $1 AND holder = $2 AND NOT burned
		ORDER BY id
	`, collectionID, holder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.Item
	for rows.Next() {
		var item asset.Item
		var itemID int64
		var burnedAt sql.NullTime
		if err := rows.Scan(&item.CollectionID, &itemID, &item.Holder, &item.Burned, &item.MintedAt, &burnedAt); err != nil {
			return nil, err
		}
		item.ID = uint64(itemID)
		if burnedAt.Valid {
			item.BurnedAt = burnedAt.Time
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ApplyItems updates every item inside one transaction.
func (s *Store) ApplyItems(ctx context.Context, items []asset.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, item := range items {
		result, err := tx.ExecContext(ctx, `
			UPDATE asset_items SET holder = $3, burned = $4, burned_at = $5
			WHERE collection_id = $1 AND id = $2
		`, item.CollectionID, int64(item.ID), item.Holder, item.Burned, nullableTime(item.BurnedAt))
		if err != nil {
			tx.Rollback()
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			tx.Rollback()
			return fmt.Errorf("item %d in collection %s: %w", item.ID, item.CollectionID, asset.ErrNotFound)
		}
	}
	return tx.Commit()
}

func (s *Store) SetOperator(ctx context.Context, collectionID, holder, operator string, approved bool) error {
	if approved {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO asset_operators (collection_id, holder, operator)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, collectionID, holder, operator)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM asset_operators WHERE collection_id = $1 AND holder = $2 AND operator = $3
	`, collectionID, holder, operator)
	return err
}

func (s *Store) IsOperator(ctx context.Context, collectionID, holder, operator string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM asset_operators WHERE collection_id = $1 AND holder = $2 AND operator = $3
	`, collectionID, holder, operator).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// --- SaleStore --------------------------------------------------------------

func (s *Store) GetSale(ctx context.Context, collectionID string, itemID uint64) (asset.SaleRecord, error) {
	var rec asset.SaleRecord
	var id, price int64
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT collection_id, item_id, status, price, buyer
		FROM asset_sales WHERE collection_id = $1 AND item_id = $2
	`, collectionID, int64(itemID)).Scan(&rec.CollectionID, &id, &status, &price, &rec.Buyer)
	if errors.Is(err, sql.ErrNoRows) {
		return asset.NotForSale(collectionID, itemID), nil
	}
	if err != nil {
		return asset.SaleRecord{}, err
	}
	rec.ItemID = uint64(id)
	rec.Status = asset.SaleStatus(status)
	rec.Price = uint64(price)
	return rec, nil
}

func (s *Store) PutSale(ctx context.Context, rec asset.SaleRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_sales (collection_id, item_id, status, price, buyer)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection_id, item_id)
		DO UPDATE SET status = EXCLUDED.status, price = EXCLUDED.price, buyer = EXCLUDED.buyer
	`, rec.CollectionID, int64(rec.ItemID), string(rec.Status), int64(rec.Price), rec.Buyer)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
