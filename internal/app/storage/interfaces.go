// Package storage declares the persistence contracts used by the application
// services. Implementations must report missing records with errors that
// match asset.ErrNotFound via errors.Is.
package storage

import (
	"context"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
)

// CollectionStore persists collection records, including the identifier
// counter, royalty configuration and marketplace allowlist.
type CollectionStore interface {
	CreateCollection(ctx context.Context, col asset.Collection) (asset.Collection, error)
	UpdateCollection(ctx context.Context, col asset.Collection) (asset.Collection, error)
	GetCollection(ctx context.Context, id string) (asset.Collection, error)
	ListCollections(ctx context.Context) ([]asset.Collection, error)
}

// RoleStore persists role membership per collection.
type RoleStore interface {
	GrantRole(ctx context.Context, collectionID, role, principal string) error
	RevokeRole(ctx context.Context, collectionID, role, principal string) error
	HasRole(ctx context.Context, collectionID, role, principal string) (bool, error)
	ListRoleMembers(ctx context.Context, collectionID, role string) ([]string, error)
}

// ItemStore persists items and operator approvals. Burned items keep their
// row so identifiers are never reassigned. ApplyItems must be atomic: either
// every update lands or none do.
type ItemStore interface {
	CreateItem(ctx context.Context, item asset.Item) (asset.Item, error)
	UpdateItem(ctx context.Context, item asset.Item) (asset.Item, error)
	GetItem(ctx context.Context, collectionID string, id uint64) (asset.Item, error)
	ListItemsByHolder(ctx context.Context, collectionID, holder string) ([]asset.Item, error)
	ApplyItems(ctx context.Context, items []asset.Item) error

	SetOperator(ctx context.Context, collectionID, holder, operator string, approved bool) error
	IsOperator(ctx context.Context, collectionID, holder, operator string) (bool, error)
}

// SaleStore persists per-item sale records. GetSale returns the default
// not-for-sale record when no row exists.
type SaleStore interface {
	GetSale(ctx context.Context, collectionID string, itemID uint64) (asset.SaleRecord, error)
	PutSale(ctx context.Context, rec asset.SaleRecord) error
}
