// Package asset defines the core records tracked by the asset layer: the
// collections that parameterize each deployment, the items they issue, and
// the per-item sale state consulted on every transfer.
package asset

import "time"

// Role names recognised by the role registry.
const (
	RoleAdmin  = "ADMIN"
	RoleMinter = "MINTER"
)

// BpsDenominator is the royalty rate base: rates are expressed in basis
// points out of 10000.
const BpsDenominator = 10000

// Collection parameterizes one independent deployment of the engine: its
// supply ceiling, royalty policy and marketplace allowlist. The Minted
// counter only ever increases; burning an item does not reopen capacity.
type Collection struct {
	ID               string
	Name             string
	Symbol           string
	MaxSupply        uint64
	Minted           uint64
	RoyaltyRecipient string
	RoyaltyBps       uint64
	Marketplaces     []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Item is a uniquely identified asset. Identifiers are dense, assigned from
// the collection counter starting at 0, and never reused: a burned item keeps
// its row with Burned set and the holder cleared.
type Item struct {
	CollectionID string
	ID           uint64
	Holder       string
	Burned       bool
	MintedAt     time.Time
	BurnedAt     time.Time
}

// SaleStatus is the per-item sale state.
type SaleStatus string

const (
	StatusNotForSale SaleStatus = "not_for_sale"
	StatusForSale    SaleStatus = "for_sale"
	StatusInProgress SaleStatus = "in_progress"
)

// SaleRecord describes whether and how an item is offered. Price and Buyer
// are meaningful only while Status is not StatusNotForSale. The record is
// reset to the zero offer exactly once per completed ownership transfer.
type SaleRecord struct {
	CollectionID string
	ItemID       uint64
	Status       SaleStatus
	Price        uint64
	Buyer        string
}

// NotForSale returns the default sale record for an item.
func NotForSale(collectionID string, itemID uint64) SaleRecord {
	return SaleRecord{
		CollectionID: collectionID,
		ItemID:       itemID,
		Status:       StatusNotForSale,
	}
}
