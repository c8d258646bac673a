package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
)

func TestGetSaleDefaultsToNotForSale(t *testing.T) {
	store := New()
	ctx := context.Background()

	sale, err := store.GetSale(ctx, "col-1", 7)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.Status != asset.StatusNotForSale || sale.Price != 0 || sale.Buyer != "" {
		t.Fatalf("expected default record, got %+v", sale)
	}
	if sale.CollectionID != "col-1" || sale.ItemID != 7 {
		t.Fatalf("expected keyed default record, got %+v", sale)
	}
}

func TestCollectionCloneIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateCollection(ctx, asset.Collection{
		Name:         "Artifacts",
		Symbol:       "ART",
		Marketplaces: []string{"market-x"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetCollection(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Marketplaces[0] = "mutated"
	got.Name = "mutated"

	again, err := store.GetCollection(ctx, created.ID)
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Marketplaces[0] != "market-x" || again.Name != "Artifacts" {
		t.Fatalf("store must not observe caller mutations, got %+v", again)
	}
}

func TestUpdateMissingRecords(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.UpdateCollection(ctx, asset.Collection{ID: "absent"}); !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.UpdateItem(ctx, asset.Item{CollectionID: "absent", ID: 0}); !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetItem(ctx, "absent", 0); !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyItemsAtomicity(t *testing.T) {
	store := New()
	ctx := context.Background()

	col, err := store.CreateCollection(ctx, asset.Collection{Name: "A", Symbol: "A"})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	for i := uint64(0); i < 2; i++ {
		if _, err := store.CreateItem(ctx, asset.Item{CollectionID: col.ID, ID: i, Holder: "alice"}); err != nil {
			t.Fatalf("create item %d: %v", i, err)
		}
	}

	err = store.ApplyItems(ctx, []asset.Item{
		{CollectionID: col.ID, ID: 0, Holder: "bob"},
		{CollectionID: col.ID, ID: 99, Holder: "bob"},
	})
	if !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	item, err := store.GetItem(ctx, col.ID, 0)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Holder != "alice" {
		t.Fatalf("failed batch must not apply, holder is %s", item.Holder)
	}

	if err := store.ApplyItems(ctx, []asset.Item{
		{CollectionID: col.ID, ID: 0, Holder: "bob"},
		{CollectionID: col.ID, ID: 1, Holder: "bob"},
	}); err != nil {
		t.Fatalf("apply items: %v", err)
	}
	for i := uint64(0); i < 2; i++ {
		item, err := store.GetItem(ctx, col.ID, i)
		if err != nil {
			t.Fatalf("get item %d: %v", i, err)
		}
		if item.Holder != "bob" {
			t.Fatalf("expected holder bob for item %d, got %s", i, item.Holder)
		}
	}
}

func TestOperatorApproval(t *testing.T) {
	store := New()
	ctx := context.Background()

	ok, err := store.IsOperator(ctx, "col-1", "alice", "opal")
	if err != nil {
		t.Fatalf("is operator: %v", err)
	}
	if ok {
		t.Fatalf("expected no approval by default")
	}

	if err := store.SetOperator(ctx, "col-1", "alice", "opal", true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ok, _ = store.IsOperator(ctx, "col-1", "alice", "opal"); !ok {
		t.Fatalf("expected approval")
	}

	if err := store.SetOperator(ctx, "col-1", "alice", "opal", false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ = store.IsOperator(ctx, "col-1", "alice", "opal"); ok {
		t.Fatalf("expected approval revoked")
	}
}
