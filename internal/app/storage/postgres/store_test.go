package postgres

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetSaleDefaultsWhenAbsent(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT collection_id, item_id, status, price, buyer").
		WithArgs("col-1", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"collection_id", "item_id", "status", "price", "buyer"}))

	sale, err := store.GetSale(context.Background(), "col-1", 7)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.Status != asset.StatusNotForSale || sale.CollectionID != "col-1" || sale.ItemID != 7 {
		t.Fatalf("expected default record, got %+v", sale)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPutSaleUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO asset_sales").
		WithArgs("col-1", int64(7), "for_sale", int64(100), "bob").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.PutSale(context.Background(), asset.SaleRecord{
		CollectionID: "col-1",
		ItemID:       7,
		Status:       asset.StatusForSale,
		Price:        100,
		Buyer:        "bob",
	})
	if err != nil {
		t.Fatalf("put sale: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetCollectionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, symbol, max_supply").
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetCollection(context.Background(), "absent")
	if !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyItemsRollsBackOnMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE asset_items").
		WithArgs("col-1", int64(0), "bob", false, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE asset_items").
		WithArgs("col-1", int64(99), "bob", false, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.ApplyItems(context.Background(), []asset.Item{
		{CollectionID: "col-1", ID: 0, Holder: "bob"},
		{CollectionID: "col-1", ID: 99, Holder: "bob"},
	})
	if !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHasRole(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT 1 FROM asset_roles").
		WithArgs("col-1", asset.RoleAdmin, "alice").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	ok, err := store.HasRole(context.Background(), "col-1", asset.RoleAdmin, "alice")
	if err != nil {
		t.Fatalf("has role: %v", err)
	}
	if !ok {
		t.Fatalf("expected role membership")
	}

	mock.ExpectQuery("SELECT 1 FROM asset_roles").
		WithArgs("col-1", asset.RoleAdmin, "bob").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	ok, err = store.HasRole(context.Background(), "col-1", asset.RoleAdmin, "bob")
	if err != nil {
		t.Fatalf("has role: %v", err)
	}
	if ok {
		t.Fatalf("expected no membership")
	}
}
