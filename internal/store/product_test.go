package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
)

func createTestProduct(t *testing.T, db *sql.DB, name string, category model.Category, stock int64) *model.Product {
	t.Helper()
	p, err := NewProductStore(db).Create(context.Background(), model.Product{
		Name:           name,
		Category:       category,
		SizesAvailable: []string{"S", "M", "L"},
		PriceCents:     2000,
		TokensReward:   5,
		StockQuantity:  stock,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

func TestProductCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	p := createTestProduct(t, db, "Hoodie", model.CategoryHoodie, 10)

	got, err := NewProductStore(db).GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Hoodie" || got.PriceCents != 2000 || got.StockQuantity != 10 {
		t.Errorf("got %+v", got)
	}
	if len(got.SizesAvailable) != 3 || got.SizesAvailable[1] != "M" {
		t.Errorf("sizes = %v, want [S M L]", got.SizesAvailable)
	}

	missing, err := NewProductStore(db).GetByID(context.Background(), 9999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown product")
	}
}

func TestProductNoSizesStoredAsEmptyList(t *testing.T) {
	db := setupTestDB(t)
	p, err := NewProductStore(db).Create(context.Background(), model.Product{
		Name: "Sticker", Category: model.CategoryAccessories, PriceCents: 300,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.SizesAvailable == nil || len(p.SizesAvailable) != 0 {
		t.Errorf("sizes = %#v, want empty slice", p.SizesAvailable)
	}
}

func TestProductPage(t *testing.T) {
	db := setupTestDB(t)
	ps := NewProductStore(db)
	ctx := context.Background()

	a := createTestProduct(t, db, "Tee A", model.CategoryTShirt, 1)
	createTestProduct(t, db, "Hoodie", model.CategoryHoodie, 1)
	c := createTestProduct(t, db, "Tee B", model.CategoryTShirt, 1)

	all, err := ps.Page(ctx, "", 0, 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}

	first, _ := ps.Page(ctx, "", 0, 2)
	rest, _ := ps.Page(ctx, "", first[len(first)-1].ID, 2)
	if len(first) != 2 || len(rest) != 1 {
		t.Errorf("pages = %d + %d, want 2 + 1", len(first), len(rest))
	}

	tees, err := ps.Page(ctx, model.CategoryTShirt, 0, 10)
	if err != nil {
		t.Fatalf("page by category: %v", err)
	}
	if len(tees) != 2 || tees[0].ID != a.ID || tees[1].ID != c.ID {
		t.Errorf("tees = %+v", tees)
	}
}

func TestProductUpdateAndDelete(t *testing.T) {
	db := setupTestDB(t)
	ps := NewProductStore(db)
	ctx := context.Background()
	p := createTestProduct(t, db, "Cap", model.CategoryAccessories, 4)

	p.Name = "Snapback"
	p.PriceCents = 2500
	updated, err := ps.Update(ctx, *p)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Snapback" || updated.PriceCents != 2500 {
		t.Errorf("updated = %+v", updated)
	}

	if err := ps.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := ps.Delete(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestDecrementStock(t *testing.T) {
	db := setupTestDB(t)
	ps := NewProductStore(db)
	ctx := context.Background()
	p := createTestProduct(t, db, "Tee", model.CategoryTShirt, 5)

	remaining, err := ps.DecrementStock(ctx, p.ID, 2)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if remaining != 3 {
		t.Errorf("remaining = %d, want 3", remaining)
	}

	if _, err := ps.DecrementStock(ctx, p.ID, 4); !errors.Is(err, apperr.ErrInsufficientStock) {
		t.Errorf("err = %v, want ErrInsufficientStock", err)
	}

	got, _ := ps.GetByID(ctx, p.ID)
	if got.StockQuantity != 3 {
		t.Errorf("stock = %d, want 3 after rejected decrement", got.StockQuantity)
	}
}
