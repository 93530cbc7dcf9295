package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
)

type ProductStore struct {
	db Querier
}

func NewProductStore(db Querier) *ProductStore {
	return &ProductStore{db: db}
}

func scanProduct(row scanner) (*model.Product, error) {
	var p model.Product
	var sizes string

	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ImageURL, &p.Category, &sizes,
		&p.PriceCents, &p.TokensReward, &p.StockQuantity, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sizes), &p.SizesAvailable); err != nil {
		return nil, fmt.Errorf("decode sizes for product %d: %w", p.ID, err)
	}
	return &p, nil
}

const productCols = `id, name, description, image_url, category, sizes_available, price_cents, tokens_reward, stock_quantity, created_at`

func encodeSizes(sizes []string) (string, error) {
	if sizes == nil {
		sizes = []string{}
	}
	b, err := json.Marshal(sizes)
	if err != nil {
		return "", fmt.Errorf("encode sizes: %w", err)
	}
	return string(b), nil
}

func (s *ProductStore) Create(ctx context.Context, p model.Product) (*model.Product, error) {
	sizes, err := encodeSizes(p.SizesAvailable)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, description, image_url, category, sizes_available, price_cents, tokens_reward, stock_quantity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.ImageURL, p.Category, sizes, p.PriceCents, p.TokensReward, p.StockQuantity,
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ProductStore) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productCols+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// Page returns up to limit products with id greater than afterID, in id
// order. An empty category matches every product.
func (s *ProductStore) Page(ctx context.Context, category model.Category, afterID int64, limit int) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productCols+` FROM products
		 WHERE id > ? AND (? = '' OR category = ?)
		 ORDER BY id ASC LIMIT ?`,
		afterID, category, category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *ProductStore) Update(ctx context.Context, p model.Product) (*model.Product, error) {
	sizes, err := encodeSizes(p.SizesAvailable)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = ?, description = ?, image_url = ?, category = ?, sizes_available = ?,
		 price_cents = ?, tokens_reward = ?, stock_quantity = ? WHERE id = ?`,
		p.Name, p.Description, p.ImageURL, p.Category, sizes, p.PriceCents, p.TokensReward, p.StockQuantity, p.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, p.ID)
}

func (s *ProductStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DecrementStock atomically removes qty units and returns the remaining
// stock. It fails with ErrInsufficientStock instead of going below zero.
func (s *ProductStore) DecrementStock(ctx context.Context, id, qty int64) (int64, error) {
	var remaining int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - ?
		 WHERE id = ? AND stock_quantity >= ? RETURNING stock_quantity`,
		qty, id, qty,
	).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, apperr.ErrInsufficientStock
	}
	if err != nil {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}
	return remaining, nil
}
