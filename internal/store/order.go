package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
)

type OrderStore struct {
	db Querier
}

func NewOrderStore(db Querier) *OrderStore {
	return &OrderStore{db: db}
}

func scanOrder(row scanner) (*model.Order, error) {
	var o model.Order
	var completedAt sql.NullTime

	err := row.Scan(&o.ID, &o.Reference, &o.MemberID, &o.IdempotencyKey, &o.TotalCents, &o.TokensEarned,
		&o.Status, &o.ShippingAddress, &o.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	o.CompletedAt = timePtr(completedAt)
	return &o, nil
}

const orderCols = `id, reference, member_id, idempotency_key, total_cents, tokens_earned, status, shipping_address, created_at, completed_at`

func scanOrderItem(row scanner) (*model.OrderItem, error) {
	var it model.OrderItem
	var productID sql.NullInt64

	err := row.Scan(&it.ID, &it.OrderID, &productID, &it.ProductName, &it.Quantity, &it.Size, &it.PriceCents, &it.TokensEarned)
	if err != nil {
		return nil, err
	}
	if productID.Valid {
		it.ProductID = &productID.Int64
	}
	return &it, nil
}

const orderItemCols = `id, order_id, product_id, product_name, quantity, size, price_cents, tokens_earned`

// Create inserts the order and its items. Call it inside a transaction so
// the two cannot be separated.
func (s *OrderStore) Create(ctx context.Context, o model.Order) (*model.Order, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (reference, member_id, idempotency_key, total_cents, tokens_earned, status, shipping_address, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Reference, o.MemberID, o.IdempotencyKey, o.TotalCents, o.TokensEarned, o.Status,
		o.ShippingAddress, o.CreatedAt.UTC(), nullTime(o.CompletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for _, it := range o.Items {
		var productID sql.NullInt64
		if it.ProductID != nil {
			productID = sql.NullInt64{Int64: *it.ProductID, Valid: true}
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, quantity, size, price_cents, tokens_earned)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			orderID, productID, it.ProductName, it.Quantity, it.Size, it.PriceCents, it.TokensEarned,
		); err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	return s.GetByID(ctx, orderID)
}

func (s *OrderStore) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	return s.withItems(ctx, row, "get order")
}

// GetByIdempotencyKey returns the member's order created with key, if any.
func (s *OrderStore) GetByIdempotencyKey(ctx context.Context, memberID int64, key string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE member_id = ? AND idempotency_key = ?`,
		memberID, key,
	)
	return s.withItems(ctx, row, "get order by idempotency key")
}

func (s *OrderStore) withItems(ctx context.Context, row *sql.Row, op string) (*model.Order, error) {
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	items, err := s.ListItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (s *OrderStore) ListItems(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderItemCols+` FROM order_items WHERE order_id = ? ORDER BY id ASC`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// ListByMember returns a member's orders, newest first, with their items.
func (s *OrderStore) ListByMember(ctx context.Context, memberID int64) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE member_id = ? ORDER BY created_at DESC, id DESC`, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders by member: %w", err)
	}

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	for i := range orders {
		items, err := s.ListItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// UpdateStatus moves an order from one status to another. It fails with
// ErrInvalidTransition if the order is no longer in status from.
func (s *OrderStore) UpdateStatus(ctx context.Context, id int64, from, to model.OrderStatus, completedAt *time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, completed_at = COALESCE(completed_at, ?) WHERE id = ? AND status = ?`,
		to, nullTime(completedAt), id, from,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.ErrInvalidTransition
	}
	return nil
}
