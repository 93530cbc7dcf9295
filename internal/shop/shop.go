// Package shop implements the catalog and checkout.
package shop

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/ledger"
	"github.com/dukerupert/daostore/internal/metrics"
	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
	ws "github.com/dukerupert/daostore/internal/websocket"
)

const (
	defaultPageSize      = 50
	maxLineQuantity      = 1000
	maxIdempotencyKeyLen = 128
	maxAddressLen        = 1000
	receiptTimeout       = 10 * time.Second
)

// Mailer sends order receipts. *email.Client satisfies it.
type Mailer interface {
	Configured() bool
	SendOrderReceipt(ctx context.Context, to string, o *model.Order) error
}

type Service struct {
	db       *sql.DB
	products *store.ProductStore
	orders   *store.OrderStore
	members  *store.MemberStore
	hub      ws.Broadcaster
	mailer   Mailer
	logger   *slog.Logger
	now      func() time.Time
	pageSize int
}

type Option func(*Service)

func WithMailer(m Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func NewService(db *sql.DB, hub ws.Broadcaster, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		products: store.NewProductStore(db),
		orders:   store.NewOrderStore(db),
		members:  store.NewMemberStore(db),
		hub:      hub,
		logger:   logger,
		now:      time.Now,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Filter narrows ListProducts. The zero value matches every product.
type Filter struct {
	Category model.Category
}

// ListProducts yields products in id order, fetching a page at a time.
// Iteration can stop early and the sequence can be ranged over again.
func (s *Service) ListProducts(ctx context.Context, f Filter) iter.Seq2[model.Product, error] {
	return func(yield func(model.Product, error) bool) {
		if f.Category != "" && !f.Category.Valid() {
			yield(model.Product{}, apperr.Invalid("category", "unknown category %q", f.Category))
			return
		}

		var after int64
		for {
			page, err := s.products.Page(ctx, f.Category, after, s.pageSize)
			if err != nil {
				yield(model.Product{}, apperr.Store("list products", err))
				return
			}
			for _, p := range page {
				if !yield(p, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[model.Product, error]) ([]model.Product, error) {
	products := []model.Product{}
	for p, err := range seq {
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Store("get product", err)
	}
	if p == nil {
		return nil, apperr.ErrNotFound
	}
	return p, nil
}

type CartLine struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Size      string `json:"size"`
}

type CheckoutRequest struct {
	MemberID        int64
	Lines           []CartLine
	ShippingAddress string
	IdempotencyKey  string
}

type CheckoutResult struct {
	Order *model.Order `json:"order"`
	// Replayed is true when the idempotency key matched an earlier order
	// and nothing new was charged or credited.
	Replayed   bool  `json:"replayed"`
	NewBalance int64 `json:"token_balance"`
}

type stockChange struct {
	productID int64
	remaining int64
}

var errKeyRace = errors.New("idempotency key claimed concurrently")

// Checkout places an order in one transaction: stock is decremented, the
// order and its items are written and the member is credited. Any failure
// leaves no trace.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	lines, address, err := validateCheckout(req)
	if err != nil {
		metrics.RecordCheckout("invalid")
		return nil, err
	}

	var result *CheckoutResult
	var changes []stockChange
	err = store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		result, changes, err = s.checkoutTx(ctx, tx, req, lines, address)
		return err
	})
	if errors.Is(err, errKeyRace) {
		result, err = s.replay(ctx, req.MemberID, req.IdempotencyKey)
	}
	if err != nil {
		metrics.RecordCheckout(checkoutResultLabel(err))
		return nil, err
	}

	if result.Replayed {
		metrics.RecordCheckout("replayed")
		return result, nil
	}

	metrics.RecordCheckout("completed")
	metrics.RecordTokensCredited("checkout", result.Order.TokensEarned)
	s.logger.Info("order placed",
		"order_id", result.Order.ID,
		"member_id", req.MemberID,
		"total_cents", result.Order.TotalCents,
		"tokens_earned", result.Order.TokensEarned,
	)
	for _, c := range changes {
		s.hub.Broadcast(ws.ProductStock(c.productID, c.remaining))
	}
	s.hub.Broadcast(ws.OrderCreated(result.Order))
	s.sendReceipt(ctx, req.MemberID, result.Order)

	return result, nil
}

func (s *Service) checkoutTx(ctx context.Context, tx *sql.Tx, req CheckoutRequest, lines []CartLine, address string) (*CheckoutResult, []stockChange, error) {
	orders := store.NewOrderStore(tx)
	products := store.NewProductStore(tx)
	members := store.NewMemberStore(tx)

	existing, err := orders.GetByIdempotencyKey(ctx, req.MemberID, req.IdempotencyKey)
	if err != nil {
		return nil, nil, apperr.Store("checkout", err)
	}
	if existing != nil {
		balance, err := members.Balance(ctx, req.MemberID)
		if err != nil {
			return nil, nil, apperr.Store("checkout", err)
		}
		return &CheckoutResult{Order: existing, Replayed: true, NewBalance: balance}, nil, nil
	}

	member, err := members.GetByID(ctx, req.MemberID)
	if err != nil {
		return nil, nil, apperr.Store("checkout", err)
	}
	if member == nil {
		return nil, nil, apperr.ErrNotFound
	}

	now := s.now().UTC()
	order := model.Order{
		Reference:       uuid.NewString(),
		MemberID:        req.MemberID,
		IdempotencyKey:  req.IdempotencyKey,
		Status:          model.OrderStatusCompleted,
		ShippingAddress: address,
		CreatedAt:       now,
		CompletedAt:     &now,
	}
	changes := make([]stockChange, 0, len(lines))

	for _, line := range lines {
		p, err := products.GetByID(ctx, line.ProductID)
		if err != nil {
			return nil, nil, apperr.Store("checkout", err)
		}
		if p == nil {
			return nil, nil, fmt.Errorf("product %d: %w", line.ProductID, apperr.ErrNotFound)
		}
		if err := checkSize(p, line.Size); err != nil {
			return nil, nil, err
		}

		remaining, err := products.DecrementStock(ctx, p.ID, line.Quantity)
		if errors.Is(err, apperr.ErrInsufficientStock) {
			return nil, nil, fmt.Errorf("%s: %w", p.Name, apperr.ErrInsufficientStock)
		}
		if err != nil {
			return nil, nil, apperr.Store("checkout", err)
		}
		changes = append(changes, stockChange{productID: p.ID, remaining: remaining})

		productID := p.ID
		item := model.OrderItem{
			ProductID:    &productID,
			ProductName:  p.Name,
			Quantity:     line.Quantity,
			Size:         line.Size,
			PriceCents:   p.PriceCents,
			TokensEarned: p.TokensReward * line.Quantity,
		}
		order.Items = append(order.Items, item)
		order.TotalCents += p.PriceCents * line.Quantity
		order.TokensEarned += item.TokensEarned
	}

	created, err := orders.Create(ctx, order)
	if store.IsUniqueViolation(err) {
		return nil, nil, errKeyRace
	}
	if err != nil {
		return nil, nil, apperr.Store("checkout", err)
	}

	balance, err := ledger.CreditTx(ctx, tx, req.MemberID, created.TokensEarned)
	if err != nil {
		return nil, nil, err
	}

	return &CheckoutResult{Order: created, NewBalance: balance}, changes, nil
}

func (s *Service) replay(ctx context.Context, memberID int64, key string) (*CheckoutResult, error) {
	o, err := s.orders.GetByIdempotencyKey(ctx, memberID, key)
	if err != nil {
		return nil, apperr.Store("checkout replay", err)
	}
	if o == nil {
		return nil, apperr.Store("checkout replay", errKeyRace)
	}
	balance, err := s.members.Balance(ctx, memberID)
	if err != nil {
		return nil, apperr.Store("checkout replay", err)
	}
	return &CheckoutResult{Order: o, Replayed: true, NewBalance: balance}, nil
}

func (s *Service) sendReceipt(ctx context.Context, memberID int64, o *model.Order) {
	if s.mailer == nil || !s.mailer.Configured() {
		return
	}
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil || m == nil || m.Email == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptTimeout)
	defer cancel()
	if err := s.mailer.SendOrderReceipt(ctx, *m.Email, o); err != nil {
		s.logger.Warn("order receipt not sent", "order_id", o.ID, "error", err)
	}
}

// validateCheckout checks the request before anything is written and
// merges lines for the same product and size. Lines come back sorted by
// product and size.
func validateCheckout(req CheckoutRequest) ([]CartLine, string, error) {
	if len(req.Lines) == 0 {
		return nil, "", apperr.ErrEmptyCart
	}
	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" {
		return nil, "", apperr.ErrMissingShippingAddress
	}
	if utf8.RuneCountInString(address) > maxAddressLen {
		return nil, "", apperr.Invalid("shipping_address", "must be at most %d characters", maxAddressLen)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, "", apperr.Invalid("idempotency_key", "is required")
	}
	if len(key) > maxIdempotencyKeyLen || key != req.IdempotencyKey {
		return nil, "", apperr.Invalid("idempotency_key", "must be at most %d characters without surrounding space", maxIdempotencyKeyLen)
	}

	type lineKey struct {
		productID int64
		size      string
	}
	merged := make(map[lineKey]int64)
	for _, l := range req.Lines {
		if l.ProductID <= 0 {
			return nil, "", apperr.Invalid("product_id", "must be positive")
		}
		if l.Quantity <= 0 {
			return nil, "", apperr.Invalid("quantity", "must be positive")
		}
		k := lineKey{l.ProductID, strings.TrimSpace(l.Size)}
		merged[k] += l.Quantity
		if merged[k] > maxLineQuantity {
			return nil, "", apperr.Invalid("quantity", "must be at most %d per product and size", maxLineQuantity)
		}
	}

	lines := make([]CartLine, 0, len(merged))
	for k, qty := range merged {
		lines = append(lines, CartLine{ProductID: k.productID, Size: k.size, Quantity: qty})
	}
	slices.SortFunc(lines, func(a, b CartLine) int {
		return cmp.Or(cmp.Compare(a.ProductID, b.ProductID), cmp.Compare(a.Size, b.Size))
	})
	return lines, address, nil
}

func checkSize(p *model.Product, size string) error {
	if len(p.SizesAvailable) == 0 {
		if size != "" {
			return apperr.Invalid("size", "%s is not sized", p.Name)
		}
		return nil
	}
	if !p.HasSize(size) {
		return apperr.Invalid("size", "%q is not available for %s", size, p.Name)
	}
	return nil
}

func checkoutResultLabel(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case apperr.IsDomain(err):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}
