package shop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/database"
	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
	ws "github.com/dukerupert/daostore/internal/websocket"
)

type recordingHub struct {
	mu   sync.Mutex
	msgs []ws.Message
}

func (h *recordingHub) Broadcast(msg ws.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.msgs {
		out = append(out, m.Type)
	}
	return out
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMailer) Configured() bool { return true }

func (m *fakeMailer) SendOrderReceipt(ctx context.Context, to string, o *model.Order) error {
	m.mu.Lock()
	m.sent = append(m.sent, to+":"+o.Reference)
	m.mu.Unlock()
	return nil
}

type fixture struct {
	svc    *Service
	db     *sql.DB
	hub    *recordingHub
	mailer *fakeMailer
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, hub: &recordingHub{}, mailer: &fakeMailer{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithMailer(f.mailer)}, opts...)
	f.svc = NewService(db, f.hub, logger, opts...)
	return f
}

func (f *fixture) member(t *testing.T, email string, balance int64) *model.Member {
	t.Helper()
	m, err := store.NewMemberStore(f.db).Create(context.Background(), store.MemberParams{Email: &email, TokenBalance: balance})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

func (f *fixture) product(t *testing.T, name string, price, reward, stock int64) *model.Product {
	t.Helper()
	p, err := f.svc.CreateProduct(context.Background(), ProductInput{
		Name:           name,
		Category:       model.CategoryTShirt,
		SizesAvailable: []string{"S", "M", "L"},
		PriceCents:     price,
		TokensReward:   reward,
		StockQuantity:  stock,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

func (f *fixture) balance(t *testing.T, memberID int64) int64 {
	t.Helper()
	b, err := store.NewMemberStore(f.db).Balance(context.Background(), memberID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (f *fixture) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	p, err := f.svc.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.StockQuantity
}

func TestCheckoutTotalsAndCredit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := f.member(t, "buyer@example.com", 100)
	p := f.product(t, "Tee", 2000, 5, 10)

	res, err := f.svc.Checkout(ctx, CheckoutRequest{
		MemberID:        m.ID,
		Lines:           []CartLine{{ProductID: p.ID, Quantity: 2, Size: "M"}},
		ShippingAddress: "1 Main St",
		IdempotencyKey:  "k1",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	o := res.Order
	if o.TotalCents != 4000 || o.TokensEarned != 10 {
		t.Errorf("total/tokens = %d/%d, want 4000/10", o.TotalCents, o.TokensEarned)
	}
	if o.Status != model.OrderStatusCompleted || o.CompletedAt == nil {
		t.Errorf("status = %q completed_at = %v", o.Status, o.CompletedAt)
	}
	if o.Reference == "" {
		t.Error("expected order reference")
	}
	if len(o.Items) != 1 || o.Items[0].PriceCents != 2000 || o.Items[0].Quantity != 2 || o.Items[0].TokensEarned != 10 {
		t.Errorf("items = %+v", o.Items)
	}
	if res.NewBalance != 110 || f.balance(t, m.ID) != 110 {
		t.Errorf("balance = %d, want 110", res.NewBalance)
	}
	if got := f.stock(t, p.ID); got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}

	types := f.hub.types()
	if types[len(types)-2] != "product_stock" || types[len(types)-1] != "order_created" {
		t.Errorf("broadcasts = %v", types)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0] != "buyer@example.com:"+o.Reference {
		t.Errorf("receipts = %v", f.mailer.sent)
	}
}

func TestCheckoutSnapshotsPrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := f.member(t, "snap@example.com", 0)
	p := f.product(t, "Tee", 2000, 5, 10)

	res, err := f.svc.Checkout(ctx, CheckoutRequest{
		MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 1, Size: "S"}},
		ShippingAddress: "x", IdempotencyKey: "k",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, err := f.svc.UpdateProduct(ctx, p.ID, ProductInput{
		Name: "Tee v2", Category: model.CategoryTShirt, SizesAvailable: []string{"S"},
		PriceCents: 9999, TokensReward: 50, StockQuantity: 3,
	}); err != nil {
		t.Fatalf("update product: %v", err)
	}

	orders, err := f.svc.ListOrders(ctx, m.ID)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	it := orders[0].Items[0]
	if orders[0].ID != res.Order.ID || it.PriceCents != 2000 || it.ProductName != "Tee" {
		t.Errorf("item = %+v, want original snapshot", it)
	}
}

func TestCheckoutMergesDuplicateLines(t *testing.T) {
	f := setup(t)
	m := f.member(t, "merge@example.com", 0)
	p := f.product(t, "Tee", 1000, 1, 10)

	res, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		MemberID: m.ID,
		Lines: []CartLine{
			{ProductID: p.ID, Quantity: 1, Size: "M"},
			{ProductID: p.ID, Quantity: 2, Size: "M"},
			{ProductID: p.ID, Quantity: 1, Size: "L"},
		},
		ShippingAddress: "x",
		IdempotencyKey:  "merge",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(res.Order.Items) != 2 {
		t.Fatalf("items = %+v, want 2 merged lines", res.Order.Items)
	}
	if res.Order.Items[0].Size != "L" || res.Order.Items[1].Quantity != 3 {
		t.Errorf("items = %+v", res.Order.Items)
	}
	if res.Order.TotalCents != 4000 {
		t.Errorf("total = %d, want 4000", res.Order.TotalCents)
	}
}

func TestCheckoutValidation(t *testing.T) {
	f := setup(t)
	m := f.member(t, "v@example.com", 0)
	p := f.product(t, "Tee", 1000, 1, 10)
	line := []CartLine{{ProductID: p.ID, Quantity: 1, Size: "M"}}

	tests := []struct {
		name string
		req  CheckoutRequest
		want error
	}{
		{"empty cart", CheckoutRequest{MemberID: m.ID, ShippingAddress: "x", IdempotencyKey: "k"}, apperr.ErrEmptyCart},
		{"blank address", CheckoutRequest{MemberID: m.ID, Lines: line, ShippingAddress: "   ", IdempotencyKey: "k"}, apperr.ErrMissingShippingAddress},
		{"unknown product", CheckoutRequest{MemberID: m.ID, Lines: []CartLine{{ProductID: 999, Quantity: 1}}, ShippingAddress: "x", IdempotencyKey: "k"}, apperr.ErrNotFound},
		{"unknown member", CheckoutRequest{MemberID: 999, Lines: line, ShippingAddress: "x", IdempotencyKey: "k"}, apperr.ErrNotFound},
		{"too many", CheckoutRequest{MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 11, Size: "M"}}, ShippingAddress: "x", IdempotencyKey: "k"}, apperr.ErrInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	invalid := []CheckoutRequest{
		{MemberID: m.ID, Lines: line, ShippingAddress: "x"},
		{MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 0, Size: "M"}}, ShippingAddress: "x", IdempotencyKey: "k"},
		{MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 1, Size: "XXL"}}, ShippingAddress: "x", IdempotencyKey: "k"},
		{MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 1}}, ShippingAddress: "x", IdempotencyKey: "k"},
	}
	for i, req := range invalid {
		_, err := f.svc.Checkout(context.Background(), req)
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("case %d: err = %v, want ValidationError", i, err)
		}
	}

	if got := f.stock(t, p.ID); got != 10 {
		t.Errorf("stock = %d, want 10 after failed checkouts", got)
	}
	if orders, _ := f.svc.ListOrders(context.Background(), m.ID); len(orders) != 0 {
		t.Errorf("orders = %d, want 0", len(orders))
	}
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	f := setup(t)
	m := f.member(t, "partial@example.com", 100)
	plenty := f.product(t, "Plenty", 1000, 1, 50)
	scarce := f.product(t, "Scarce", 1000, 1, 1)

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		MemberID: m.ID,
		Lines: []CartLine{
			{ProductID: plenty.ID, Quantity: 5, Size: "M"},
			{ProductID: scarce.ID, Quantity: 2, Size: "M"},
		},
		ShippingAddress: "x",
		IdempotencyKey:  "k",
	})
	if !errors.Is(err, apperr.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	if got := f.stock(t, plenty.ID); got != 50 {
		t.Errorf("plenty stock = %d, want 50 after rollback", got)
	}
	if got := f.balance(t, m.ID); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
	if orders, _ := f.svc.ListOrders(context.Background(), m.ID); len(orders) != 0 {
		t.Errorf("orders = %d, want 0", len(orders))
	}
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := f.member(t, "replay@example.com", 100)
	p := f.product(t, "Tee", 2000, 5, 10)
	req := CheckoutRequest{
		MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 2, Size: "M"}},
		ShippingAddress: "x", IdempotencyKey: "once",
	}

	first, err := f.svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	second, err := f.svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("replayed checkout: %v", err)
	}

	if !second.Replayed || second.Order.ID != first.Order.ID {
		t.Errorf("second = %+v, want replay of order %d", second, first.Order.ID)
	}
	if got := f.balance(t, m.ID); got != 110 {
		t.Errorf("balance = %d, want 110 (credited once)", got)
	}
	if got := f.stock(t, p.ID); got != 8 {
		t.Errorf("stock = %d, want 8 (decremented once)", got)
	}
	if len(f.mailer.sent) != 1 {
		t.Errorf("receipts = %d, want 1", len(f.mailer.sent))
	}
}

func TestCheckoutConcurrentLastUnits(t *testing.T) {
	f := setup(t)
	p := f.product(t, "Limited", 1000, 1, 5)

	const buyers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, outOfStock int
	for i := 0; i < buyers; i++ {
		m := f.member(t, fmt.Sprintf("b%d@example.com", i), 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
				MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 1, Size: "M"}},
				ShippingAddress: "x", IdempotencyKey: "k",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrInsufficientStock):
				outOfStock++
			default:
				t.Errorf("checkout: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 5 || outOfStock != 5 {
		t.Errorf("ok/out = %d/%d, want 5/5", ok, outOfStock)
	}
	if got := f.stock(t, p.ID); got != 0 {
		t.Errorf("stock = %d, want 0", got)
	}
}

func TestCheckoutCancelledContext(t *testing.T) {
	f := setup(t)
	m := f.member(t, "cancel@example.com", 100)
	p := f.product(t, "Tee", 1000, 1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Checkout(ctx, CheckoutRequest{
		MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 1, Size: "M"}},
		ShippingAddress: "x", IdempotencyKey: "k",
	})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if got := f.stock(t, p.ID); got != 5 {
		t.Errorf("stock = %d, want 5", got)
	}
	if got := f.balance(t, m.ID); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
}

func TestListProductsLazyAndRestartable(t *testing.T) {
	f := setup(t, WithPageSize(2))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.product(t, fmt.Sprintf("Tee %d", i), 1000, 1, 1)
	}
	if _, err := f.svc.CreateProduct(ctx, ProductInput{
		Name: "Hoodie", Category: model.CategoryHoodie, SizesAvailable: []string{"M"}, PriceCents: 5000,
	}); err != nil {
		t.Fatalf("create hoodie: %v", err)
	}

	seq := f.svc.ListProducts(ctx, Filter{})
	var seen int
	for _, err := range seq {
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		seen++
		if seen == 3 {
			break
		}
	}
	if seen != 3 {
		t.Fatalf("seen = %d, want 3", seen)
	}

	all, err := Collect(seq)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(all) != 6 {
		t.Errorf("restarted iteration = %d products, want 6", len(all))
	}

	tees, _ := Collect(f.svc.ListProducts(ctx, Filter{Category: model.CategoryTShirt}))
	if len(tees) != 5 {
		t.Errorf("tshirts = %d, want 5", len(tees))
	}
	pants, _ := Collect(f.svc.ListProducts(ctx, Filter{Category: model.CategoryPants}))
	if pants == nil || len(pants) != 0 {
		t.Errorf("pants = %#v, want empty slice", pants)
	}

	if _, err := Collect(f.svc.ListProducts(ctx, Filter{Category: "socks"})); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestProductValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	base := ProductInput{Name: "Tee", Category: model.CategoryTShirt, SizesAvailable: []string{"M"}, PriceCents: 100}

	bad := []func(*ProductInput){
		func(p *ProductInput) { p.Name = " " },
		func(p *ProductInput) { p.Category = "socks" },
		func(p *ProductInput) { p.PriceCents = 0 },
		func(p *ProductInput) { p.TokensReward = -1 },
		func(p *ProductInput) { p.StockQuantity = -1 },
		func(p *ProductInput) { p.SizesAvailable = nil },
		func(p *ProductInput) { p.SizesAvailable = []string{"M", " "} },
	}
	for i, mutate := range bad {
		in := base
		in.SizesAvailable = append([]string(nil), base.SizesAvailable...)
		mutate(&in)
		if _, err := f.svc.CreateProduct(ctx, in); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	in := base
	in.SizesAvailable = []string{" M ", "L", "M"}
	p, err := f.svc.CreateProduct(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(p.SizesAvailable) != 2 || p.SizesAvailable[0] != "M" {
		t.Errorf("sizes = %v, want [M L]", p.SizesAvailable)
	}

	if _, err := f.svc.UpdateProduct(ctx, 999, base); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("update missing: err = %v", err)
	}
	if err := f.svc.DeleteProduct(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.GetProduct(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get deleted: err = %v", err)
	}
}

func TestUpdateOrderStatusForwardOnly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := setup(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	m := f.member(t, "ship@example.com", 0)
	p := f.product(t, "Tee", 1000, 1, 5)
	res, err := f.svc.Checkout(ctx, CheckoutRequest{
		MemberID: m.ID, Lines: []CartLine{{ProductID: p.ID, Quantity: 1, Size: "M"}},
		ShippingAddress: "x", IdempotencyKey: "k",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !res.Order.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", res.Order.CreatedAt, now)
	}

	o, err := f.svc.UpdateOrderStatus(ctx, res.Order.ID, model.OrderStatusShipped)
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if o.Status != model.OrderStatusShipped {
		t.Errorf("status = %q", o.Status)
	}

	if _, err := f.svc.UpdateOrderStatus(ctx, res.Order.ID, model.OrderStatusCompleted); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("backwards: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, res.Order.ID, "lost"); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, 999, model.OrderStatusDelivered); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing order: err = %v", err)
	}
}
