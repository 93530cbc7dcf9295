package shop

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
	ws "github.com/dukerupert/daostore/internal/websocket"
)

const (
	maxNameLen        = 200
	maxDescriptionLen = 5000
)

// ProductInput is the admin-editable part of a product.
type ProductInput struct {
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description" yaml:"description"`
	ImageURL       string         `json:"image_url" yaml:"image_url"`
	Category       model.Category `json:"category" yaml:"category"`
	SizesAvailable []string       `json:"sizes_available" yaml:"sizes"`
	PriceCents     int64          `json:"price_cents" yaml:"price_cents"`
	TokensReward   int64          `json:"tokens_reward" yaml:"tokens_reward"`
	StockQuantity  int64          `json:"stock_quantity" yaml:"stock"`
}

func (in ProductInput) validate() (model.Product, error) {
	p := model.Product{
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		ImageURL:      strings.TrimSpace(in.ImageURL),
		Category:      in.Category,
		PriceCents:    in.PriceCents,
		TokensReward:  in.TokensReward,
		StockQuantity: in.StockQuantity,
	}

	switch {
	case p.Name == "":
		return p, apperr.Invalid("name", "is required")
	case utf8.RuneCountInString(p.Name) > maxNameLen:
		return p, apperr.Invalid("name", "must be at most %d characters", maxNameLen)
	case utf8.RuneCountInString(p.Description) > maxDescriptionLen:
		return p, apperr.Invalid("description", "must be at most %d characters", maxDescriptionLen)
	case !p.Category.Valid():
		return p, apperr.Invalid("category", "unknown category %q", in.Category)
	case p.PriceCents <= 0:
		return p, apperr.Invalid("price_cents", "must be positive")
	case p.TokensReward < 0:
		return p, apperr.Invalid("tokens_reward", "must not be negative")
	case p.StockQuantity < 0:
		return p, apperr.Invalid("stock_quantity", "must not be negative")
	}

	seen := make(map[string]bool)
	for _, size := range in.SizesAvailable {
		size = strings.TrimSpace(size)
		if size == "" {
			return p, apperr.Invalid("sizes_available", "must not contain blank sizes")
		}
		if !seen[size] {
			seen[size] = true
			p.SizesAvailable = append(p.SizesAvailable, size)
		}
	}
	if len(p.SizesAvailable) == 0 {
		return p, apperr.Invalid("sizes_available", "at least one size is required")
	}
	return p, nil
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	p, err := in.validate()
	if err != nil {
		return nil, err
	}
	created, err := s.products.Create(ctx, p)
	if err != nil {
		return nil, apperr.Store("create product", err)
	}
	s.logger.Info("product created", "product_id", created.ID, "name", created.Name)
	s.hub.Broadcast(ws.ProductChanged("created", created.ID))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*model.Product, error) {
	p, err := in.validate()
	if err != nil {
		return nil, err
	}
	p.ID = id
	updated, err := s.products.Update(ctx, p)
	if err != nil {
		return nil, apperr.Store("update product", err)
	}
	if updated == nil {
		return nil, apperr.ErrNotFound
	}
	s.hub.Broadcast(ws.ProductChanged("updated", updated.ID))
	s.hub.Broadcast(ws.ProductStock(updated.ID, updated.StockQuantity))
	return updated, nil
}

// DeleteProduct removes a product. Past order items keep their snapshot.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return apperr.Store("delete product", err)
	}
	s.logger.Info("product deleted", "product_id", id)
	s.hub.Broadcast(ws.ProductChanged("deleted", id))
	return nil
}

// ListOrders returns a member's order history, newest first.
func (s *Service) ListOrders(ctx context.Context, memberID int64) ([]model.Order, error) {
	orders, err := s.orders.ListByMember(ctx, memberID)
	if err != nil {
		return nil, apperr.Store("list orders", err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// UpdateOrderStatus advances an order through fulfilment. Status only
// moves forward.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, to model.OrderStatus) (*model.Order, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("status", "unknown order status %q", to)
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperr.Store("update order status", err)
	}
	if o == nil {
		return nil, apperr.ErrNotFound
	}
	if !o.Status.CanTransitionTo(to) {
		return nil, apperr.ErrInvalidTransition
	}

	var completedAt *time.Time
	if to == model.OrderStatusCompleted {
		now := s.now().UTC()
		completedAt = &now
	}
	if err := s.orders.UpdateStatus(ctx, orderID, o.Status, to, completedAt); err != nil {
		return nil, apperr.Store("update order status", err)
	}
	s.logger.Info("order status changed", "order_id", orderID, "from", o.Status, "to", to)

	updated, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperr.Store("update order status", err)
	}
	return updated, nil
}
