package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/daostore/internal/auth"
	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/shop"
)

// IdempotencyHeader carries the client-chosen key that makes a checkout
// safe to retry.
const IdempotencyHeader = "Idempotency-Key"

type ShopHandler struct {
	shop   *shop.Service
	logger *slog.Logger
}

func NewShopHandler(s *shop.Service, logger *slog.Logger) *ShopHandler {
	return &ShopHandler{shop: s, logger: logger}
}

// ListProducts handles GET /api/products?category=
func (h *ShopHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	f := shop.Filter{Category: model.Category(r.URL.Query().Get("category"))}
	products, err := shop.Collect(h.shop.ListProducts(r.Context(), f))
	if err != nil {
		writeErr(w, r, h.logger, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// GetProduct handles GET /api/products/{id}
func (h *ShopHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	p, err := h.shop.GetProduct(r.Context(), id)
	if err != nil {
		writeErr(w, r, h.logger, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type checkoutRequest struct {
	Items           []shop.CartLine `json:"items"`
	ShippingAddress string          `json:"shipping_address"`
}

// Checkout handles POST /api/checkout. A replayed key answers 200 with the
// original order instead of 201.
func (h *ShopHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.shop.Checkout(r.Context(), shop.CheckoutRequest{
		MemberID:        auth.MemberID(r.Context()),
		Lines:           req.Items,
		ShippingAddress: req.ShippingAddress,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		writeErr(w, r, h.logger, "checkout", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// ListOrders handles GET /api/orders
func (h *ShopHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.shop.ListOrders(r.Context(), auth.MemberID(r.Context()))
	if err != nil {
		writeErr(w, r, h.logger, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// CreateProduct handles POST /api/admin/products
func (h *ShopHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in shop.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.shop.CreateProduct(r.Context(), in)
	if err != nil {
		writeErr(w, r, h.logger, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProduct handles PUT /api/admin/products/{id}
func (h *ShopHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var in shop.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.shop.UpdateProduct(r.Context(), id, in)
	if err != nil {
		writeErr(w, r, h.logger, "update product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProduct handles DELETE /api/admin/products/{id}
func (h *ShopHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.shop.DeleteProduct(r.Context(), id); err != nil {
		writeErr(w, r, h.logger, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type orderStatusRequest struct {
	Status model.OrderStatus `json:"status"`
}

// UpdateOrderStatus handles PUT /api/admin/orders/{id}/status
func (h *ShopHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req orderStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.shop.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		writeErr(w, r, h.logger, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
