package model

import (
	"slices"
	"time"
)

type Category string

const (
	CategoryTShirt      Category = "tshirt"
	CategoryHoodie      Category = "hoodie"
	CategoryJacket      Category = "jacket"
	CategoryPants       Category = "pants"
	CategoryAccessories Category = "accessories"
)

var Categories = []Category{CategoryTShirt, CategoryHoodie, CategoryJacket, CategoryPants, CategoryAccessories}

func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

type Product struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	ImageURL       string    `json:"image_url"`
	Category       Category  `json:"category"`
	SizesAvailable []string  `json:"sizes_available"`
	PriceCents     int64     `json:"price_cents"`
	TokensReward   int64     `json:"tokens_reward"`
	StockQuantity  int64     `json:"stock_quantity"`
	CreatedAt      time.Time `json:"created_at"`
}

func (p *Product) HasSize(size string) bool {
	return slices.Contains(p.SizesAvailable, size)
}
