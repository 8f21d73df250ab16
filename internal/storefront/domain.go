// Package storefront exposes the read side of the catalog to shop clients
// and accepts customer orders.
package storefront

import (
	"fmt"
	"time"

	"github.com/meridian-shop/meridian-shop/internal/platform/httpx"
)

var (
	// ErrProductNotFound is returned for unknown or hidden products.
	ErrProductNotFound = fmt.Errorf("storefront: product: %w", httpx.ErrNotFound)
	// ErrEmptyOrder is returned when an order carries no items.
	ErrEmptyOrder = fmt.Errorf("storefront: order has no items: %w", httpx.ErrValidation)
)

// Category is one node of the category tree.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// ProductSummary is a catalog listing row.
type ProductSummary struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	CategoryID int64   `json:"category_id"`
	ImagePath  string  `json:"image_path,omitempty"`
	MinPrice   float64 `json:"min_price"`
	TotalStock int     `json:"total_stock"`
}

// Variant is one purchasable combination of a product.
type Variant struct {
	ID     int64   `json:"id"`
	Color  string  `json:"color"`
	Weight string  `json:"weight"`
	Amount float64 `json:"amount"`
	Stock  int     `json:"stock"`
}

// ProductDetail is a product page payload.
type ProductDetail struct {
	ProductSummary
	Description string    `json:"description,omitempty"`
	Variants    []Variant `json:"variants"`
}

// ListFilters narrows a product listing.
type ListFilters struct {
	Page       int
	Limit      int
	Search     string
	CategoryID *int64
}

// OrderItem is one line of a customer order.
type OrderItem struct {
	VariantID int64   `json:"variant_id" validate:"required,gt=0"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
	Amount    float64 `json:"-"`
}

// Order is a customer order as accepted from the shop front.
type Order struct {
	ID        int64       `json:"id"`
	Customer  string      `json:"customer" validate:"required,min=2,max=200"`
	Phone     string      `json:"phone" validate:"required,min=5,max=32"`
	Address   string      `json:"address" validate:"required,min=5,max=500"`
	Comment   string      `json:"comment" validate:"max=1000"`
	Items     []OrderItem `json:"items" validate:"required,min=1,dive"`
	Total     float64     `json:"total"`
	CreatedAt time.Time   `json:"created_at"`
}
