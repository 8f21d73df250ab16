package catalog

import (
	"context"
	"errors"
)

// ErrVariantNotFound indicates no variant matches the given GUID.
var ErrVariantNotFound = errors.New("catalog: variant not found")

// Store abstracts the keyed catalog persistence. Every write is individually
// idempotent; no call spans a transaction over multiple upserts, so a crash
// mid-record leaves a partially-enriched but non-corrupt state that a re-run
// of the same record repairs.
type Store interface {
	// GetOrCreateCategory resolves a node keyed on (name, parent).
	GetOrCreateCategory(ctx context.Context, name string, parentID *int64) (Category, error)
	// UpsertProductByTitle creates or updates the entry keyed on its
	// normalized title, setting the category and public=true.
	UpsertProductByTitle(ctx context.Context, title string, categoryID int64) (Product, error)
	GetOrCreateColor(ctx context.Context, name string) (Color, error)
	GetOrCreateWeight(ctx context.Context, mass string) (Weight, error)
	// UpsertVariantByGUID creates or updates the variant keyed on its GUID.
	// Stock is zeroed on create and left untouched on update.
	UpsertVariantByGUID(ctx context.Context, v PriceVariant) (PriceVariant, error)
	// AttachVariant links a variant to a product's variant set; linking an
	// already-linked pair is a no-op.
	AttachVariant(ctx context.Context, productID, variantID int64) error
	// DeleteVariantByGUID removes the variant and returns the IDs of the
	// products that referenced it. ErrVariantNotFound when the GUID is
	// unknown.
	DeleteVariantByGUID(ctx context.Context, guid string) ([]int64, error)
	// VariantCount reports how many variants remain attached to a product.
	VariantCount(ctx context.Context, productID int64) (int, error)
	// SetProductPublic flips the visibility flag.
	SetProductPublic(ctx context.Context, productID int64, public bool) error
	// UpdateStockByGUID updates only the stock field.
	// ErrVariantNotFound when the GUID is unknown.
	UpdateStockByGUID(ctx context.Context, guid string, stock int) error
	// SetProductImage records the stored image path for a product.
	SetProductImage(ctx context.Context, productID int64, path string) error
}
