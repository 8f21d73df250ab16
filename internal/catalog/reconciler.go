package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ImageFetcher retrieves the first image attached to an upstream record.
// Implemented by moysklad.Fetcher.
type ImageFetcher interface {
	FirstImage(ctx context.Context, listingHref string) ([]byte, error)
}

// ImageStore persists downloaded image bytes and returns the stored path.
type ImageStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Outcome reports what a reconcile application did.
type Outcome struct {
	ProductID int64
	VariantID int64
	Applied   bool
	Reason    string
}

// Reconciler upserts parsed records into the catalog store. Reconcile is
// idempotent under repeated application of the same record.
type Reconciler struct {
	store  Store
	images ImageStore
	fetch  ImageFetcher
	logger *slog.Logger
}

// NewReconciler builds a Reconciler. images and fetch may be nil to disable
// the image side-effect.
func NewReconciler(store Store, images ImageStore, fetch ImageFetcher, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, images: images, fetch: fetch, logger: logger}
}

// Reconcile applies one parsed record: category path, product entry, variant
// dimensions, priced variant and the image side-effect, in that order. Each
// write commits independently.
func (r *Reconciler) Reconcile(ctx context.Context, rec ParsedProduct) (Outcome, error) {
	category, err := r.ensureCategoryPath(ctx, rec.CategoryPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("ensure category %q: %w", rec.CategoryPath, err)
	}

	product, err := r.store.UpsertProductByTitle(ctx, rec.Name, category.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("upsert product %q: %w", rec.Name, err)
	}

	color, err := r.store.GetOrCreateColor(ctx, rec.Color)
	if err != nil {
		return Outcome{}, fmt.Errorf("ensure color %q: %w", rec.Color, err)
	}
	weight, err := r.store.GetOrCreateWeight(ctx, rec.Weight)
	if err != nil {
		return Outcome{}, fmt.Errorf("ensure weight %q: %w", rec.Weight, err)
	}

	variant, err := r.store.UpsertVariantByGUID(ctx, PriceVariant{
		GUID:         rec.GUID,
		ColorID:      color.ID,
		WeightID:     weight.ID,
		Amount:       rec.Price,
		ExternalCode: rec.ExternalCode,
		Description:  rec.Description,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("upsert variant %s: %w", rec.GUID, err)
	}
	if err := r.store.AttachVariant(ctx, product.ID, variant.ID); err != nil {
		return Outcome{}, fmt.Errorf("attach variant %s: %w", rec.GUID, err)
	}

	// Image failures must never abort the catalog write that already
	// succeeded.
	if rec.ImageCount > 0 && rec.ImageHref != "" && r.fetch != nil && r.images != nil {
		if err := r.saveFirstImage(ctx, product, rec); err != nil && r.logger != nil {
			r.logger.Warn("save product image",
				slog.String("product", rec.Name),
				slog.Any("error", err))
		}
	}

	return Outcome{ProductID: product.ID, VariantID: variant.ID, Applied: true}, nil
}

// DeleteVariant removes the variant for guid. Products left without variants
// are hidden, never deleted.
func (r *Reconciler) DeleteVariant(ctx context.Context, guid string) error {
	productIDs, err := r.store.DeleteVariantByGUID(ctx, guid)
	if err != nil {
		return err
	}
	for _, id := range productIDs {
		n, err := r.store.VariantCount(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			if err := r.store.SetProductPublic(ctx, id, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateStock sets the stock counter for the variant identified by guid.
// Unknown GUIDs are reported as found=false and logged; dropped stock events
// must not raise.
func (r *Reconciler) UpdateStock(ctx context.Context, guid string, stock int) (bool, error) {
	err := r.store.UpdateStockByGUID(ctx, guid, stock)
	if errors.Is(err, ErrVariantNotFound) {
		if r.logger != nil {
			r.logger.Info("stock update for unknown variant", slog.String("guid", guid))
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ensureCategoryPath walks the slash-delimited path, resolving each segment
// keyed on (name, parent), and returns the deepest node.
func (r *Reconciler) ensureCategoryPath(ctx context.Context, path string) (Category, error) {
	var parent *int64
	var current Category
	found := false
	for _, segment := range strings.Split(path, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		node, err := r.store.GetOrCreateCategory(ctx, segment, parent)
		if err != nil {
			return Category{}, err
		}
		current = node
		id := node.ID
		parent = &id
		found = true
	}
	if !found {
		return r.store.GetOrCreateCategory(ctx, DefaultCategoryPath, nil)
	}
	return current, nil
}

func (r *Reconciler) saveFirstImage(ctx context.Context, product Product, rec ParsedProduct) error {
	data, err := r.fetch.FirstImage(ctx, rec.ImageHref)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	name := fmt.Sprintf("%d_image.jpg", product.ID)
	path, err := r.images.Save(ctx, name, data)
	if err != nil {
		return err
	}
	return r.store.SetProductImage(ctx, product.ID, path)
}
