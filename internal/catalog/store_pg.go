package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL-backed catalog store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore over the shared pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PGStore) GetOrCreateCategory(ctx context.Context, name string, parentID *int64) (Category, error) {
	cat := Category{Name: name, ParentID: parentID}

	selectOne := func() (Category, error) {
		var query string
		var row pgx.Row
		if parentID == nil {
			query = `SELECT id FROM categories WHERE name = $1 AND parent_id IS NULL`
			row = s.pool.QueryRow(ctx, query, name)
		} else {
			query = `SELECT id FROM categories WHERE name = $1 AND parent_id = $2`
			row = s.pool.QueryRow(ctx, query, name, *parentID)
		}
		err := row.Scan(&cat.ID)
		return cat, err
	}

	got, err := selectOne()
	if err == nil {
		return got, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Category{}, err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO categories (name, parent_id) VALUES ($1, $2) RETURNING id`,
		name, parentID).Scan(&cat.ID)
	if err != nil {
		// Concurrent creator won the race; read theirs.
		if isUniqueViolation(err) {
			return selectOne()
		}
		return Category{}, err
	}
	return cat, nil
}

func (s *PGStore) UpsertProductByTitle(ctx context.Context, title string, categoryID int64) (Product, error) {
	p := Product{Title: title, CategoryID: categoryID, Public: true}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (title, category_id, public)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (title) DO UPDATE
		SET category_id = EXCLUDED.category_id, public = TRUE
		RETURNING id, COALESCE(image_path, '')`,
		title, categoryID).Scan(&p.ID, &p.ImagePath)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (s *PGStore) GetOrCreateColor(ctx context.Context, name string) (Color, error) {
	c := Color{Name: name}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO colors (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name).Scan(&c.ID)
	if err != nil {
		return Color{}, err
	}
	return c, nil
}

func (s *PGStore) GetOrCreateWeight(ctx context.Context, mass string) (Weight, error) {
	w := Weight{Mass: mass}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO weights (mass) VALUES ($1)
		ON CONFLICT (mass) DO UPDATE SET mass = EXCLUDED.mass
		RETURNING id`, mass).Scan(&w.ID)
	if err != nil {
		return Weight{}, err
	}
	return w, nil
}

func (s *PGStore) UpsertVariantByGUID(ctx context.Context, v PriceVariant) (PriceVariant, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO price_variants (guid, color_id, weight_id, amount, stock, external_code, description)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (guid) DO UPDATE
		SET color_id = EXCLUDED.color_id,
		    weight_id = EXCLUDED.weight_id,
		    amount = EXCLUDED.amount,
		    external_code = EXCLUDED.external_code,
		    description = EXCLUDED.description
		RETURNING id, stock`,
		v.GUID, v.ColorID, v.WeightID, v.Amount, v.ExternalCode, v.Description).
		Scan(&v.ID, &v.Stock)
	if err != nil {
		return PriceVariant{}, err
	}
	return v, nil
}

func (s *PGStore) AttachVariant(ctx context.Context, productID, variantID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO product_variants (product_id, variant_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, productID, variantID)
	return err
}

func (s *PGStore) DeleteVariantByGUID(ctx context.Context, guid string) ([]int64, error) {
	var variantID int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM price_variants WHERE guid = $1`, guid).Scan(&variantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVariantNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT product_id FROM product_variants WHERE variant_id = $1`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var productIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		productIDs = append(productIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM product_variants WHERE variant_id = $1`, variantID); err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM price_variants WHERE id = $1`, variantID); err != nil {
		return nil, err
	}
	return productIDs, nil
}

func (s *PGStore) VariantCount(ctx context.Context, productID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM product_variants WHERE product_id = $1`, productID).Scan(&n)
	return n, err
}

func (s *PGStore) SetProductPublic(ctx context.Context, productID int64, public bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE products SET public = $1 WHERE id = $2`, public, productID)
	return err
}

func (s *PGStore) UpdateStockByGUID(ctx context.Context, guid string, stock int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE price_variants SET stock = $1 WHERE guid = $2`, stock, guid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVariantNotFound
	}
	return nil
}

func (s *PGStore) SetProductImage(ctx context.Context, productID int64, path string) error {
	_, err := s.pool.Exec(ctx, `UPDATE products SET image_path = $1 WHERE id = $2`, path, productID)
	return err
}
