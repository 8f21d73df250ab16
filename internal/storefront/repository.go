package storefront

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-shop/meridian-shop/internal/platform/db"
)

// Repository reads catalog projections and persists orders.
type Repository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListProducts(ctx context.Context, filters ListFilters) ([]ProductSummary, int, error)
	GetProduct(ctx context.Context, id int64) (ProductDetail, error)
	CreateOrder(ctx context.Context, order Order) (Order, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

func (r *repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, parent_id FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) ListProducts(ctx context.Context, filters ListFilters) ([]ProductSummary, int, error) {
	where := ` WHERE p.public`
	args := []any{}
	argCount := 0

	if filters.CategoryID != nil {
		argCount++
		where += ` AND p.category_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.CategoryID)
	}
	if filters.Search != "" {
		argCount++
		where += ` AND p.title ILIKE $` + strconv.Itoa(argCount)
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products p`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := `
		SELECT p.id, p.title, p.category_id, COALESCE(p.image_path, ''),
		       COALESCE(MIN(v.amount), 0), COALESCE(SUM(v.stock), 0)
		FROM products p
		LEFT JOIN product_variants pv ON pv.product_id = p.id
		LEFT JOIN price_variants v ON v.id = pv.variant_id` + where + `
		GROUP BY p.id
		ORDER BY p.title`

	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	page := filters.Page
	if page < 1 {
		page = 1
	}
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, (page-1)*limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []ProductSummary
	for rows.Next() {
		var p ProductSummary
		if err := rows.Scan(&p.ID, &p.Title, &p.CategoryID, &p.ImagePath, &p.MinPrice, &p.TotalStock); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repository) GetProduct(ctx context.Context, id int64) (ProductDetail, error) {
	var detail ProductDetail
	err := r.db.QueryRow(ctx, `
		SELECT id, title, category_id, COALESCE(image_path, '')
		FROM products WHERE id = $1 AND public`, id).
		Scan(&detail.ID, &detail.Title, &detail.CategoryID, &detail.ImagePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductDetail{}, ErrProductNotFound
	}
	if err != nil {
		return ProductDetail{}, fmt.Errorf("get product %d: %w", id, err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT v.id, c.name, w.mass, v.amount, v.stock, COALESCE(v.description, '')
		FROM price_variants v
		JOIN product_variants pv ON pv.variant_id = v.id
		JOIN colors c ON c.id = v.color_id
		JOIN weights w ON w.id = v.weight_id
		WHERE pv.product_id = $1
		ORDER BY v.amount`, id)
	if err != nil {
		return ProductDetail{}, fmt.Errorf("get product %d variants: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v Variant
		var description string
		if err := rows.Scan(&v.ID, &v.Color, &v.Weight, &v.Amount, &v.Stock, &description); err != nil {
			return ProductDetail{}, err
		}
		if detail.Description == "" {
			detail.Description = description
		}
		if detail.MinPrice == 0 || v.Amount < detail.MinPrice {
			detail.MinPrice = v.Amount
		}
		detail.TotalStock += v.Stock
		detail.Variants = append(detail.Variants, v)
	}
	return detail, rows.Err()
}

// CreateOrder persists the order head and its lines in one transaction,
// pricing each line from the current variant amount.
func (r *repository) CreateOrder(ctx context.Context, order Order) (Order, error) {
	if len(order.Items) == 0 {
		return Order{}, ErrEmptyOrder
	}

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		total := 0.0
		for i, item := range order.Items {
			var amount float64
			err := tx.QueryRow(ctx,
				`SELECT amount FROM price_variants WHERE id = $1`, item.VariantID).
				Scan(&amount)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("order item %d: %w", i, ErrProductNotFound)
			}
			if err != nil {
				return err
			}
			order.Items[i].Amount = amount
			total += amount * float64(item.Quantity)
		}
		order.Total = total

		err := tx.QueryRow(ctx, `
			INSERT INTO orders (customer, phone, address, comment, total)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			order.Customer, order.Phone, order.Address, order.Comment, order.Total).
			Scan(&order.ID, &order.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.Items {
			_, err := tx.Exec(ctx, `
				INSERT INTO order_items (order_id, variant_id, quantity, amount)
				VALUES ($1, $2, $3, $4)`,
				order.ID, item.VariantID, item.Quantity, item.Amount)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}
