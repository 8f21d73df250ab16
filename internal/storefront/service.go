package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

const cacheTTL = 5 * time.Minute

// OrderNotifier pushes a placed order onto the notification queue.
// Implemented by jobs.Client.
type OrderNotifier interface {
	EnqueueOrderNotification(ctx context.Context, order Order) error
}

// Service serves catalog reads through a Redis cache and accepts orders.
// The cache client may be nil; reads then go straight to the repository.
type Service struct {
	repo     Repository
	cache    *redis.Client
	validate *validator.Validate
	notifier OrderNotifier
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo Repository, cache *redis.Client, notifier OrderNotifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		validate: validator.New(),
		notifier: notifier,
		logger:   logger,
	}
}

// Categories returns the category tree.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	var out []Category
	hit, err := s.cached(ctx, "storefront:categories", &out)
	if err == nil && hit {
		return out, nil
	}
	out, err = s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, "storefront:categories", out)
	return out, nil
}

type productListing struct {
	Products []ProductSummary `json:"products"`
	Total    int              `json:"total"`
}

// Products returns one page of the public catalog.
func (s *Service) Products(ctx context.Context, filters ListFilters) ([]ProductSummary, int, error) {
	key := listingKey(filters)
	var listing productListing
	hit, err := s.cached(ctx, key, &listing)
	if err == nil && hit {
		return listing.Products, listing.Total, nil
	}
	products, total, err := s.repo.ListProducts(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	s.store(ctx, key, productListing{Products: products, Total: total})
	return products, total, nil
}

// Product returns the product page payload for id.
func (s *Service) Product(ctx context.Context, id int64) (ProductDetail, error) {
	key := "storefront:product:" + strconv.FormatInt(id, 10)
	var detail ProductDetail
	hit, err := s.cached(ctx, key, &detail)
	if err == nil && hit {
		return detail, nil
	}
	detail, err = s.repo.GetProduct(ctx, id)
	if err != nil {
		return ProductDetail{}, err
	}
	s.store(ctx, key, detail)
	return detail, nil
}

// PlaceOrder validates and persists an order, then queues the sale
// notification. Notification failures are logged, never surfaced: the order
// is already committed.
func (s *Service) PlaceOrder(ctx context.Context, order Order) (Order, error) {
	if err := s.validate.Struct(order); err != nil {
		return Order{}, err
	}

	placed, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return Order{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.EnqueueOrderNotification(ctx, placed); err != nil {
			s.logger.Error("enqueue order notification",
				slog.Int64("order", placed.ID),
				slog.Any("error", err))
		}
	}
	return placed, nil
}

// cached loads key into out, reporting whether it was present. Cache errors
// other than a miss are logged and treated as a miss.
func (s *Service) cached(ctx context.Context, key string, out any) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		s.logger.Warn("cache read", slog.String("key", key), slog.Any("error", err))
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		s.logger.Warn("cache write", slog.String("key", key), slog.Any("error", err))
	}
}

func listingKey(filters ListFilters) string {
	category := int64(0)
	if filters.CategoryID != nil {
		category = *filters.CategoryID
	}
	return fmt.Sprintf("storefront:products:%d:%d:%d:%s",
		filters.Page, filters.Limit, category, filters.Search)
}
