package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-shop/meridian-shop/internal/importer"
	jobmetrics "github.com/meridian-shop/meridian-shop/internal/jobs"
)

// CatalogSyncJob runs scheduled catalog and stock imports.
type CatalogSyncJob struct {
	runner  *importer.Runner
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewCatalogSyncJob builds CatalogSyncJob instance. metrics may be nil.
func NewCatalogSyncJob(runner *importer.Runner, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogSyncJob {
	return &CatalogSyncJob{runner: runner, logger: logger, metrics: metrics}
}

// NewRunnerForSync builds an importer runner that discards the interactive
// resume output, which only matters for CLI runs.
func NewRunnerForSync(products importer.ProductSource, stocks importer.StockSource, apply importer.Applier, logger *slog.Logger) *importer.Runner {
	return importer.NewRunner(products, stocks, apply, logger, io.Discard)
}

// HandleProducts processes TaskCatalogSyncProducts tasks.
func (j *CatalogSyncJob) HandleProducts(ctx context.Context, t *asynq.Task) error {
	var payload SyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("catalog_sync_products")

	tally, err := j.runner.ImportProducts(ctx, importer.Options{Limit: payload.Limit})
	if err != nil {
		j.logger.Error("scheduled product sync failed",
			slog.Int("imported", tally.Imported),
			slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("scheduled product sync finished",
		slog.Int("pages", tally.Pages),
		slog.Int("imported", tally.Imported),
		slog.Int("rejected", tally.Rejected),
		slog.Int("failed", tally.Failed))
	return tracker.End(nil)
}

// HandleStocks processes TaskCatalogSyncStocks tasks.
func (j *CatalogSyncJob) HandleStocks(ctx context.Context, t *asynq.Task) error {
	var payload SyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("catalog_sync_stocks")

	tally, err := j.runner.ImportStocks(ctx, importer.Options{Limit: payload.Limit})
	if err != nil {
		j.logger.Error("scheduled stock sync failed",
			slog.Int("updated", tally.Updated),
			slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("scheduled stock sync finished",
		slog.Int("pages", tally.Pages),
		slog.Int("updated", tally.Updated),
		slog.Int("missing", tally.Missing),
		slog.Int("failed", tally.Failed))
	return tracker.End(nil)
}
