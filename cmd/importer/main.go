package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-shop/meridian-shop/internal/app"
	"github.com/meridian-shop/meridian-shop/internal/catalog"
	"github.com/meridian-shop/meridian-shop/internal/importer"
	"github.com/meridian-shop/meridian-shop/internal/moysklad"
	"github.com/meridian-shop/meridian-shop/internal/platform/db"
)

// Exit codes: 1 for setup failures, 3 when a page fetch aborts the run and
// the printed resume command should be used to continue.
const exitPageFailure = 3

func main() {
	var (
		page   = flag.Int("page", 0, "page to start from")
		index  = flag.Int("index", 0, "row index inside the start page")
		limit  = flag.Int("limit", moysklad.MaxPageLimit, "page size (capped at 1000)")
		delay  = flag.Duration("delay", 0, "pause between rows")
		prefix = flag.String("prefix", "", "only import records whose name starts with this prefix")
		stocks = flag.Bool("stocks", false, "import stock counters instead of products")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	client := moysklad.NewClient(cfg.MoyskladConfig(), logger, nil)
	fetcher := moysklad.NewFetcher(client)

	imageStore, err := catalog.NewFileImageStore(cfg.ImageDir)
	if err != nil {
		logger.Error("init image store", slog.Any("error", err))
		os.Exit(1)
	}
	reconciler := catalog.NewReconciler(catalog.NewPGStore(pool), imageStore, fetcher, logger)

	runner := importer.NewRunner(fetcher, fetcher, reconciler, logger, os.Stdout)
	opts := importer.Options{
		StartPage:  *page,
		StartIndex: *index,
		Limit:      *limit,
		Delay:      *delay,
		NamePrefix: *prefix,
	}

	start := time.Now()
	if *stocks {
		runStocks(ctx, runner, opts, logger, start)
		return
	}
	runProducts(ctx, runner, opts, logger, start)
}

func runProducts(ctx context.Context, runner *importer.Runner, opts importer.Options, logger *slog.Logger, start time.Time) {
	tally, err := runner.ImportProducts(ctx, opts)
	logger.Info("product import finished",
		slog.Int("pages", tally.Pages),
		slog.Int("seen", tally.Seen),
		slog.Int("imported", tally.Imported),
		slog.Int("rejected", tally.Rejected),
		slog.Int("skipped", tally.Skipped),
		slog.Int("failed", tally.Failed),
		slog.Duration("took", time.Since(start)))
	exitOnPageError(err, logger)
}

func runStocks(ctx context.Context, runner *importer.Runner, opts importer.Options, logger *slog.Logger, start time.Time) {
	tally, err := runner.ImportStocks(ctx, opts)
	logger.Info("stock import finished",
		slog.Int("pages", tally.Pages),
		slog.Int("seen", tally.Seen),
		slog.Int("updated", tally.Updated),
		slog.Int("missing", tally.Missing),
		slog.Int("failed", tally.Failed),
		slog.Duration("took", time.Since(start)))
	exitOnPageError(err, logger)
}

func exitOnPageError(err error, logger *slog.Logger) {
	if err == nil {
		return
	}
	var pageErr *importer.PageError
	if errors.As(err, &pageErr) {
		logger.Error("page fetch failed", slog.Any("error", pageErr.Err))
		fmt.Fprintf(os.Stderr, "run again with: %s\n", pageErr.Cursor.ResumeCommand())
		os.Exit(exitPageFailure)
	}
	logger.Error("import aborted", slog.Any("error", err))
	os.Exit(1)
}
