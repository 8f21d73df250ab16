// Package importer drives full catalog imports from the upstream ERP:
// page-by-page product ingestion, stock backfill and the invalid record
// report used to clean up source data.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/meridian-shop/meridian-shop/internal/catalog"
	"github.com/meridian-shop/meridian-shop/internal/moysklad"
)

// ProductSource fetches pages of product records. Implemented by
// moysklad.Fetcher.
type ProductSource interface {
	Products(ctx context.Context, page, limit int) ([]moysklad.ProductRecord, error)
}

// StockSource fetches pages of stock rows. Implemented by moysklad.Fetcher.
type StockSource interface {
	StockAll(ctx context.Context, page, limit int) ([]moysklad.StockRow, error)
}

// Applier commits parsed records to the catalog. Implemented by
// catalog.Reconciler.
type Applier interface {
	Reconcile(ctx context.Context, rec catalog.ParsedProduct) (catalog.Outcome, error)
	UpdateStock(ctx context.Context, guid string, stock int) (bool, error)
}

// Cursor is a position inside a paged import. Its command form can be pasted
// back into the CLI to continue from that exact row.
type Cursor struct {
	Page  int
	Index int
	Limit int
}

// ResumeCommand renders the CLI invocation that restarts the import at this
// cursor.
func (c Cursor) ResumeCommand() string {
	return fmt.Sprintf("importer -page=%d -index=%d -limit=%d", c.Page, c.Index, c.Limit)
}

// PageError wraps a page fetch failure together with the cursor needed to
// retry from the failed page.
type PageError struct {
	Cursor Cursor
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("importer: page %d failed: %v (resume: %s)", e.Cursor.Page, e.Err, e.Cursor.ResumeCommand())
}

func (e *PageError) Unwrap() error { return e.Err }

// Options controls one import run.
type Options struct {
	StartPage  int
	StartIndex int
	Limit      int
	// Delay is slept between rows to keep long imports gentle on the
	// shared request budget.
	Delay time.Duration
	// NamePrefix, when set, restricts the run to records whose display
	// name starts with the prefix.
	NamePrefix string
}

// Tally summarises a product import run.
type Tally struct {
	Pages    int
	Seen     int
	Imported int
	Rejected int
	Skipped  int
	Failed   int
}

// StockTally summarises a stock import run.
type StockTally struct {
	Pages   int
	Seen    int
	Updated int
	Missing int
	Failed  int
}

// Runner executes paged imports.
type Runner struct {
	products ProductSource
	stocks   StockSource
	apply    Applier
	logger   *slog.Logger
	out      io.Writer
}

// NewRunner builds Runner instance. out receives the per-row resume commands;
// io.Discard silences them.
func NewRunner(products ProductSource, stocks StockSource, apply Applier, logger *slog.Logger, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{products: products, stocks: stocks, apply: apply, logger: logger, out: out}
}

// ImportProducts walks product pages from the start cursor until a short page
// ends the data. Per-record rejections and reconcile failures are counted and
// logged; only page fetch failures abort the run, wrapped in a PageError that
// carries the retry cursor.
func (r *Runner) ImportProducts(ctx context.Context, opts Options) (Tally, error) {
	limit := normalizeLimit(opts.Limit)
	page := opts.StartPage
	index := opts.StartIndex

	var tally Tally
	for {
		rows, err := r.products.Products(ctx, page, limit)
		if err != nil {
			return tally, &PageError{Cursor: Cursor{Page: page, Index: index, Limit: limit}, Err: err}
		}
		tally.Pages++

		for i := index; i < len(rows); i++ {
			if err := ctx.Err(); err != nil {
				return tally, err
			}
			r.importRow(ctx, rows[i], opts.NamePrefix, &tally)
			next := nextCursor(page, i, len(rows), limit)
			fmt.Fprintf(r.out, "resume: %s\n", next.ResumeCommand())
			if opts.Delay > 0 && i < len(rows)-1 {
				if err := sleep(ctx, opts.Delay); err != nil {
					return tally, err
				}
			}
		}

		if len(rows) < limit {
			return tally, nil
		}
		page++
		index = 0
	}
}

func (r *Runner) importRow(ctx context.Context, rec moysklad.ProductRecord, prefix string, tally *Tally) {
	tally.Seen++

	if prefix != "" && !strings.HasPrefix(strings.TrimSpace(rec.Name), prefix) {
		tally.Skipped++
		return
	}

	parsed, err := catalog.ParseProduct(rec)
	var reject *catalog.RejectError
	if errors.As(err, &reject) {
		tally.Rejected++
		r.logger.Warn("record rejected",
			slog.String("reason", string(reject.Reason)),
			slog.String("name", reject.RawName))
		return
	}
	if err != nil {
		tally.Failed++
		r.logger.Error("parse record", slog.Any("error", err))
		return
	}

	if _, err := r.apply.Reconcile(ctx, parsed); err != nil {
		tally.Failed++
		r.logger.Error("reconcile record",
			slog.String("guid", parsed.GUID),
			slog.Any("error", err))
		return
	}
	tally.Imported++
}

// ImportStocks walks the full stock report and applies every row. Rows whose
// variant is unknown locally are counted as missing, never failed.
func (r *Runner) ImportStocks(ctx context.Context, opts Options) (StockTally, error) {
	limit := normalizeLimit(opts.Limit)
	page := opts.StartPage

	var tally StockTally
	for {
		rows, err := r.stocks.StockAll(ctx, page, limit)
		if err != nil {
			return tally, &PageError{Cursor: Cursor{Page: page, Limit: limit}, Err: err}
		}
		tally.Pages++

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return tally, err
			}
			tally.Seen++
			guid := row.GUID()
			if guid == "" {
				tally.Failed++
				r.logger.Warn("stock row without variant guid")
				continue
			}
			found, err := r.apply.UpdateStock(ctx, guid, int(row.Stock))
			if err != nil {
				tally.Failed++
				r.logger.Error("update stock", slog.String("guid", guid), slog.Any("error", err))
				continue
			}
			if !found {
				tally.Missing++
				continue
			}
			tally.Updated++
		}

		if len(rows) < limit {
			return tally, nil
		}
		page++
	}
}

func nextCursor(page, index, rowCount, limit int) Cursor {
	if index+1 >= rowCount && rowCount == limit {
		return Cursor{Page: page + 1, Index: 0, Limit: limit}
	}
	return Cursor{Page: page, Index: index + 1, Limit: limit}
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > moysklad.MaxPageLimit {
		return moysklad.MaxPageLimit
	}
	return limit
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
