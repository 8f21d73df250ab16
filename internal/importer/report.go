package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/meridian-shop/meridian-shop/internal/catalog"
)

// InvalidRecord is one source record that failed validation, with enough raw
// context for the upstream data owners to fix it.
type InvalidRecord struct {
	Page         int
	Index        int
	Reason       string
	RawName      string
	GUID         string
	Code         string
	ExternalCode string
	PathName     string
	// PriceValue is the raw upstream value in minor units, before the
	// division applied during import.
	PriceValue float64
}

// ReportOptions controls a report run.
type ReportOptions struct {
	StartPage int
	// MaxPages caps how many pages are scanned; zero means all.
	MaxPages int
	Limit    int
}

// Reporter scans the full product listing and collects the records the
// importer would reject, classified by the same rules in the same order.
type Reporter struct {
	source ProductSource
	logger *slog.Logger
}

// NewReporter builds Reporter instance.
func NewReporter(source ProductSource, logger *slog.Logger) *Reporter {
	return &Reporter{source: source, logger: logger}
}

// Collect walks product pages and returns the invalid records plus the total
// number of rows scanned.
func (r *Reporter) Collect(ctx context.Context, opts ReportOptions) ([]InvalidRecord, int, error) {
	limit := normalizeLimit(opts.Limit)
	page := opts.StartPage

	var invalid []InvalidRecord
	seen := 0
	pages := 0
	for {
		rows, err := r.source.Products(ctx, page, limit)
		if err != nil {
			return invalid, seen, fmt.Errorf("scan page %d: %w", page, err)
		}
		pages++

		for i, rec := range rows {
			if err := ctx.Err(); err != nil {
				return invalid, seen, err
			}
			seen++
			_, err := catalog.ParseProduct(rec)
			var reject *catalog.RejectError
			if !errors.As(err, &reject) {
				continue
			}
			var priceValue float64
			if len(rec.SalePrices) > 0 {
				priceValue = rec.SalePrices[0].Value
			}
			invalid = append(invalid, InvalidRecord{
				Page:         page,
				Index:        i,
				Reason:       string(reject.Reason),
				RawName:      reject.RawName,
				GUID:         rec.ID,
				Code:         rec.Code,
				ExternalCode: rec.ExternalCode,
				PathName:     rec.PathName,
				PriceValue:   priceValue,
			})
		}

		if len(rows) < limit || (opts.MaxPages > 0 && pages >= opts.MaxPages) {
			r.logger.Info("invalid record scan finished",
				slog.Int("pages", pages),
				slog.Int("seen", seen),
				slog.Int("invalid", len(invalid)))
			return invalid, seen, nil
		}
		page++
	}
}

// WriteCSV renders the report with a header row.
func WriteCSV(w io.Writer, records []InvalidRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"page", "index", "reason", "raw_name", "guid", "code", "external_code", "path_name", "price_value",
	}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Page),
			strconv.Itoa(rec.Index),
			rec.Reason,
			rec.RawName,
			rec.GUID,
			rec.Code,
			rec.ExternalCode,
			rec.PathName,
			strconv.FormatFloat(rec.PriceValue, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
