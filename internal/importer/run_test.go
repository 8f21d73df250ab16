package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-shop/meridian-shop/internal/catalog"
	"github.com/meridian-shop/meridian-shop/internal/moysklad"
)

type fakeSource struct {
	pages    [][]moysklad.ProductRecord
	stock    [][]moysklad.StockRow
	failPage int
	fetched  int
}

func (s *fakeSource) Products(_ context.Context, page, limit int) ([]moysklad.ProductRecord, error) {
	s.fetched++
	if s.failPage > 0 && page == s.failPage {
		return nil, errors.New("upstream unavailable")
	}
	if page >= len(s.pages) {
		return nil, nil
	}
	return s.pages[page], nil
}

func (s *fakeSource) StockAll(_ context.Context, page, limit int) ([]moysklad.StockRow, error) {
	if page >= len(s.stock) {
		return nil, nil
	}
	return s.stock[page], nil
}

type countingApplier struct {
	reconciled []catalog.ParsedProduct
	stock      map[string]int
	known      map[string]bool
	failGUID   string
}

func (a *countingApplier) Reconcile(_ context.Context, rec catalog.ParsedProduct) (catalog.Outcome, error) {
	if a.failGUID != "" && rec.GUID == a.failGUID {
		return catalog.Outcome{}, errors.New("store down")
	}
	a.reconciled = append(a.reconciled, rec)
	return catalog.Outcome{Applied: true}, nil
}

func (a *countingApplier) UpdateStock(_ context.Context, guid string, stock int) (bool, error) {
	if !a.known[guid] {
		return false, nil
	}
	if a.stock == nil {
		a.stock = map[string]int{}
	}
	a.stock[guid] = stock
	return true, nil
}

func record(guid, name string) moysklad.ProductRecord {
	return moysklad.ProductRecord{
		ID:         guid,
		Name:       name,
		SalePrices: []moysklad.SalePrice{{Value: 100000}},
	}
}

func testRunner(source *fakeSource, apply Applier, out io.Writer) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(source, source, apply, logger, out)
}

func TestImportProductsWalksAllPages(t *testing.T) {
	source := &fakeSource{pages: [][]moysklad.ProductRecord{
		{record("g1", "Chair, Red, 5kg"), record("g2", "Table, Oak, 20kg")},
		{record("g3", "Lamp, White, 1kg")},
	}}
	apply := &countingApplier{}
	r := testRunner(source, apply, io.Discard)

	tally, err := r.ImportProducts(context.Background(), Options{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, tally.Pages)
	require.Equal(t, 3, tally.Seen)
	require.Equal(t, 3, tally.Imported)
	require.Len(t, apply.reconciled, 3)
}

func TestImportProductsCountsRejectionsAndFailures(t *testing.T) {
	source := &fakeSource{pages: [][]moysklad.ProductRecord{{
		record("g1", "Chair, Red, 5kg"),
		record("g2", "NoCommaName"),
		record("g3", "Desk, Black, 30kg"),
	}}}
	apply := &countingApplier{failGUID: "g3"}
	r := testRunner(source, apply, io.Discard)

	tally, err := r.ImportProducts(context.Background(), Options{Limit: 100})
	require.NoError(t, err)
	require.Equal(t, 3, tally.Seen)
	require.Equal(t, 1, tally.Imported)
	require.Equal(t, 1, tally.Rejected)
	require.Equal(t, 1, tally.Failed)
}

func TestImportProductsEmitsResumeCommands(t *testing.T) {
	source := &fakeSource{pages: [][]moysklad.ProductRecord{
		{record("g1", "Chair, Red, 5kg"), record("g2", "Table, Oak, 20kg")},
		{record("g3", "Lamp, White, 1kg")},
	}}
	var out bytes.Buffer
	r := testRunner(source, &countingApplier{}, &out)

	_, err := r.ImportProducts(context.Background(), Options{Limit: 2})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		"resume: importer -page=0 -index=1 -limit=2",
		"resume: importer -page=1 -index=0 -limit=2",
		"resume: importer -page=1 -index=1 -limit=2",
	}, lines)
}

func TestImportProductsResumesMidPage(t *testing.T) {
	source := &fakeSource{pages: [][]moysklad.ProductRecord{{
		record("g1", "Chair, Red, 5kg"),
		record("g2", "Table, Oak, 20kg"),
		record("g3", "Lamp, White, 1kg"),
	}}}
	apply := &countingApplier{}
	r := testRunner(source, apply, io.Discard)

	tally, err := r.ImportProducts(context.Background(), Options{StartIndex: 2, Limit: 100})
	require.NoError(t, err)
	require.Equal(t, 1, tally.Seen)
	require.Len(t, apply.reconciled, 1)
	require.Equal(t, "Lamp", apply.reconciled[0].Name)
}

func TestImportProductsPrefixFilterSkips(t *testing.T) {
	source := &fakeSource{pages: [][]moysklad.ProductRecord{{
		record("g1", "Chair, Red, 5kg"),
		record("g2", "Table, Oak, 20kg"),
	}}}
	apply := &countingApplier{}
	r := testRunner(source, apply, io.Discard)

	tally, err := r.ImportProducts(context.Background(), Options{Limit: 100, NamePrefix: "Table"})
	require.NoError(t, err)
	require.Equal(t, 1, tally.Imported)
	require.Equal(t, 1, tally.Skipped)
	require.Equal(t, "Table", apply.reconciled[0].Name)
}

func TestImportProductsPageFailureCarriesCursor(t *testing.T) {
	source := &fakeSource{
		pages: [][]moysklad.ProductRecord{
			{record("g1", "Chair, Red, 5kg"), record("g2", "Table, Oak, 20kg")},
		},
		failPage: 1,
	}
	r := testRunner(source, &countingApplier{}, io.Discard)

	tally, err := r.ImportProducts(context.Background(), Options{Limit: 2})
	require.Error(t, err)
	var pageErr *PageError
	require.ErrorAs(t, err, &pageErr)
	require.Equal(t, Cursor{Page: 1, Index: 0, Limit: 2}, pageErr.Cursor)
	require.Contains(t, pageErr.Error(), "importer -page=1 -index=0 -limit=2")
	require.Equal(t, 2, tally.Imported)
}

func TestImportStocksAppliesRows(t *testing.T) {
	source := &fakeSource{stock: [][]moysklad.StockRow{{
		{AssortmentID: "g1", Stock: 4},
		{AssortmentID: "g2", Stock: 9},
		{AssortmentID: "unknown", Stock: 2},
		{Stock: 1},
	}}}
	apply := &countingApplier{known: map[string]bool{"g1": true, "g2": true}}
	r := testRunner(source, apply, io.Discard)

	tally, err := r.ImportStocks(context.Background(), Options{Limit: 100})
	require.NoError(t, err)
	require.Equal(t, 4, tally.Seen)
	require.Equal(t, 2, tally.Updated)
	require.Equal(t, 1, tally.Missing)
	require.Equal(t, 1, tally.Failed)
	require.Equal(t, 4, apply.stock["g1"])
	require.Equal(t, 9, apply.stock["g2"])
}
