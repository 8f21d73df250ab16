package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-shop/meridian-shop/internal/moysklad"
)

func testReporter(source *fakeSource) *Reporter {
	return NewReporter(source, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCollectClassifiesInvalidRecords(t *testing.T) {
	source := &fakeSource{pages: [][]moysklad.ProductRecord{{
		record("g1", "Chair, Red, 5kg"),
		record("g2", "NoCommaName"),
		{ID: "g3", Name: "Desk, Black, 30kg", Code: "D-30"},
		{Name: "Lamp, White, 1kg", SalePrices: []moysklad.SalePrice{{Value: 5000}}},
		record("g5", "Shelf, , 3kg"),
	}}}

	invalid, seen, err := testReporter(source).Collect(context.Background(), ReportOptions{Limit: 100})
	require.NoError(t, err)
	require.Equal(t, 5, seen)
	require.Len(t, invalid, 4)

	require.Equal(t, "malformed name", invalid[0].Reason)
	require.Equal(t, "NoCommaName", invalid[0].RawName)
	require.Equal(t, 1, invalid[0].Index)

	require.Equal(t, "missing price", invalid[1].Reason)
	require.Equal(t, "D-30", invalid[1].Code)

	require.Equal(t, "missing id", invalid[2].Reason)
	require.Equal(t, "missing variant dimension", invalid[3].Reason)
	require.Equal(t, "g5", invalid[3].GUID)
}

func TestCollectHonoursMaxPages(t *testing.T) {
	source := &fakeSource{pages: [][]moysklad.ProductRecord{
		{record("g1", "Bad")},
		{record("g2", "AlsoBad")},
	}}

	invalid, seen, err := testReporter(source).Collect(context.Background(), ReportOptions{Limit: 1, MaxPages: 1})
	require.NoError(t, err)
	require.Equal(t, 1, seen)
	require.Len(t, invalid, 1)
	require.Equal(t, 1, source.fetched)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []InvalidRecord{{
		Page:       3,
		Index:      17,
		Reason:     "missing price",
		RawName:    "Chair, Red, 5kg",
		GUID:       "g1",
		PathName:   "Furniture/Chairs",
		PriceValue: 0,
	}})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{
		"page", "index", "reason", "raw_name", "guid", "code", "external_code", "path_name", "price_value",
	}, rows[0])
	require.Equal(t, "3", rows[1][0])
	require.Equal(t, "17", rows[1][1])
	require.Equal(t, "missing price", rows[1][2])
	require.Equal(t, "Chair, Red, 5kg", rows[1][3])
}
