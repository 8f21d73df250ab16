package moysklad

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// MaxPageLimit is the largest page size the upstream accepts.
const MaxPageLimit = 1000

// Fetcher drives paginated retrieval of entity listings through the client.
// The caller owns the loop: fetch a page, process its rows, move on; a page
// shorter than the requested limit (or empty) signals end of data.
type Fetcher struct {
	client *Client
}

// NewFetcher constructs a Fetcher over the shared client.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

// Products fetches one page of /entity/product rows. The limit is capped at
// MaxPageLimit; the offset is page*limit.
func (f *Fetcher) Products(ctx context.Context, page, limit int) ([]ProductRecord, error) {
	limit = capLimit(limit)
	var out rowsEnvelope[ProductRecord]
	err := f.client.GetJSON(ctx, f.client.BaseURL()+"/entity/product", pageQuery(page, limit), &out)
	if err != nil {
		return nil, fmt.Errorf("fetch products page %d: %w", page, err)
	}
	return out.Rows, nil
}

// StockAll fetches one page of /report/stock/all rows.
func (f *Fetcher) StockAll(ctx context.Context, page, limit int) ([]StockRow, error) {
	limit = capLimit(limit)
	var out rowsEnvelope[StockRow]
	err := f.client.GetJSON(ctx, f.client.BaseURL()+"/report/stock/all", pageQuery(page, limit), &out)
	if err != nil {
		return nil, fmt.Errorf("fetch stock page %d: %w", page, err)
	}
	return out.Rows, nil
}

// ProductByHref fetches a single full product record by its reference URL.
func (f *Fetcher) ProductByHref(ctx context.Context, href string) (ProductRecord, error) {
	var rec ProductRecord
	if err := f.client.GetJSON(ctx, href, nil, &rec); err != nil {
		return ProductRecord{}, fmt.Errorf("fetch product by href: %w", err)
	}
	return rec, nil
}

// FirstImage resolves a product's image listing and downloads the first
// image's bytes. Returns nil bytes when the listing is empty.
func (f *Fetcher) FirstImage(ctx context.Context, listingHref string) ([]byte, error) {
	var listing rowsEnvelope[ImageRow]
	if err := f.client.GetJSON(ctx, listingHref, nil, &listing); err != nil {
		return nil, fmt.Errorf("fetch image listing: %w", err)
	}
	if len(listing.Rows) == 0 {
		return nil, nil
	}
	href := listing.Rows[0].Meta.DownloadHref
	if href == "" {
		return nil, nil
	}
	data, err := f.client.GetBinary(ctx, href)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	return data, nil
}

func capLimit(limit int) int {
	if limit <= 0 || limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(page*limit))
	return q
}
