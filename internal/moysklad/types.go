package moysklad

import (
	"net/url"
	"path"

	"github.com/google/uuid"
)

// Meta is the upstream reference block attached to most entities.
type Meta struct {
	Type         string `json:"type,omitempty"`
	Href         string `json:"href,omitempty"`
	DownloadHref string `json:"downloadHref,omitempty"`
	Size         int    `json:"size,omitempty"`
}

// SalePrice is one entry of a product's price list. Values are denominated
// in minor units (kopecks).
type SalePrice struct {
	Value float64 `json:"value"`
}

// ImagesMeta describes the image collection attached to a product.
type ImagesMeta struct {
	Meta Meta `json:"meta"`
}

// ProductRecord is one row of /entity/product.
type ProductRecord struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Code         string      `json:"code"`
	ExternalCode string      `json:"externalCode"`
	Description  string      `json:"description"`
	PathName     string      `json:"pathName"`
	SalePrices   []SalePrice `json:"salePrices"`
	Images       *ImagesMeta `json:"images"`
}

// ImageRow is one row of a product's image listing.
type ImageRow struct {
	Meta Meta `json:"meta"`
}

// StockRow is one row of /report/stock/all or of a stock webhook payload.
type StockRow struct {
	AssortmentID string  `json:"assortmentId"`
	Assortment   *struct {
		Meta Meta `json:"meta"`
	} `json:"assortment"`
	Meta   *Meta   `json:"meta"`
	Stock  float64 `json:"stock"`
	Action string  `json:"action,omitempty"`
}

type rowsEnvelope[T any] struct {
	Rows []T `json:"rows"`
}

// GUIDFromHref extracts the entity GUID from the trailing path segment of a
// reference URL. Returns "" when the segment is not a UUID.
func GUIDFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	id := path.Base(u.Path)
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

// GUID resolves the variant identifier a stock row refers to, preferring the
// explicit assortmentId over reference URLs.
func (r StockRow) GUID() string {
	if r.AssortmentID != "" {
		return r.AssortmentID
	}
	if r.Assortment != nil && r.Assortment.Meta.Href != "" {
		return GUIDFromHref(r.Assortment.Meta.Href)
	}
	if r.Meta != nil && r.Meta.Href != "" {
		return GUIDFromHref(r.Meta.Href)
	}
	return ""
}
