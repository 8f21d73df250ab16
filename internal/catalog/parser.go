package catalog

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/meridian-shop/meridian-shop/internal/moysklad"
)

// DefaultCategoryPath is used when a record carries no pathName.
const DefaultCategoryPath = "Default Category"

// RejectReason classifies why a record cannot be imported.
type RejectReason string

const (
	RejectMalformedName    RejectReason = "malformed name"
	RejectMissingPrice     RejectReason = "missing price"
	RejectMissingID        RejectReason = "missing id"
	RejectMissingDimension RejectReason = "missing variant dimension"
)

// RejectError reports a per-record rejection. Rejections are counted and
// logged by the batch loops, never escalated past them.
type RejectError struct {
	Reason  RejectReason
	RawName string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("catalog: record rejected (%s): %q", e.Reason, e.RawName)
}

// ParsedProduct is the normalized form of one upstream product record.
type ParsedProduct struct {
	GUID         string
	Name         string
	Color        string
	Weight       string
	CategoryPath string
	Price        float64
	ExternalCode string
	Description  string
	ImageHref    string
	ImageCount   int
}

// ParseProduct decodes one upstream record. Display names follow the
// "Name, Color, Weight" convention; records that do not are rejected whole,
// never partially imported.
func ParseProduct(rec moysklad.ProductRecord) (ParsedProduct, error) {
	rawName := strings.TrimSpace(norm.NFC.String(rec.Name))

	// The upstream convention delimits segments with ", ": a bare comma is
	// part of the name, not a separator.
	parts := strings.Split(rawName, ", ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 {
		return ParsedProduct{}, &RejectError{Reason: RejectMalformedName, RawName: rawName}
	}

	var price float64
	if len(rec.SalePrices) > 0 {
		price = rec.SalePrices[0].Value / 100
	}
	if price == 0 {
		return ParsedProduct{}, &RejectError{Reason: RejectMissingPrice, RawName: rawName}
	}

	if rec.ID == "" {
		return ParsedProduct{}, &RejectError{Reason: RejectMissingID, RawName: rawName}
	}

	name, color, weight := parts[0], parts[1], parts[2]
	if color == "" || weight == "" {
		return ParsedProduct{}, &RejectError{Reason: RejectMissingDimension, RawName: rawName}
	}

	path := rec.PathName
	if path == "" {
		path = DefaultCategoryPath
	}

	parsed := ParsedProduct{
		GUID:         rec.ID,
		Name:         name,
		Color:        color,
		Weight:       weight,
		CategoryPath: path,
		Price:        price,
		ExternalCode: rec.ExternalCode,
		Description:  rec.Description,
	}
	if rec.Images != nil {
		parsed.ImageHref = rec.Images.Meta.Href
		parsed.ImageCount = rec.Images.Meta.Size
	}
	return parsed, nil
}
