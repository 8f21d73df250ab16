// Package catalog holds the local product catalog domain: parsing of
// upstream records and reconciliation of categories, variant dimensions and
// priced variants into the local store.
package catalog

// Category is a hierarchy node. (Name, ParentID) pairs are unique.
type Category struct {
	ID       int64
	Name     string
	ParentID *int64
}

// Product is the logical catalog entry. It owns no variant directly; priced
// variants attach through an association table. A product is public exactly
// while it has at least one attached variant.
type Product struct {
	ID         int64
	Title      string
	CategoryID int64
	Public     bool
	ImagePath  string
}

// Color is a variant dimension shared across variants.
type Color struct {
	ID   int64
	Name string
}

// Weight is a variant dimension shared across variants.
type Weight struct {
	ID   int64
	Mass string
}

// PriceVariant is one (color, weight) combination of a product. GUID is the
// upstream identifier, unique and immutable after creation.
type PriceVariant struct {
	ID           int64
	GUID         string
	ColorID      int64
	WeightID     int64
	Amount       float64
	Stock        int
	ExternalCode string
	Description  string
}
