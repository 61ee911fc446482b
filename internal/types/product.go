package types

import (
	"encoding/json"
	"strings"
	"time"
)

// PageSize is the number of products the site lists per listing page.
const PageSize = 60

// Image is a product or swatch image reference.
type Image struct {
	URL string `json:"url" bson:"url"`
}

// StripQuery drops the query string (and fragment) from an image URL.
func StripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// NewImage builds an Image with the query string removed.
func NewImage(rawURL string) Image {
	return Image{URL: StripQuery(strings.TrimSpace(rawURL))}
}

// CategoryMenuEntry is one top-level group of the category menu.
type CategoryMenuEntry struct {
	CategoryHref     string
	SubcategoryHrefs []string
}

// ListingPage is what a subcategory listing page tells us.
type ListingPage struct {
	ProductURLs  []string
	TotalRecords int
	TotalPages   int
}

// TotalPagesFor returns ceil(totalRecords / PageSize).
func TotalPagesFor(totalRecords int) int {
	if totalRecords <= 0 {
		return 0
	}
	return (totalRecords + PageSize - 1) / PageSize
}

// ColorVariant is one color entry from the variant data color group.
type ColorVariant struct {
	ColorID      string
	DisplayName  string
	SwatchImages []Image
}

// SizeOption is one size entry from the variant data size group.
type SizeOption struct {
	SizeID      string
	DisplayName string
}

// VariantData holds the per-color fields of a record.
type VariantData struct {
	Color          string   `json:"color" bson:"color"`
	Sizes          []string `json:"sizes" bson:"sizes"`
	AvailableSizes []string `json:"availableSizes" bson:"availableSizes"`
	Images         []Image  `json:"images" bson:"images"`
}

// Clone returns a deep copy.
func (v *VariantData) Clone() *VariantData {
	if v == nil {
		return nil
	}
	return &VariantData{
		Color:          v.Color,
		Sizes:          cloneStrings(v.Sizes),
		AvailableSizes: cloneStrings(v.AvailableSizes),
		Images:         append([]Image(nil), v.Images...),
	}
}

// BaseProduct is built from a product detail page. Variant is only set
// when the page itself describes exactly one color.
type BaseProduct struct {
	Source     string      `json:"source"`
	ItemID     string      `json:"itemId"`
	URL        string      `json:"url"`
	ScrapedAt  time.Time   `json:"scrapedAt"`
	Brand      string      `json:"brand"`
	Title      string      `json:"title"`
	Categories []string    `json:"categories"`
	Price      json.Number `json:"price,omitempty"`
	SalePrice  json.Number `json:"salePrice,omitempty"`
	Currency   string      `json:"currency"`

	Variant *VariantData `json:"variant,omitempty"`
}

// Clone returns a deep copy. Clone on a nil product returns nil.
func (p *BaseProduct) Clone() *BaseProduct {
	if p == nil {
		return nil
	}
	c := *p
	c.Categories = cloneStrings(p.Categories)
	c.Variant = p.Variant.Clone()
	return &c
}

// ProductRecord is the unit written to the output sink: one per color.
type ProductRecord struct {
	Source         string      `json:"source" bson:"source"`
	ItemID         string      `json:"itemId" bson:"itemId"`
	URL            string      `json:"url" bson:"url"`
	ScrapedAt      time.Time   `json:"scrapedAt" bson:"scrapedAt"`
	Brand          string      `json:"brand" bson:"brand"`
	Title          string      `json:"title" bson:"title"`
	Categories     []string    `json:"categories" bson:"categories"`
	Price          json.Number `json:"price,omitempty" bson:"price,omitempty"`
	SalePrice      json.Number `json:"salePrice,omitempty" bson:"salePrice,omitempty"`
	Currency       string      `json:"currency" bson:"currency"`
	Description    string      `json:"description" bson:"description"`
	Composition    string      `json:"composition" bson:"composition"`
	Color          string      `json:"color" bson:"color"`
	Sizes          []string    `json:"sizes" bson:"sizes"`
	AvailableSizes []string    `json:"availableSizes" bson:"availableSizes"`
	Images         []Image     `json:"images" bson:"images"`
}

// RecordFields lists the JSON field names of a ProductRecord in output
// order. CSV columns follow it.
var RecordFields = []string{
	"source", "itemId", "url", "scrapedAt", "brand", "title", "categories",
	"price", "salePrice", "currency", "description", "composition",
	"color", "sizes", "availableSizes", "images",
}

// NewRecord copies the base product fields into a fresh record.
func NewRecord(base *BaseProduct) *ProductRecord {
	r := &ProductRecord{
		Source:     base.Source,
		ItemID:     base.ItemID,
		URL:        base.URL,
		ScrapedAt:  base.ScrapedAt,
		Brand:      base.Brand,
		Title:      base.Title,
		Categories: cloneStrings(base.Categories),
		Price:      base.Price,
		SalePrice:  base.SalePrice,
		Currency:   base.Currency,
	}
	if v := base.Variant; v != nil {
		r.SetVariant(v.Clone())
	}
	return r
}

// SetVariant overwrites the per-color fields.
func (r *ProductRecord) SetVariant(v *VariantData) {
	r.Color = v.Color
	r.Sizes = v.Sizes
	r.AvailableSizes = v.AvailableSizes
	r.Images = v.Images
}

// Key identifies a record within a crawl: item id plus color.
func (r *ProductRecord) Key() string {
	return r.ItemID + "|" + r.Color
}

// Clone creates a deep copy of the record.
func (r *ProductRecord) Clone() *ProductRecord {
	c := *r
	c.Categories = cloneStrings(r.Categories)
	c.Sizes = cloneStrings(r.Sizes)
	c.AvailableSizes = cloneStrings(r.AvailableSizes)
	c.Images = append([]Image(nil), r.Images...)
	return &c
}

// ToMap returns the record as a generic map keyed by its JSON field names.
func (r *ProductRecord) ToMap() map[string]any {
	b, _ := json.Marshal(r)
	m := make(map[string]any)
	_ = json.Unmarshal(b, &m)
	return m
}

// ToFlatMap returns a flat map suitable for CSV export.
func (r *ProductRecord) ToFlatMap() map[string]string {
	flat := make(map[string]string, 16)
	for k, v := range r.ToMap() {
		switch val := v.(type) {
		case string:
			flat[k] = val
		default:
			b, _ := json.Marshal(val)
			flat[k] = string(b)
		}
	}
	return flat
}

// FailedRequest is written to the debug sink when a request fails for good.
type FailedRequest struct {
	URL        string    `json:"url"`
	Label      Label     `json:"label"`
	Method     string    `json:"method"`
	RetryCount int       `json:"retryCount"`
	Errors     []string  `json:"errorMessages"`
	FailedAt   time.Time `json:"failedAt"`
}

// NewFailedRequest captures the debug info of req.
func NewFailedRequest(req *Request) *FailedRequest {
	return &FailedRequest{
		URL:        req.URLString(),
		Label:      req.Label,
		Method:     req.Method,
		RetryCount: req.RetryCount,
		Errors:     cloneStrings(req.Errors),
		FailedAt:   time.Now(),
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
