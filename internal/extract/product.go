package extract

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/catalogcrawl/internal/parser"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// DefaultSource is the source name stamped on records.
const DefaultSource = "forever21"

// productSchema is the schema.org Product block of a detail page.
type productSchema struct {
	Breadcrumb breadcrumbs `json:"breadcrumb"`
	Image      stringList  `json:"image"`
	Offers     offers      `json:"offers"`
}

// breadcrumbs accepts either a plain array of {"name": ...} entries or a
// BreadcrumbList object.
type breadcrumbs []string

func (b *breadcrumbs) UnmarshalJSON(data []byte) error {
	type crumb struct {
		Name string `json:"name"`
		Item struct {
			Name string `json:"name"`
		} `json:"item"`
	}
	var list []crumb
	if err := json.Unmarshal(data, &list); err != nil {
		var obj struct {
			ItemListElement []crumb `json:"itemListElement"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		list = obj.ItemListElement
	}
	*b = nil
	for _, c := range list {
		name := c.Name
		if name == "" {
			name = c.Item.Name
		}
		if name = strings.TrimSpace(name); name != "" {
			*b = append(*b, name)
		}
	}
	return nil
}

type offers struct {
	PriceCurrency string
}

func (o *offers) UnmarshalJSON(data []byte) error {
	type offer struct {
		PriceCurrency string `json:"priceCurrency"`
	}
	var one offer
	if err := json.Unmarshal(data, &one); err == nil {
		o.PriceCurrency = one.PriceCurrency
		return nil
	}
	var many []offer
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	for _, m := range many {
		if m.PriceCurrency != "" {
			o.PriceCurrency = m.PriceCurrency
			break
		}
	}
	return nil
}

// productDetail is the product object pushed to the page's data layer.
type productDetail struct {
	ID            flexString `json:"id"`
	Brand         string     `json:"brand"`
	Name          string     `json:"name"`
	OriginalPrice flexPrice  `json:"originalPrice"`
	Price         flexPrice  `json:"price"`
	Variants      []struct {
		ColorName string `json:"colorName"`
		Sizes     []struct {
			SizeName  string   `json:"sizeName"`
			Available flexBool `json:"available"`
		} `json:"sizes"`
	} `json:"variants"`
}

func isProductSchema(obj map[string]any) bool {
	return parser.HasType(obj, "Product") || parser.HasKey("breadcrumb")(obj)
}

// ParseProductPage builds the base product of a detail page from its
// schema.org block and its embedded data layer literal. The data layer
// script is parsed as data only.
func ParseProductPage(doc *goquery.Document, pageURL string, now time.Time) (*types.BaseProduct, error) {
	raw, ok := parser.FindJSONLD(doc, isProductSchema)
	if !ok {
		return nil, types.NewMissingData(pageURL, "product schema", nil)
	}
	var schema productSchema
	if err := parser.Remarshal(raw, &schema); err != nil {
		return nil, types.NewMissingData(pageURL, "product schema", err)
	}

	detail, err := dataLayerProduct(doc)
	if err != nil {
		return nil, types.NewMissingData(pageURL, "product data layer", err)
	}
	if detail.ID == "" {
		return nil, types.NewMissingData(pageURL, "product id", nil)
	}

	title := strings.TrimSpace(detail.Name)
	base := &types.BaseProduct{
		Source:     DefaultSource,
		ItemID:     string(detail.ID),
		URL:        pageURL,
		ScrapedAt:  now.UTC(),
		Brand:      strings.TrimSpace(detail.Brand),
		Title:      title,
		Categories: categories(schema.Breadcrumb, title),
		Price:      json.Number(detail.OriginalPrice),
		SalePrice:  json.Number(detail.Price),
		Currency:   schema.Offers.PriceCurrency,
	}

	if len(detail.Variants) == 1 {
		v := detail.Variants[0]
		variant := &types.VariantData{
			Color:          strings.ToLower(strings.TrimSpace(v.ColorName)),
			Sizes:          []string{},
			AvailableSizes: []string{},
			Images:         []types.Image{},
		}
		for _, s := range v.Sizes {
			variant.Sizes = append(variant.Sizes, s.SizeName)
			if s.Available {
				variant.AvailableSizes = append(variant.AvailableSizes, s.SizeName)
			}
		}
		for _, img := range schema.Image {
			variant.Images = append(variant.Images, types.NewImage(img))
		}
		base.Variant = variant
	}

	return base, nil
}

func dataLayerProduct(doc *goquery.Document) (*productDetail, error) {
	script, ok := parser.ScriptContaining(doc, dataLayerMarker)
	if !ok {
		return nil, errors.New("no script contains " + dataLayerMarker)
	}
	arg, err := parser.CallArgument(script, dataLayerCall)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Product *productDetail `json:"product"`
	}
	if err := parser.DecodeLiteral(arg, &payload); err != nil {
		return nil, err
	}
	if payload.Product == nil {
		return nil, errors.New("data layer has no product")
	}
	return payload.Product, nil
}

// categories lower-cases the breadcrumb trail and drops every entry that
// equals the title, wherever it sits.
func categories(trail []string, title string) []string {
	out := make([]string, 0, len(trail))
	for _, name := range trail {
		if strings.EqualFold(name, title) {
			continue
		}
		out = append(out, strings.ToLower(name))
	}
	return out
}
