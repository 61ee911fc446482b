package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/IshaanNene/catalogcrawl/internal/parser"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

var productIDRe = regexp.MustCompile(`(\d+)\.html`)

// variationResponse is the body of the variant-data endpoint.
type variationResponse struct {
	Product *struct {
		VariationAttributes []struct {
			AttributeID string `json:"attributeId"`
			Values      []struct {
				ID           flexString `json:"id"`
				DisplayValue string     `json:"displayValue"`
				Images       struct {
					Swatch []struct {
						URL string `json:"url"`
					} `json:"swatch"`
				} `json:"images"`
			} `json:"values"`
		} `json:"variationAttributes"`
		Variants        map[string]map[string]variantAvailability `json:"variants"`
		LongDescription string                                    `json:"longDescription"`
	} `json:"product"`
}

type variantAvailability struct {
	Available flexBool `json:"available"`
}

// variantLookup holds the color and size groups in the order the response
// defines them.
type variantLookup struct {
	colors     map[string]types.ColorVariant
	colorOrder []string
	sizes      map[string]types.SizeOption
	sizeOrder  []string
}

func (r *variationResponse) lookup() *variantLookup {
	l := &variantLookup{
		colors: make(map[string]types.ColorVariant),
		sizes:  make(map[string]types.SizeOption),
	}
	for _, attr := range r.Product.VariationAttributes {
		switch attr.AttributeID {
		case "color":
			for _, v := range attr.Values {
				cv := types.ColorVariant{ColorID: string(v.ID), DisplayName: v.DisplayValue}
				for _, sw := range v.Images.Swatch {
					cv.SwatchImages = append(cv.SwatchImages, types.NewImage(sw.URL))
				}
				if _, dup := l.colors[cv.ColorID]; !dup {
					l.colorOrder = append(l.colorOrder, cv.ColorID)
				}
				l.colors[cv.ColorID] = cv
			}
		case "size":
			for _, v := range attr.Values {
				so := types.SizeOption{SizeID: string(v.ID), DisplayName: v.DisplayValue}
				if _, dup := l.sizes[so.SizeID]; !dup {
					l.sizeOrder = append(l.sizeOrder, so.SizeID)
				}
				l.sizes[so.SizeID] = so
			}
		}
	}
	return l
}

// MergeVariants combines the base product carried from the product page
// with the variant-data response body, producing one record per color.
// Records come out in color group order; sizes follow the size group order.
func MergeVariants(base *types.BaseProduct, body []byte, sourceURL string) ([]*types.ProductRecord, error) {
	if base == nil {
		return nil, types.NewMissingData(sourceURL, "base product payload", nil)
	}

	var resp variationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewMissingData(sourceURL, "variant data", err)
	}
	if resp.Product == nil {
		return nil, types.NewMissingData(sourceURL, "variant data", fmt.Errorf("no product object"))
	}

	lookup := resp.lookup()

	for colorID, sizes := range resp.Product.Variants {
		if _, ok := lookup.colors[colorID]; !ok {
			return nil, &types.InconsistentDataError{URL: sourceURL, Kind: "color", ID: colorID}
		}
		for sizeID := range sizes {
			if _, ok := lookup.sizes[sizeID]; !ok {
				return nil, &types.InconsistentDataError{URL: sourceURL, Kind: "size", ID: sizeID}
			}
		}
	}

	description, err := Description(resp.Product.LongDescription)
	if err != nil {
		return nil, types.NewMissingData(sourceURL, "long description", err)
	}
	composition := Composition(description)

	records := make([]*types.ProductRecord, 0, len(resp.Product.Variants))
	for _, colorID := range lookup.colorOrder {
		sizes, ok := resp.Product.Variants[colorID]
		if !ok {
			continue
		}
		color := lookup.colors[colorID]

		variant := &types.VariantData{
			Color:          strings.ToLower(strings.TrimSpace(color.DisplayName)),
			Sizes:          []string{},
			AvailableSizes: []string{},
			Images:         append([]types.Image{}, color.SwatchImages...),
		}
		for _, sizeID := range lookup.sizeOrder {
			avail, ok := sizes[sizeID]
			if !ok {
				continue
			}
			name := lookup.sizes[sizeID].DisplayName
			variant.Sizes = append(variant.Sizes, name)
			if avail.Available {
				variant.AvailableSizes = append(variant.AvailableSizes, name)
			}
		}

		rec := types.NewRecord(base)
		rec.SetVariant(variant)
		rec.Description = description
		rec.Composition = composition
		records = append(records, rec)
	}

	return records, nil
}

// Description renders the HTML long description as plain text without its
// leading "Details" label.
func Description(longDescription string) (string, error) {
	txt, err := parser.HTMLText(longDescription)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimPrefix(txt, descriptionLabel)), nil
}

// Composition returns the text strictly between the "Content + Care-"
// marker and the next "-". It is empty when either one is missing.
func Composition(description string) string {
	i := strings.Index(description, compositionMarker)
	if i < 0 {
		return ""
	}
	rest := description[i+len(compositionMarker):]
	j := strings.Index(rest, "-")
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}

// ProductID extracts the numeric product id from a product page URL.
func ProductID(productURL string) (string, error) {
	m := productIDRe.FindStringSubmatch(productURL)
	if m == nil {
		return "", types.NewMissingData(productURL, "product id in URL", nil)
	}
	return m[1], nil
}

// VariantDataURL addresses the variant-data endpoint for the product behind
// productURL.
func VariantDataURL(endpoint, productURL string) (string, error) {
	id, err := ProductID(productURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("variant endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("pid", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
