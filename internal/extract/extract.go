// Package extract turns fetched catalog pages into crawl requests and
// product records. Every function here is a pure transformation over one
// already-fetched document: nothing blocks, nothing is shared between calls.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Site-contract selectors and markers.
const (
	menuGroupSelector    = `ul[role="menu"] > li[role="menuitem"]`
	productCountSelector = `span[data-search-component="product-search-count"]`
	nextPageSelector     = `button[aria-label="View Page 2"]`
	dataLayerMarker      = "e_product_detail_loaded"
	dataLayerCall        = "dataLayer.push"
	compositionMarker    = "Content + Care-"
	descriptionLabel     = "Details"
	catalogPathSegment   = "catalog/category/"
)

func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Text())
}
