package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

var mainCategoryRe = regexp.MustCompile(`-main|_main`)

// SubcategoryOptions controls DiscoverSubcategories.
type SubcategoryOptions struct {
	// BaseURL resolves relative menu hrefs.
	BaseURL *url.URL

	// Category, when set, keeps only the menu group whose first link
	// points at this href (a MAINCAT page restricted to itself).
	Category string

	// MaxPerGroup caps how many subcategories are taken from each menu
	// group. Zero means all of them.
	MaxPerGroup int
}

// MenuEntries reads the category menu groups of doc in document order.
func MenuEntries(doc *goquery.Document) []types.CategoryMenuEntry {
	var entries []types.CategoryMenuEntry

	doc.Find(menuGroupSelector).Each(func(i int, li *goquery.Selection) {
		entry := types.CategoryMenuEntry{
			CategoryHref: li.Children().First().AttrOr("href", ""),
		}
		li.Find("a").Each(func(j int, a *goquery.Selection) {
			if href, ok := a.Attr("href"); ok {
				entry.SubcategoryHrefs = append(entry.SubcategoryHrefs, href)
			}
		})
		entries = append(entries, entry)
	})

	return entries
}

// FilterCategoryHrefs drops main-category links and anything outside the
// catalog category tree, keeping order.
func FilterCategoryHrefs(hrefs []string) []string {
	var kept []string
	for _, href := range hrefs {
		if mainCategoryRe.MatchString(href) {
			continue
		}
		if !strings.Contains(href, catalogPathSegment) {
			continue
		}
		kept = append(kept, href)
	}
	return kept
}

// DiscoverSubcategories returns absolute subcategory URLs found in the
// category menu of doc. An empty menu yields no URLs.
func DiscoverSubcategories(doc *goquery.Document, opts SubcategoryOptions) []string {
	var urls []string

	for _, entry := range MenuEntries(doc) {
		if opts.Category != "" && entry.CategoryHref != opts.Category {
			continue
		}

		hrefs := FilterCategoryHrefs(entry.SubcategoryHrefs)
		if opts.MaxPerGroup > 0 && len(hrefs) > opts.MaxPerGroup {
			hrefs = hrefs[:opts.MaxPerGroup]
		}

		for _, href := range hrefs {
			abs, err := resolve(opts.BaseURL, href)
			if err != nil {
				continue
			}
			urls = append(urls, abs)
		}
	}

	return urls
}
