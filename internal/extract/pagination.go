package extract

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/catalogcrawl/internal/parser"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

var productCountRe = regexp.MustCompile(`(\d[\d,]*)\s+Products`)

type itemList struct {
	ItemListElement []struct {
		URL string `json:"url"`
	} `json:"itemListElement"`
}

// ParseListing reads the product count and the structured item list of a
// subcategory listing page.
func ParseListing(doc *goquery.Document, pageURL string) (*types.ListingPage, error) {
	total, err := productCount(doc)
	if err != nil {
		return nil, types.NewMissingData(pageURL, "product count", err)
	}

	raw, ok := parser.FindJSONLD(doc, parser.HasKey("itemListElement"))
	if !ok {
		return nil, types.NewMissingData(pageURL, "item list", nil)
	}
	var list itemList
	if err := parser.Remarshal(raw, &list); err != nil {
		return nil, types.NewMissingData(pageURL, "item list", err)
	}

	page := &types.ListingPage{
		TotalRecords: total,
		TotalPages:   types.TotalPagesFor(total),
	}
	for _, el := range list.ItemListElement {
		if u := strings.TrimSpace(el.URL); u != "" {
			page.ProductURLs = append(page.ProductURLs, u)
		}
	}
	return page, nil
}

func productCount(doc *goquery.Document) (int, error) {
	m := productCountRe.FindStringSubmatch(text(doc.Find(productCountSelector)))
	if m == nil {
		m = productCountRe.FindStringSubmatch(doc.Find("body").Text())
	}
	if m == nil {
		return 0, errors.New(`no "<N> Products" text`)
	}
	return strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
}

// NextPageURL returns the absolute URL of the second listing page, taken
// from the pager control of doc.
func NextPageURL(doc *goquery.Document, pageURL string) (string, error) {
	href, ok := doc.Find(nextPageSelector).First().Attr("data-url")
	if !ok || strings.TrimSpace(href) == "" {
		return "", types.NewMissingData(pageURL, "next page control", nil)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", types.NewMissingData(pageURL, "next page control", err)
	}
	return resolve(base, href)
}

// PageURLs derives the URLs of listing pages 2..totalPages from the URL of
// page 2. Each URL differs from the previous one only in its start
// parameter, advanced by sz. The starting offset is read from nextPageURL
// as-is; a missing start counts as zero.
func PageURLs(nextPageURL string, totalPages int) ([]string, error) {
	if totalPages <= 1 {
		return nil, nil
	}

	u, err := url.Parse(nextPageURL)
	if err != nil {
		return nil, types.NewMissingData(nextPageURL, "next page URL", err)
	}
	q := u.Query()

	sz, err := strconv.Atoi(q.Get("sz"))
	if err != nil || sz <= 0 {
		return nil, types.NewMissingData(nextPageURL, "page size parameter", fmt.Errorf("sz=%q", q.Get("sz")))
	}
	start := 0
	if s := q.Get("start"); s != "" {
		if start, err = strconv.Atoi(s); err != nil {
			return nil, types.NewMissingData(nextPageURL, "start parameter", err)
		}
	}

	urls := make([]string, 0, totalPages-1)
	for i := 2; i <= totalPages; i++ {
		u.RawQuery = withStart(u.RawQuery, start)
		urls = append(urls, u.String())
		start += sz
	}
	return urls, nil
}

// withStart sets the start parameter of rawQuery in place, leaving every
// other parameter untouched and in order. A missing start is appended.
func withStart(rawQuery string, start int) string {
	pair := "start=" + strconv.Itoa(start)
	params := strings.Split(rawQuery, "&")
	found := false
	for i, p := range params {
		key, _, _ := strings.Cut(p, "=")
		if key == "start" {
			params[i] = pair
			found = true
		}
	}
	if !found {
		if rawQuery == "" {
			return pair
		}
		params = append(params, pair)
	}
	return strings.Join(params, "&")
}

// IsFirstPage reports whether u addresses the first page of a listing.
func IsFirstPage(u *url.URL) bool {
	start := u.Query().Get("start")
	if start == "" {
		return true
	}
	n, err := strconv.Atoi(start)
	return err == nil && n == 0
}
