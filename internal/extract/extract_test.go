package extract

import (
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

const baseURL = "https://www.forever21.com/us/shop"

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

const menuHTML = `<html><body>
<ul role="menu">
  <li role="menuitem"><a href="/us/shop/catalog/category/f21/women-main">Women</a>
    <a href="/us/shop/catalog/category/f21/women_main">All</a>
    <a href="/us/shop/catalog/category/f21/women-tops">Tops</a>
    <a href="/us/shop/catalog/category/f21/women-dresses">Dresses</a>
    <a href="/us/shop/lookbook">Lookbook</a>
  </li>
  <li role="menuitem"><a href="/us/shop/catalog/category/21men/mens-main">Men</a>
    <a href="/us/shop/catalog/category/21men/mens-tops">Tops</a>
  </li>
</ul>
</body></html>`

func TestFilterCategoryHrefs(t *testing.T) {
	got := FilterCategoryHrefs([]string{"/catalog/category/a-main", "/catalog/category/b", "/other/x"})
	assert.Equal(t, []string{"/catalog/category/b"}, got)
}

func TestDiscoverSubcategories(t *testing.T) {
	base, _ := url.Parse(baseURL)
	doc := mustDoc(t, menuHTML)

	t.Run("all groups", func(t *testing.T) {
		got := DiscoverSubcategories(doc, SubcategoryOptions{BaseURL: base})
		assert.Equal(t, []string{
			"https://www.forever21.com/us/shop/catalog/category/f21/women-tops",
			"https://www.forever21.com/us/shop/catalog/category/f21/women-dresses",
			"https://www.forever21.com/us/shop/catalog/category/21men/mens-tops",
		}, got)
	})

	t.Run("first per group", func(t *testing.T) {
		got := DiscoverSubcategories(doc, SubcategoryOptions{BaseURL: base, MaxPerGroup: 1})
		assert.Len(t, got, 2)
	})

	t.Run("restricted to category", func(t *testing.T) {
		got := DiscoverSubcategories(doc, SubcategoryOptions{
			BaseURL:  base,
			Category: "/us/shop/catalog/category/21men/mens-main",
		})
		assert.Equal(t, []string{"https://www.forever21.com/us/shop/catalog/category/21men/mens-tops"}, got)
	})

	t.Run("empty menu", func(t *testing.T) {
		got := DiscoverSubcategories(mustDoc(t, "<html></html>"), SubcategoryOptions{BaseURL: base})
		assert.Empty(t, got)
	})
}

func listingHTML(count string, urls ...string) string {
	var items []string
	for _, u := range urls {
		items = append(items, `{"@type":"ListItem","url":"`+u+`"}`)
	}
	return `<html><head><script type="application/ld+json">
{"@context":"https://schema.org","@type":"ItemList","itemListElement":[` + strings.Join(items, ",") + `]}
</script></head><body>
<span data-search-component="product-search-count">` + count + `</span>
<button aria-label="View Page 2" data-url="/us/shop/catalog/category/21men/mens-tops?cgid=mens_tops&start=60&sz=60">2</button>
</body></html>`
}

func TestParseListing(t *testing.T) {
	doc := mustDoc(t, listingHTML(" 121 Products ", "https://x/p/1.html", "https://x/p/2.html"))

	page, err := ParseListing(doc, "https://x/c")
	require.NoError(t, err)
	assert.Equal(t, 121, page.TotalRecords)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, []string{"https://x/p/1.html", "https://x/p/2.html"}, page.ProductURLs)
}

func TestParseListingMissingData(t *testing.T) {
	_, err := ParseListing(mustDoc(t, listingHTML("no count")), "https://x/c")
	assert.ErrorIs(t, err, types.ErrMissingData)

	_, err = ParseListing(mustDoc(t, `<span data-search-component="product-search-count">5 Products</span>`), "https://x/c")
	assert.ErrorIs(t, err, types.ErrMissingData)

	var mde *types.MissingDataError
	require.True(t, errors.As(err, &mde))
	assert.Equal(t, "item list", mde.What)
}

func TestTotalPages(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 59: 1, 60: 1, 61: 2, 120: 2, 121: 3, 600: 10}
	for records, want := range cases {
		assert.Equal(t, want, types.TotalPagesFor(records), "records=%d", records)
	}
}

func TestNextPageURL(t *testing.T) {
	doc := mustDoc(t, listingHTML("1 Products"))
	got, err := NextPageURL(doc, "https://www.forever21.com/us/shop/catalog/category/21men/mens-tops")
	require.NoError(t, err)
	assert.Equal(t, "https://www.forever21.com/us/shop/catalog/category/21men/mens-tops?cgid=mens_tops&start=60&sz=60", got)

	_, err = NextPageURL(mustDoc(t, "<html></html>"), "https://x/c")
	assert.ErrorIs(t, err, types.ErrMissingData)
}

func TestPageURLs(t *testing.T) {
	for _, startAt := range []int{0, 60, 7} {
		next := "https://x/c?cgid=tops&sz=60"
		if startAt > 0 {
			next += "&start=" + strconv.Itoa(startAt)
		}

		for totalPages := 0; totalPages <= 6; totalPages++ {
			urls, err := PageURLs(next, totalPages)
			require.NoError(t, err)

			want := totalPages - 1
			if want < 0 {
				want = 0
			}
			require.Len(t, urls, want)

			seen := make(map[string]bool)
			for i, raw := range urls {
				assert.False(t, seen[raw], "duplicate %s", raw)
				seen[raw] = true

				u, err := url.Parse(raw)
				require.NoError(t, err)
				q := u.Query()
				assert.Equal(t, strconv.Itoa(startAt+i*60), q.Get("start"))
				assert.Equal(t, "60", q.Get("sz"))
				assert.Equal(t, "tops", q.Get("cgid"))
			}
		}
	}
}

func TestPageURLsKeepQueryOrder(t *testing.T) {
	next := "https://www.forever21.com/us/shop/catalog/category/21men/mens-tops?cgid=mens_tops&start=60&sz=60&prefn1=color&prefv1=Black%7CWhite"
	urls, err := PageURLs(next, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{
		next,
		"https://www.forever21.com/us/shop/catalog/category/21men/mens-tops?cgid=mens_tops&start=120&sz=60&prefn1=color&prefv1=Black%7CWhite",
		"https://www.forever21.com/us/shop/catalog/category/21men/mens-tops?cgid=mens_tops&start=180&sz=60&prefn1=color&prefv1=Black%7CWhite",
	}, urls)

	urls, err = PageURLs("https://x/c?sz=60&cgid=tops", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://x/c?sz=60&cgid=tops&start=0",
		"https://x/c?sz=60&cgid=tops&start=60",
	}, urls)
}

func TestPageURLsBadSize(t *testing.T) {
	_, err := PageURLs("https://x/c?start=60", 3)
	assert.ErrorIs(t, err, types.ErrMissingData)
}

func TestIsFirstPage(t *testing.T) {
	for raw, want := range map[string]bool{
		"https://x/c":                 true,
		"https://x/c?start=0&sz=60":   true,
		"https://x/c?start=60&sz=60":  false,
		"https://x/c?cgid=a&start=x": false,
	} {
		u, _ := url.Parse(raw)
		assert.Equal(t, want, IsFirstPage(u), raw)
	}
}

func productHTML(variants string) string {
	return `<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Product","name":"Blouse",
 "breadcrumb":[{"name":"Women"},{"name":"Tops"},{"name":"Blouse"}],
 "image":["https://img.example/1.jpg?w=100","https://img.example/2.jpg"],
 "offers":{"@type":"Offer","priceCurrency":"USD"}}
</script>
<script>
  window.dataLayer = window.dataLayer || [];
  dataLayer.push({
    event: 'e_product_detail_loaded',
    product: {
      id: '2000123456',
      brand: 'F21',
      name: 'Blouse',
      originalPrice: '$24.99',
      price: 19.99,
      variants: ` + variants + `
    }
  });
</script></head><body></body></html>`
}

func TestParseProductPage(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := mustDoc(t, productHTML(`[{colorName: 'Red', sizes: []}, {colorName: 'Blue', sizes: []}]`))

	base, err := ParseProductPage(doc, "https://x/p/blouse/2000123456.html", now)
	require.NoError(t, err)

	assert.Equal(t, "forever21", base.Source)
	assert.Equal(t, "2000123456", base.ItemID)
	assert.Equal(t, "F21", base.Brand)
	assert.Equal(t, "Blouse", base.Title)
	assert.Equal(t, []string{"women", "tops"}, base.Categories)
	assert.Equal(t, json.Number("24.99"), base.Price)
	assert.Equal(t, json.Number("19.99"), base.SalePrice)
	assert.Equal(t, "USD", base.Currency)
	assert.Equal(t, now, base.ScrapedAt)
	assert.Nil(t, base.Variant, "multi-color products get variant data later")
}

func TestParseProductPageSingleVariant(t *testing.T) {
	doc := mustDoc(t, productHTML(`[{colorName: 'Navy', sizes: [
		{sizeName: 'S', available: 'true'},
		{sizeName: 'M', available: 'false'},
		{sizeName: 'L', available: true}]}]`))

	base, err := ParseProductPage(doc, "https://x/p/2000123456.html", time.Now())
	require.NoError(t, err)
	require.NotNil(t, base.Variant)

	assert.Equal(t, "navy", base.Variant.Color)
	assert.Equal(t, []string{"S", "M", "L"}, base.Variant.Sizes)
	assert.Equal(t, []string{"S", "L"}, base.Variant.AvailableSizes)
	assert.Equal(t, []types.Image{
		{URL: "https://img.example/1.jpg"},
		{URL: "https://img.example/2.jpg"},
	}, base.Variant.Images)
}

func TestCategoriesExcludeTitleByValue(t *testing.T) {
	assert.Equal(t, []string{"women", "tops"}, categories([]string{"Women", "Tops", "Blouse"}, "Blouse"))
	assert.Equal(t, []string{"women", "tops"}, categories([]string{"Women", "BLOUSE", "Tops"}, "blouse"))
}

func TestParseProductPageMissingData(t *testing.T) {
	noScript := `<script type="application/ld+json">{"@type":"Product","breadcrumb":[]}</script>`
	_, err := ParseProductPage(mustDoc(t, noScript), "https://x/p/1.html", time.Now())
	assert.ErrorIs(t, err, types.ErrMissingData)

	_, err = ParseProductPage(mustDoc(t, "<html></html>"), "https://x/p/1.html", time.Now())
	assert.ErrorIs(t, err, types.ErrMissingData)

	// Code in place of data is rejected, not run.
	evil := strings.Replace(productHTML(`[]`), "id: '2000123456'", "id: alert(1)", 1)
	_, err = ParseProductPage(mustDoc(t, evil), "https://x/p/1.html", time.Now())
	assert.ErrorIs(t, err, types.ErrMissingData)
}

const variantJSON = `{"product":{
 "variationAttributes":[
  {"attributeId":"color","values":[
    {"id":"RED","displayValue":"Red","images":{"swatch":[{"url":"https://img.example/red.jpg?sw=30"}]}},
    {"id":"BLU","displayValue":"Blue","images":{"swatch":[{"url":"https://img.example/blue.jpg"}]}}]},
  {"attributeId":"size","values":[
    {"id":"S","displayValue":"Small"},
    {"id":"M","displayValue":"Medium"},
    {"id":"L","displayValue":"Large"}]}],
 "variants":{
   "BLU":{"L":{"available":true},"S":{"available":false}},
   "RED":{"M":{"available":true},"S":{"available":true},"L":{"available":false}}},
 "longDescription":"<p>Details</p><p>Content + Care- 100% Cotton- Machine wash</p>"
}}`

func testBase() *types.BaseProduct {
	return &types.BaseProduct{
		Source:     "forever21",
		ItemID:     "2000123456",
		URL:        "https://x/p/2000123456.html",
		ScrapedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Brand:      "F21",
		Title:      "Blouse",
		Categories: []string{"women", "tops"},
		Price:      "24.99",
		SalePrice:  "19.99",
		Currency:   "USD",
	}
}

func TestMergeVariants(t *testing.T) {
	base := testBase()
	records, err := MergeVariants(base, []byte(variantJSON), "https://x/v")
	require.NoError(t, err)
	require.Len(t, records, 2)

	red, blue := records[0], records[1]
	assert.Equal(t, "red", red.Color)
	assert.Equal(t, []string{"Small", "Medium", "Large"}, red.Sizes)
	assert.Equal(t, []string{"Small", "Medium"}, red.AvailableSizes)
	assert.Equal(t, []types.Image{{URL: "https://img.example/red.jpg"}}, red.Images)

	assert.Equal(t, "blue", blue.Color)
	assert.Equal(t, []string{"Small", "Large"}, blue.Sizes)
	assert.Equal(t, []string{"Large"}, blue.AvailableSizes)

	for _, r := range records {
		assert.Equal(t, base.ItemID, r.ItemID)
		assert.Equal(t, base.Title, r.Title)
		assert.Equal(t, base.Price, r.Price)
		assert.Equal(t, base.ScrapedAt, r.ScrapedAt)
		assert.Equal(t, "Content + Care- 100% Cotton- Machine wash", r.Description)
		assert.Equal(t, "100% Cotton", r.Composition)
	}

	// Records do not share memory with each other or with the base.
	red.Categories[0] = "changed"
	assert.Equal(t, "women", blue.Categories[0])
	assert.Equal(t, "women", base.Categories[0])
}

func TestMergeVariantsIdempotent(t *testing.T) {
	first, err := MergeVariants(testBase(), []byte(variantJSON), "https://x/v")
	require.NoError(t, err)
	second, err := MergeVariants(testBase(), []byte(variantJSON), "https://x/v")
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, string(a), string(b))
}

func TestMergeVariantsInconsistent(t *testing.T) {
	body := strings.Replace(variantJSON, `"BLU":{"L"`, `"GRN":{"L"`, 1)
	_, err := MergeVariants(testBase(), []byte(body), "https://x/v")
	assert.ErrorIs(t, err, types.ErrInconsistentData)
	assert.ErrorIs(t, err, types.ErrMissingData)

	body = strings.Replace(variantJSON, `"M":{"available":true}`, `"XL":{"available":true}`, 1)
	_, err = MergeVariants(testBase(), []byte(body), "https://x/v")
	var ide *types.InconsistentDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, "size", ide.Kind)
	assert.Equal(t, "XL", ide.ID)
}

func TestMergeVariantsMissing(t *testing.T) {
	_, err := MergeVariants(nil, []byte(variantJSON), "https://x/v")
	assert.ErrorIs(t, err, types.ErrMissingData)

	_, err = MergeVariants(testBase(), []byte(`{}`), "https://x/v")
	assert.ErrorIs(t, err, types.ErrMissingData)

	_, err = MergeVariants(testBase(), []byte(`not json`), "https://x/v")
	assert.ErrorIs(t, err, types.ErrMissingData)
}

func TestComposition(t *testing.T) {
	assert.Equal(t, "100% Cotton", Composition("Details Content + Care- 100% Cotton-Imported"))
	assert.Equal(t, "", Composition("Details Soft knit"))
	assert.Equal(t, "", Composition("Content + Care- Polyester"))

	desc, err := Description("<div>Details<br>Content + Care- 100% Cotton-Imported</div>")
	require.NoError(t, err)
	assert.Equal(t, "Content + Care- 100% Cotton-Imported", desc)

	desc, err = Description("<p>Details</p><p><strong>Content + Care</strong>- 100% Cotton- Machine wash cold</p>")
	require.NoError(t, err)
	assert.Equal(t, "Content + Care- 100% Cotton- Machine wash cold", desc)
	assert.Equal(t, "100% Cotton", Composition(desc))

	desc, err = Description("<div>Details<span>Soft kn</span>it top</div>")
	require.NoError(t, err)
	assert.Equal(t, "Soft knit top", desc)
}

func TestVariantDataURL(t *testing.T) {
	endpoint := "https://www.forever21.com/on/demandware.store/Sites-forever21-Site/en_US/Product-Variation"
	got, err := VariantDataURL(endpoint, "https://www.forever21.com/us/shop/blouse/2000123456.html?dwvar=1")
	require.NoError(t, err)
	assert.Equal(t, endpoint+"?pid=2000123456", got)

	_, err = VariantDataURL(endpoint, "https://www.forever21.com/us/shop/blouse")
	assert.ErrorIs(t, err, types.ErrMissingData)
}
