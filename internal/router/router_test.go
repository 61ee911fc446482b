package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

const (
	testBase     = "https://www.forever21.com"
	testEndpoint = "https://www.forever21.com/on/demandware.store/Sites-forever21-Site/en_US/Product-Variation"
)

type page struct {
	contentType string
	body        string
}

// fakeSite maps absolute URLs to canned pages: three menu groups, one
// subcategory each, two products per subcategory, two colors per product.
func fakeSite() map[string]page {
	site := make(map[string]page)

	var groups []string
	for i := 1; i <= 3; i++ {
		groups = append(groups, fmt.Sprintf(`<li role="menuitem">
  <a href="/us/shop/catalog/category/f21/group-%[1]d-main">Group %[1]d</a>
  <a href="/us/shop/catalog/category/f21/group-%[1]d-sub">Sub %[1]d</a>
  <a href="/us/shop/lookbook-%[1]d">Lookbook</a>
</li>`, i))

		var products []string
		for j := 1; j <= 2; j++ {
			id := 2000000000 + i*10 + j
			productURL := fmt.Sprintf("%s/us/shop/item-%d-%d/%d.html", testBase, i, j, id)
			products = append(products, productURL)
			site[productURL] = page{"text/html; charset=utf-8", productPage(id, fmt.Sprintf("Item %d-%d", i, j))}
			site[fmt.Sprintf("%s?pid=%d", testEndpoint, id)] = page{"application/json", variantBody}
		}
		site[fmt.Sprintf("%s/us/shop/catalog/category/f21/group-%d-sub", testBase, i)] = page{"text/html", listingPage(2, products...)}
	}

	site[testBase+"/us/shop"] = page{"text/html", `<html><body><ul role="menu">` + strings.Join(groups, "") + `</ul></body></html>`}
	return site
}

func listingPage(count int, urls ...string) string {
	var items []string
	for _, u := range urls {
		items = append(items, `{"@type":"ListItem","url":"`+u+`"}`)
	}
	return fmt.Sprintf(`<html><head><script type="application/ld+json">
{"@type":"ItemList","itemListElement":[%s]}</script></head><body>
<span data-search-component="product-search-count">%d Products</span>
<button aria-label="View Page 2" data-url="?cgid=tops&start=60&sz=60">2</button>
</body></html>`, strings.Join(items, ","), count)
}

func productPage(id int, title string) string {
	return fmt.Sprintf(`<html><head>
<script type="application/ld+json">
{"@type":"Product","breadcrumb":[{"name":"Women"},{"name":"Tops"},{"name":%[2]q}],
 "image":["https://img.example/%[1]d.jpg?q=1"],"offers":{"priceCurrency":"USD"}}
</script>
<script>dataLayer.push({event: "e_product_detail_loaded", product: {
  id: "%[1]d", brand: "F21", name: %[2]q, originalPrice: "29.99", price: "19.99",
  variants: [{colorName: "Black", sizes: []}, {colorName: "White", sizes: []}]}});</script>
</head><body></body></html>`, id, title)
}

const variantBody = `{"product":{
 "variationAttributes":[
  {"attributeId":"color","values":[
   {"id":"001","displayValue":"Black","images":{"swatch":[{"url":"https://img.example/black.jpg?sw=20"}]}},
   {"id":"002","displayValue":"White","images":{"swatch":[{"url":"https://img.example/white.jpg"}]}}]},
  {"attributeId":"size","values":[{"id":"S","displayValue":"S"},{"id":"M","displayValue":"M"}]}],
 "variants":{"001":{"S":{"available":true},"M":{"available":false}},"002":{"M":{"available":true}}},
 "longDescription":"<p>Details</p><p>Content + Care- 95% Rayon, 5% Spandex- Hand wash</p>"}}`

type fakeLimiter struct{ err error }

func (l *fakeLimiter) Check() error { return l.err }

func newTestRouter(t *testing.T, cfg Config, limiter Limiter) *Router {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = testBase
	}
	if cfg.VariantEndpoint == "" {
		cfg.VariantEndpoint = testEndpoint
	}
	r, err := New(cfg, limiter, nil)
	require.NoError(t, err)
	r.Now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r
}

func respond(t *testing.T, site map[string]page, req *types.Request) *types.Response {
	t.Helper()
	p, ok := site[req.URLString()]
	require.True(t, ok, "no page for %s", req.URLString())
	return types.NewStaticResponse(req, p.contentType, []byte(p.body))
}

// crawl drives the router over the fake site breadth first, skipping URLs
// it has already seen.
func crawl(t *testing.T, r *Router, site map[string]page, seeds ...*types.Request) ([]*types.ProductRecord, []*types.Request) {
	t.Helper()
	var (
		queue   = append([]*types.Request(nil), seeds...)
		seen    = make(map[string]bool)
		records []*types.ProductRecord
		handled []*types.Request
	)
	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]
		if seen[req.URLString()] {
			continue
		}
		seen[req.URLString()] = true
		handled = append(handled, req)

		res, err := r.Handle(context.Background(), respond(t, site, req))
		require.NoError(t, err, req.URLString())
		queue = append(queue, res.Requests...)
		records = append(records, res.Records...)
	}
	return records, handled
}

func TestEndToEnd(t *testing.T) {
	r := newTestRouter(t, Config{}, &fakeLimiter{})
	seed, err := types.NewRequest(testBase+"/us/shop", types.LabelHomepage)
	require.NoError(t, err)

	records, handled := crawl(t, r, fakeSite(), seed)

	counts := make(map[types.Label]int)
	for _, req := range handled {
		counts[req.Label]++
	}
	assert.Equal(t, map[types.Label]int{
		types.LabelHomepage:        1,
		types.LabelSubcategory:     3,
		types.LabelProduct:         6,
		types.LabelProductVariants: 6,
	}, counts)

	require.Len(t, records, 12)
	keys := make(map[string]bool)
	for _, rec := range records {
		assert.False(t, keys[rec.Key()], "duplicate record %s", rec.Key())
		keys[rec.Key()] = true

		assert.Equal(t, "forever21", rec.Source)
		assert.Contains(t, rec.URL, rec.ItemID+".html")
		assert.Equal(t, []string{"women", "tops"}, rec.Categories)
		assert.Equal(t, "95% Rayon, 5% Spandex", rec.Composition)
		assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), rec.ScrapedAt)
	}
	assert.True(t, keys["2000000011|black"])
	assert.True(t, keys["2000000032|white"])
}

// TestConcurrentHandle fans each crawl level out over goroutines sharing one
// Router. Run with -race.
func TestConcurrentHandle(t *testing.T) {
	site := fakeSite()
	r := newTestRouter(t, Config{}, &fakeLimiter{})
	seed, err := types.NewRequest(testBase+"/us/shop", types.LabelHomepage)
	require.NoError(t, err)

	want, _ := crawl(t, newTestRouter(t, Config{}, &fakeLimiter{}), site, seed.Clone())

	var (
		mu      sync.Mutex
		records []*types.ProductRecord
		errs    []error
		seen    = map[string]bool{}
		level   = []*types.Request{seed}
	)
	for len(level) > 0 {
		var next []*types.Request
		var wg sync.WaitGroup
		for _, req := range level {
			if seen[req.URLString()] {
				continue
			}
			seen[req.URLString()] = true
			p, ok := site[req.URLString()]
			require.True(t, ok, "no page for %s", req.URLString())

			wg.Add(1)
			go func(resp *types.Response) {
				defer wg.Done()
				res, err := r.Handle(context.Background(), resp)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				next = append(next, res.Requests...)
				records = append(records, res.Records...)
			}(types.NewStaticResponse(req, p.contentType, []byte(p.body)))
		}
		wg.Wait()
		level = next
	}

	require.Empty(t, errs)
	require.Len(t, records, len(want))

	byKey := make(map[string]*types.ProductRecord, len(want))
	for _, rec := range want {
		byKey[rec.Key()] = rec
	}
	for _, rec := range records {
		assert.Equal(t, byKey[rec.Key()], rec, rec.Key())
	}

	// Records of one product share no slices.
	records[0].Categories[0] = "changed"
	for _, rec := range records[1:] {
		assert.NotEqual(t, "changed", rec.Categories[0])
	}
}

func TestProductCarriesPayload(t *testing.T) {
	site := fakeSite()
	r := newTestRouter(t, Config{Source: "f21-test"}, nil)

	productURL := testBase + "/us/shop/item-1-2/2000000012.html"
	req, err := types.NewRequest(productURL, types.LabelProduct)
	require.NoError(t, err)

	res, err := r.Handle(context.Background(), respond(t, site, req))
	require.NoError(t, err)
	require.Len(t, res.Requests, 1)
	assert.Empty(t, res.Records)

	next := res.Requests[0]
	assert.Equal(t, types.LabelProductVariants, next.Label)
	assert.Equal(t, testEndpoint+"?pid=2000000012", next.URLString())
	assert.Equal(t, "XMLHttpRequest", next.Headers.Get("X-Requested-With"))
	assert.Equal(t, "application/json", next.Headers.Get("Accept"))
	assert.Equal(t, productURL, next.ParentURL)

	require.NotNil(t, next.Payload)
	assert.Equal(t, "2000000012", next.Payload.ItemID)
	assert.Equal(t, "f21-test", next.Payload.Source)
	assert.Equal(t, "Item 1-2", next.Payload.Title)

	// A cloned request owns its payload.
	clone := next.Clone()
	clone.Payload.Categories[0] = "men"
	assert.Equal(t, "women", next.Payload.Categories[0])
}

func TestMainCategoryRestricted(t *testing.T) {
	site := fakeSite()
	mainURL := testBase + "/us/shop/catalog/category/f21/group-2-main"
	site[mainURL] = site[testBase+"/us/shop"]

	r := newTestRouter(t, Config{}, nil)
	req, err := types.NewRequest(mainURL, types.LabelMainCategory)
	require.NoError(t, err)

	res, err := r.Handle(context.Background(), respond(t, site, req))
	require.NoError(t, err)
	require.Len(t, res.Requests, 1)
	assert.Equal(t, testBase+"/us/shop/catalog/category/f21/group-2-sub", res.Requests[0].URLString())
	assert.Equal(t, types.LabelSubcategory, res.Requests[0].Label)
}

func TestListingPagination(t *testing.T) {
	listURL := testBase + "/us/shop/catalog/category/f21/tops"
	site := map[string]page{
		listURL:                  {"text/html", listingPage(150, testBase+"/p/1.html", testBase+"/p/2.html")},
		listURL + "?start=60":    {"text/html", listingPage(150, testBase+"/p/3.html")},
	}

	handle := func(cfg Config, rawURL string) *Result {
		r := newTestRouter(t, cfg, nil)
		req, err := types.NewRequest(rawURL, types.LabelSubcategory)
		require.NoError(t, err)
		res, err := r.Handle(context.Background(), respond(t, site, req))
		require.NoError(t, err)
		return res
	}

	res := handle(Config{}, listURL)
	assert.Len(t, res.Requests, 2, "pagination off by default")

	res = handle(Config{FollowPagination: true}, listURL)
	var pages []string
	for _, req := range res.Requests {
		if req.Label == types.LabelSubcategory {
			pages = append(pages, req.URLString())
		}
	}
	assert.Equal(t, []string{
		listURL + "?cgid=tops&start=60&sz=60",
		listURL + "?cgid=tops&start=120&sz=60",
	}, pages)

	res = handle(Config{FollowPagination: true}, listURL+"?start=60")
	assert.Len(t, res.Requests, 1, "only page one fans out")

	res = handle(Config{MaxProductsPerPage: 1}, listURL)
	require.Len(t, res.Requests, 1)
	assert.Equal(t, testBase+"/p/1.html", res.Requests[0].URLString())
}

func TestLimitReached(t *testing.T) {
	r := newTestRouter(t, Config{}, &fakeLimiter{err: &types.LimitReachedError{Limit: 10}})
	req, _ := types.NewRequest(testBase+"/us/shop", types.LabelHomepage)

	res, err := r.Handle(context.Background(), respond(t, fakeSite(), req))
	assert.ErrorIs(t, err, types.ErrLimitReached)
	assert.Nil(t, res)
}

func TestHandleErrors(t *testing.T) {
	r := newTestRouter(t, Config{}, nil)

	req, _ := types.NewRequest(testBase+"/x", "BOGUS")
	_, err := r.Handle(context.Background(), types.NewStaticResponse(req, "text/html", []byte("<html></html>")))
	assert.ErrorIs(t, err, types.ErrUnknownLabel)

	req, _ = types.NewRequest(testEndpoint+"?pid=1", types.LabelProductVariants)
	_, err = r.Handle(context.Background(), types.NewStaticResponse(req, "application/json", []byte(variantBody)))
	assert.ErrorIs(t, err, types.ErrMissingData, "variants without a payload")

	req, _ = types.NewRequest(testEndpoint+"?pid=1", types.LabelProductVariants)
	req.Payload = &types.BaseProduct{ItemID: "1", Title: "Blouse"}
	_, err = r.Handle(context.Background(), types.NewStaticResponse(req, "text/html", []byte(variantBody)))
	assert.ErrorIs(t, err, types.ErrMissingData, "variant data served as HTML")

	_, err = r.Handle(context.Background(), types.NewStaticResponse(req, "application/json; charset=utf-8", []byte(`{"product":`)))
	assert.ErrorIs(t, err, types.ErrMissingData, "truncated variant JSON")

	res, err := r.Handle(context.Background(), types.NewStaticResponse(req, "application/json; charset=utf-8", []byte(variantBody)))
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)

	req, _ = types.NewRequest(testBase+"/us/shop/catalog/category/f21/empty", types.LabelSubcategory)
	_, err = r.Handle(context.Background(), types.NewStaticResponse(req, "text/html", []byte("<html></html>")))
	assert.ErrorIs(t, err, types.ErrMissingData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Handle(ctx, types.NewStaticResponse(req, "text/html", []byte("<html></html>")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{BaseURL: "/relative", VariantEndpoint: testEndpoint}, nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidURL)

	_, err = New(Config{BaseURL: testBase}, nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidURL)
}
