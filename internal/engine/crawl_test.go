package engine_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/catalogcrawl/internal/config"
	"github.com/IshaanNene/catalogcrawl/internal/engine"
	"github.com/IshaanNene/catalogcrawl/internal/fetcher"
	"github.com/IshaanNene/catalogcrawl/internal/pipeline"
	"github.com/IshaanNene/catalogcrawl/internal/router"
	"github.com/IshaanNene/catalogcrawl/internal/storage"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const variantJSON = `{"product":{
 "variationAttributes":[
  {"attributeId":"color","values":[
   {"id":"001","displayValue":"Black","images":{"swatch":[{"url":"https://img.example/black.jpg?sw=20"}]}},
   {"id":"002","displayValue":"White","images":{"swatch":[{"url":"https://img.example/white.jpg"}]}}]},
  {"attributeId":"size","values":[{"id":"S","displayValue":"S"},{"id":"M","displayValue":"M"}]}],
 "variants":{"001":{"S":{"available":true},"M":{"available":false}},"002":{"M":{"available":true}}},
 "longDescription":"<p>Details</p><p>Content + Care- 95% Rayon, 5% Spandex- Hand wash</p>"}}`

// catalogServer serves a small storefront: three menu groups with one
// subcategory each, two products per subcategory and two colors per
// product. The variant endpoint of brokenID always answers 500.
func catalogServer(t *testing.T, brokenID int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	html := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		}
	}

	var groups []string
	for i := 1; i <= 3; i++ {
		groups = append(groups, fmt.Sprintf(`<li role="menuitem">
  <a href="/us/shop/catalog/category/f21/group-%[1]d-main">Group %[1]d</a>
  <a href="/us/shop/catalog/category/f21/group-%[1]d-sub">Sub %[1]d</a>
</li>`, i))

		var items []string
		for j := 1; j <= 2; j++ {
			id := 2000000000 + i*10 + j
			path := fmt.Sprintf("/us/shop/item-%d-%d/%d.html", i, j, id)
			items = append(items, fmt.Sprintf(`{"@type":"ListItem","url":"%s%s"}`, srv.URL, path))
			mux.HandleFunc(path, html(fmt.Sprintf(`<html><head>
<script type="application/ld+json">
{"@type":"Product","breadcrumb":[{"name":"Women"},{"name":"Tops"}],
 "image":["https://img.example/%[1]d.jpg?q=1"],"offers":{"priceCurrency":"USD"}}
</script>
<script>dataLayer.push({event: "e_product_detail_loaded", product: {
  id: "%[1]d", brand: "F21", name: "Item %[1]d", originalPrice: "29.99", price: "19.99",
  variants: [{colorName: "Black", sizes: []}, {colorName: "White", sizes: []}]}});</script>
</head><body></body></html>`, id)))
		}

		mux.HandleFunc(fmt.Sprintf("/us/shop/catalog/category/f21/group-%d-sub", i), html(fmt.Sprintf(`<html><head>
<script type="application/ld+json">{"@type":"ItemList","itemListElement":[%s]}</script></head><body>
<span data-search-component="product-search-count">2 Products</span>
</body></html>`, strings.Join(items, ","))))
	}

	mux.HandleFunc("/us/shop", html(`<html><body><ul role="menu">`+strings.Join(groups, "")+`</ul></body></html>`))
	mux.HandleFunc("/variation", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pid") == fmt.Sprint(brokenID) {
			http.Error(w, "upstream timeout", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, variantJSON)
	})
	return srv
}

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestCrawlCatalog(t *testing.T) {
	const brokenID = 2000000022
	srv := catalogServer(t, brokenID)
	outDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Engine.Concurrency = 4
	cfg.Engine.RequestsPerSecond = 0
	cfg.Engine.RequestTimeout = 5 * time.Second
	cfg.Engine.RetryDelay = time.Millisecond
	cfg.Engine.MaxRetryDelay = 5 * time.Millisecond
	cfg.Engine.CheckpointInterval = 0
	cfg.Engine.CheckpointDir = filepath.Join(outDir, "checkpoints")
	cfg.Site.BaseURL = srv.URL
	cfg.Site.VariantEndpoint = srv.URL + "/variation"
	cfg.Storage.OutputPath = outDir
	cfg.Storage.DebugPath = filepath.Join(outDir, "debug.jsonl")
	cfg.Pipeline.Middlewares = []config.MiddlewareConfig{{Name: "trim"}, {Name: "dedup"}}

	eng := engine.New(cfg, testLogger)

	f, err := fetcher.NewHTTPFetcher(cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	eng.SetFetcher(f)

	rt, err := router.New(router.Config{
		BaseURL:         cfg.Site.BaseURL,
		VariantEndpoint: cfg.Site.VariantEndpoint,
		Source:          cfg.Site.Source,
	}, eng.Counter(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	eng.SetHandler(rt)

	pipe, err := pipeline.FromConfig(&cfg.Pipeline, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	eng.SetPipeline(pipe)

	store, err := storage.New(&cfg.Storage, storage.Options{}, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	eng.SetStorage(store)

	debug, err := storage.NewDebugSink(cfg.Storage.DebugPath, false, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	eng.SetFailureSink(debug)

	if _, err := eng.AddSeed(srv.URL+"/us/shop", config.InferLabel(srv.URL+"/us/shop")); err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}
	eng.Wait()

	records := readJSONLines(t, filepath.Join(outDir, "results.jsonl"))
	if len(records) != 10 {
		t.Fatalf("expected 10 records (6 products x 2 colors, one product failing), got %d", len(records))
	}
	seen := make(map[string]bool)
	for _, rec := range records {
		key := fmt.Sprint(rec["itemId"], "|", rec["color"])
		if seen[key] {
			t.Errorf("duplicate record %s", key)
		}
		seen[key] = true
		if rec["itemId"] == fmt.Sprint(brokenID) {
			t.Errorf("record emitted for failed product %v", rec["itemId"])
		}
		if rec["composition"] != "95% Rayon, 5% Spandex" {
			t.Errorf("unexpected composition %v", rec["composition"])
		}
	}

	failures := readJSONLines(t, cfg.Storage.DebugPath)
	if len(failures) != 1 {
		t.Fatalf("expected 1 debug entry, got %d", len(failures))
	}
	dbg, _ := failures[0]["#debug"].(map[string]any)
	if dbg["label"] != string(types.LabelProductVariants) || !strings.Contains(fmt.Sprint(dbg["url"]), fmt.Sprint(brokenID)) {
		t.Errorf("unexpected debug entry: %v", dbg)
	}
	if dbg["retryCount"] != float64(cfg.Engine.MaxRetries) {
		t.Errorf("expected %d retries, got %v", cfg.Engine.MaxRetries, dbg["retryCount"])
	}

	if got := eng.Stats().RecordsStored.Load(); got != 10 {
		t.Errorf("expected 10 stored records in stats, got %d", got)
	}
}

func TestCrawlStopsAtMaxItems(t *testing.T) {
	srv := catalogServer(t, 0)
	outDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Engine.Concurrency = 1
	cfg.Engine.RequestsPerSecond = 0
	cfg.Engine.CheckpointInterval = 0
	cfg.Engine.MaxItems = 2
	cfg.Site.BaseURL = srv.URL
	cfg.Site.VariantEndpoint = srv.URL + "/variation"
	cfg.Storage.OutputPath = outDir

	eng := engine.New(cfg, testLogger)
	f, _ := fetcher.NewHTTPFetcher(cfg, testLogger)
	eng.SetFetcher(f)
	rt, err := router.New(router.Config{BaseURL: srv.URL, VariantEndpoint: cfg.Site.VariantEndpoint}, eng.Counter(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	eng.SetHandler(rt)
	store, _ := storage.New(&cfg.Storage, storage.Options{}, testLogger)
	eng.SetStorage(store)

	eng.AddSeed(srv.URL+"/us/shop", types.LabelHomepage)
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}
	eng.Wait()

	// Records already in flight when the cap is hit are still written, so
	// the crawl may overshoot by at most one variants page.
	n := len(readJSONLines(t, filepath.Join(outDir, "results.jsonl")))
	if n < 2 || n > 4 {
		t.Errorf("expected the crawl to stop near 2 records, got %d", n)
	}
	if eng.GetState() != engine.StateStopped {
		t.Errorf("expected stopped engine, got %s", eng.GetState())
	}
}
