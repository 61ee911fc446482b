package pipeline

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/IshaanNene/catalogcrawl/internal/config"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func sampleRecord(color string) *types.ProductRecord {
	return &types.ProductRecord{
		Source:         "forever21",
		ItemID:         "2000412345",
		URL:            "https://www.forever21.com/us/2000412345.html",
		ScrapedAt:      time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Brand:          "  Forever 21 ",
		Title:          "Ribbed <b>Tank</b> &amp; Top",
		Categories:     []string{"Women", "Tops", "women"},
		Price:          json.Number("12.99"),
		Currency:       "USD",
		Description:    "Details soft knit",
		Composition:    "95% Rayon, 5% Spandex",
		Color:          color,
		Sizes:          []string{" S", "M "},
		AvailableSizes: []string{"S"},
	}
}

func TestPipelineBasic(t *testing.T) {
	p := New(testLogger)
	p.Use(&TrimMiddleware{})

	in := sampleRecord(" Black ")
	out, err := p.Process([]*types.ProductRecord{in})
	if err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if out[0].Brand != "Forever 21" || out[0].Color != "Black" || out[0].Sizes[0] != "S" {
		t.Errorf("expected trimmed fields, got %+v", out[0])
	}
	if in.Brand != "  Forever 21 " || in.Sizes[0] != " S" {
		t.Error("pipeline must not modify the caller's records")
	}
}

func TestHTMLSanitizeMiddleware(t *testing.T) {
	rec, err := NewHTMLSanitizeMiddleware().Process(sampleRecord("Black"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Ribbed Tank & Top" {
		t.Errorf("expected sanitized title, got %q", rec.Title)
	}
}

func TestDedupMiddleware(t *testing.T) {
	p := New(testLogger)
	p.Use(NewDedupMiddleware())

	out, err := p.Process([]*types.ProductRecord{sampleRecord("Black"), sampleRecord("White"), sampleRecord("Black")})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 unique records, got %d", len(out))
	}

	// Duplicates across batches are dropped too.
	out, _ = p.Process([]*types.ProductRecord{sampleRecord("White")})
	if len(out) != 0 {
		t.Errorf("expected duplicate from earlier batch to be dropped, got %d", len(out))
	}
}

func TestRequiredFieldsMiddleware(t *testing.T) {
	m := &RequiredFieldsMiddleware{Fields: []string{"title", "sizes"}}

	if rec, _ := m.Process(sampleRecord("Black")); rec == nil {
		t.Error("record with required fields should pass")
	}

	missing := sampleRecord("Black")
	missing.Sizes = nil
	if rec, _ := m.Process(missing); rec != nil {
		t.Error("record without sizes should be dropped")
	}

	blank := sampleRecord("Black")
	blank.Title = ""
	if rec, _ := m.Process(blank); rec != nil {
		t.Error("record with empty title should be dropped")
	}
}

func TestLowercaseCategoriesMiddleware(t *testing.T) {
	rec, _ := (&LowercaseCategoriesMiddleware{}).Process(sampleRecord("Black"))
	if len(rec.Categories) != 2 || rec.Categories[0] != "women" || rec.Categories[1] != "tops" {
		t.Errorf("unexpected categories: %v", rec.Categories)
	}
}

func TestDefaultValueMiddleware(t *testing.T) {
	m, err := NewDefaultValueMiddleware(map[string]string{"currency": "USD", "composition": "unknown"})
	if err != nil {
		t.Fatal(err)
	}
	rec := sampleRecord("Black")
	rec.Currency = ""
	rec, _ = m.Process(rec)
	if rec.Currency != "USD" || rec.Composition != "95% Rayon, 5% Spandex" {
		t.Errorf("defaults should only fill empty fields: %+v", rec)
	}

	if _, err := NewDefaultValueMiddleware(map[string]string{"sizes": "S"}); err == nil {
		t.Error("expected error for non-string field")
	}
}

func TestFieldFilterTransform(t *testing.T) {
	ft, err := NewFieldFilterTransform([]string{"title", "itemId", "color"})
	if err != nil {
		t.Fatal(err)
	}
	if got := ft.Fields(); len(got) != 3 || got[0] != "itemId" || got[1] != "title" || got[2] != "color" {
		t.Errorf("fields should follow record order, got %v", got)
	}

	out, err := ft.Apply([]*types.ProductRecord{sampleRecord("Black")})
	if err != nil {
		t.Fatal(err)
	}
	rec := out[0]
	if rec.ItemID != "2000412345" || rec.Color != "Black" || rec.Title == "" {
		t.Errorf("kept fields lost: %+v", rec)
	}
	if rec.Brand != "" || rec.Price != "" || rec.Sizes != nil || !rec.ScrapedAt.IsZero() {
		t.Errorf("unlisted fields should be zeroed: %+v", rec)
	}

	if _, err := NewFieldFilterTransform([]string{"nope"}); err == nil {
		t.Error("expected error for unknown field")
	}
}

type failingTransform struct{}

func (failingTransform) Name() string { return "failing" }
func (failingTransform) Apply([]*types.ProductRecord) ([]*types.ProductRecord, error) {
	return nil, errors.New("boom")
}

func TestTransformErrorRejectsBatch(t *testing.T) {
	p := New(testLogger)
	p.UseTransform(failingTransform{})

	_, err := p.Process([]*types.ProductRecord{sampleRecord("Black")})
	var pe *types.PipelineError
	if !errors.As(err, &pe) || pe.Stage != "failing" {
		t.Errorf("expected PipelineError from transform, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := &config.PipelineConfig{
		Middlewares: []config.MiddlewareConfig{
			{Name: "trim"},
			{Name: "html_sanitize"},
			{Name: "dedup"},
			{Name: "required_fields", Options: map[string]any{"fields": []any{"itemId", "color"}}},
			{Name: "lowercase_categories"},
			{Name: "default_values", Options: map[string]any{"currency": "USD"}},
		},
		OutputFields: []string{"itemId", "color", "categories"},
	}

	p, err := FromConfig(cfg, testLogger)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if p.Len() != 6 {
		t.Errorf("expected 6 middlewares, got %d", p.Len())
	}

	out, err := p.Process([]*types.ProductRecord{sampleRecord("Black"), sampleRecord("Black")})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Title != "" || len(out[0].Categories) != 2 {
		t.Errorf("unexpected output: %+v", out)
	}

	if _, err := FromConfig(&config.PipelineConfig{Middlewares: []config.MiddlewareConfig{{Name: "pii_redact"}}}, testLogger); err == nil {
		t.Error("expected error for unknown middleware")
	}
}
