package pipeline

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// textFields returns pointers to the free-text fields of a record.
func textFields(rec *types.ProductRecord) []*string {
	return []*string{&rec.Brand, &rec.Title, &rec.Description, &rec.Composition, &rec.Color}
}

// stringField resolves a settable string field by its JSON name.
func stringField(rec *types.ProductRecord, name string) *string {
	switch name {
	case "source":
		return &rec.Source
	case "brand":
		return &rec.Brand
	case "title":
		return &rec.Title
	case "currency":
		return &rec.Currency
	case "description":
		return &rec.Description
	case "composition":
		return &rec.Composition
	case "color":
		return &rec.Color
	default:
		return nil
	}
}

// TrimMiddleware trims whitespace from text fields and size labels.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(rec *types.ProductRecord) (*types.ProductRecord, error) {
	for _, f := range textFields(rec) {
		*f = strings.TrimSpace(*f)
	}
	for i, s := range rec.Sizes {
		rec.Sizes[i] = strings.TrimSpace(s)
	}
	for i, s := range rec.AvailableSizes {
		rec.AvailableSizes[i] = strings.TrimSpace(s)
	}
	for i, c := range rec.Categories {
		rec.Categories[i] = strings.TrimSpace(c)
	}
	return rec, nil
}

// HTMLSanitizeMiddleware strips leftover markup and entities from text fields.
type HTMLSanitizeMiddleware struct {
	stripRe *regexp.Regexp
}

func NewHTMLSanitizeMiddleware() *HTMLSanitizeMiddleware {
	return &HTMLSanitizeMiddleware{
		stripRe: regexp.MustCompile(`<[^>]*>`),
	}
}

func (m *HTMLSanitizeMiddleware) Name() string { return "html_sanitize" }

func (m *HTMLSanitizeMiddleware) Process(rec *types.ProductRecord) (*types.ProductRecord, error) {
	for _, f := range textFields(rec) {
		if *f == "" {
			continue
		}
		cleaned := m.stripRe.ReplaceAllString(*f, " ")
		cleaned = html.UnescapeString(cleaned)
		*f = strings.Join(strings.Fields(cleaned), " ")
	}
	return rec, nil
}

// DedupMiddleware drops records whose (itemId, color) was already seen in
// this run.
type DedupMiddleware struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupMiddleware() *DedupMiddleware {
	return &DedupMiddleware{seen: make(map[string]struct{})}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(rec *types.ProductRecord) (*types.ProductRecord, error) {
	key := rec.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[key]; exists {
		return nil, nil
	}
	m.seen[key] = struct{}{}
	return rec, nil
}

// RequiredFieldsMiddleware drops records missing any of the named JSON
// fields. Empty strings and empty lists count as missing.
type RequiredFieldsMiddleware struct {
	Fields []string
}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(rec *types.ProductRecord) (*types.ProductRecord, error) {
	if len(m.Fields) == 0 {
		return rec, nil
	}
	values := rec.ToMap()
	for _, field := range m.Fields {
		switch v := values[field].(type) {
		case nil:
			return nil, nil
		case string:
			if v == "" {
				return nil, nil
			}
		case []any:
			if len(v) == 0 {
				return nil, nil
			}
		}
	}
	return rec, nil
}

// LowercaseCategoriesMiddleware lower-cases the breadcrumb trail and drops
// duplicate entries it produces.
type LowercaseCategoriesMiddleware struct{}

func (m *LowercaseCategoriesMiddleware) Name() string { return "lowercase_categories" }

func (m *LowercaseCategoriesMiddleware) Process(rec *types.ProductRecord) (*types.ProductRecord, error) {
	out := rec.Categories[:0]
	for _, c := range rec.Categories {
		c = strings.ToLower(c)
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	rec.Categories = out
	return rec, nil
}

// DefaultValueMiddleware fills empty string fields with fixed values.
type DefaultValueMiddleware struct {
	Defaults map[string]string
}

// NewDefaultValueMiddleware rejects defaults for fields that are not
// settable strings.
func NewDefaultValueMiddleware(defaults map[string]string) (*DefaultValueMiddleware, error) {
	probe := &types.ProductRecord{}
	for name := range defaults {
		if stringField(probe, name) == nil {
			return nil, fmt.Errorf("default_values: %q is not a string field", name)
		}
	}
	return &DefaultValueMiddleware{Defaults: defaults}, nil
}

func (m *DefaultValueMiddleware) Name() string { return "default_values" }

func (m *DefaultValueMiddleware) Process(rec *types.ProductRecord) (*types.ProductRecord, error) {
	for name, val := range m.Defaults {
		if f := stringField(rec, name); f != nil && *f == "" {
			*f = val
		}
	}
	return rec, nil
}

// FieldFilterTransform keeps only the listed JSON fields of each record
// and zeroes the rest.
type FieldFilterTransform struct {
	keep map[string]bool
}

// NewFieldFilterTransform validates fields against types.RecordFields.
func NewFieldFilterTransform(fields []string) (*FieldFilterTransform, error) {
	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !slices.Contains(types.RecordFields, f) {
			return nil, fmt.Errorf("output_fields: unknown field %q", f)
		}
		keep[f] = true
	}
	return &FieldFilterTransform{keep: keep}, nil
}

func (t *FieldFilterTransform) Name() string { return "field_filter" }

// Fields returns the kept fields in record order.
func (t *FieldFilterTransform) Fields() []string {
	out := make([]string, 0, len(t.keep))
	for _, f := range types.RecordFields {
		if t.keep[f] {
			out = append(out, f)
		}
	}
	return out
}

func (t *FieldFilterTransform) Apply(batch []*types.ProductRecord) ([]*types.ProductRecord, error) {
	out := make([]*types.ProductRecord, 0, len(batch))
	for _, rec := range batch {
		values := rec.ToMap()
		for k := range values {
			if !t.keep[k] {
				delete(values, k)
			}
		}
		b, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		filtered := &types.ProductRecord{}
		if err := json.Unmarshal(b, filtered); err != nil {
			return nil, err
		}
		out = append(out, filtered)
	}
	return out, nil
}
