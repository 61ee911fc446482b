package parser

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// JSONLD parses every <script type="application/ld+json"> element of doc.
// Arrays and @graph containers are flattened into their member objects.
// Blocks that fail to parse are skipped.
func JSONLD(doc *goquery.Document) []map[string]any {
	var results []map[string]any

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}

		// Try parsing as single object
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			results = append(results, flattenGraph(data)...)
			return
		}

		// Try parsing as array
		var dataArr []map[string]any
		if err := json.Unmarshal([]byte(raw), &dataArr); err == nil {
			for _, d := range dataArr {
				results = append(results, flattenGraph(d)...)
			}
		}
	})

	return results
}

// FindJSONLD returns the first JSON-LD object accepted by match.
func FindJSONLD(doc *goquery.Document, match func(map[string]any) bool) (map[string]any, bool) {
	for _, obj := range JSONLD(doc) {
		if match(obj) {
			return obj, true
		}
	}
	return nil, false
}

// HasType reports whether a JSON-LD object declares the given @type.
func HasType(obj map[string]any, typ string) bool {
	switch t := obj["@type"].(type) {
	case string:
		return strings.EqualFold(t, typ)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && strings.EqualFold(s, typ) {
				return true
			}
		}
	}
	return false
}

// HasKey reports whether a JSON-LD object carries key.
func HasKey(key string) func(map[string]any) bool {
	return func(obj map[string]any) bool {
		_, ok := obj[key]
		return ok
	}
}

// Remarshal converts a decoded JSON value into a typed struct.
func Remarshal(src any, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func flattenGraph(obj map[string]any) []map[string]any {
	graph, ok := obj["@graph"].([]any)
	if !ok {
		return []map[string]any{obj}
	}
	out := make([]map[string]any, 0, len(graph))
	for _, g := range graph {
		if m, ok := g.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
