package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// flexBool accepts true/false or their string spellings ("true", "1").
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = flexBool(t)
	case string:
		ok, _ := strconv.ParseBool(strings.TrimSpace(t))
		*f = flexBool(ok)
	case float64:
		*f = t != 0
	default:
		*f = false
	}
	return nil
}

// flexPrice accepts a number or a price string such as "$1,299.00".
type flexPrice json.Number

func (p *flexPrice) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*p = flexPrice(normalizePrice(string(s)))
	return nil
}

func normalizePrice(s string) json.Number {
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return ""
	}
	return json.Number(s)
}

// stringList accepts a single string, an array of strings, or an array of
// {"url": ...} objects.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*l = nil
	switch t := v.(type) {
	case string:
		*l = append(*l, t)
	case []any:
		for _, e := range t {
			switch ev := e.(type) {
			case string:
				*l = append(*l, ev)
			case map[string]any:
				if u, ok := ev["url"].(string); ok {
					*l = append(*l, u)
				} else if u, ok := ev["contentUrl"].(string); ok {
					*l = append(*l, u)
				}
			}
		}
	case map[string]any:
		if u, ok := t["url"].(string); ok {
			*l = append(*l, u)
		}
	}
	return nil
}
