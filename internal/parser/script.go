package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoCall is returned when a script does not contain the requested call.
var ErrNoCall = errors.New("call not found in script")

// ScriptContaining returns the text of the first inline <script> whose
// content contains marker, and false when none does.
func ScriptContaining(doc *goquery.Document, marker string) (string, bool) {
	var found string
	doc.Find("script").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text := sel.Text()
		if strings.Contains(text, marker) {
			found = text
			return false
		}
		return true
	})
	return found, found != ""
}

// CallArgument returns the raw source of the argument list passed to the
// first call of callee in script, e.g. the "{...}" in "dataLayer.push({...});".
// Parentheses inside string literals and comments are skipped.
func CallArgument(script, callee string) (string, error) {
	re := regexp.MustCompile(regexp.QuoteMeta(callee) + `\s*\(`)
	loc := re.FindStringIndex(script)
	if loc == nil {
		return "", fmt.Errorf("%w: %s", ErrNoCall, callee)
	}

	start := loc[1]
	end, err := closingParen(script, start)
	if err != nil {
		return "", fmt.Errorf("%s: %w", callee, err)
	}
	return strings.TrimSpace(script[start:end]), nil
}

// closingParen scans from just after an opening parenthesis and returns the
// index of its matching closing parenthesis.
func closingParen(s string, from int) (int, error) {
	depth := 1
	for i := from; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\'', '`':
			j, err := skipString(s, i)
			if err != nil {
				return 0, err
			}
			i = j
		case '/':
			if i+1 < len(s) && s[i+1] == '/' {
				nl := strings.IndexByte(s[i:], '\n')
				if nl < 0 {
					return 0, errors.New("unterminated call")
				}
				i += nl
			} else if i+1 < len(s) && s[i+1] == '*' {
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return 0, errors.New("unterminated comment")
				}
				i += end + 3
			}
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				if c != ')' {
					return 0, fmt.Errorf("unbalanced %q", c)
				}
				return i, nil
			}
		}
	}
	return 0, errors.New("unterminated call")
}

// skipString returns the index of the quote closing the string that starts
// at s[i].
func skipString(s string, i int) (int, error) {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j, nil
		}
	}
	return 0, errors.New("unterminated string")
}
