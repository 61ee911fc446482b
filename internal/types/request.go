package types

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority levels for request scheduling.
const (
	PriorityHighest = 0
	PriorityHigh    = 1
	PriorityNormal  = 2
	PriorityLow     = 3
	PriorityLowest  = 4
)

// Label tells the router what kind of page a request points at.
type Label string

const (
	LabelHomepage        Label = "HOMEPAGE"
	LabelMainCategory    Label = "MAINCAT"
	LabelSubcategory     Label = "SUBCAT"
	LabelProduct         Label = "PRODUCT"
	LabelProductVariants Label = "PRODUCT_VARIANTS"
)

// ParseLabel converts a user or checkpoint supplied label into a Label.
// The dashed "PRODUCT-VARIANTS" spelling is accepted as well.
func ParseLabel(s string) (Label, error) {
	switch l := Label(strings.ToUpper(strings.TrimSpace(s))); l {
	case LabelHomepage, LabelMainCategory, LabelSubcategory, LabelProduct, LabelProductVariants:
		return l, nil
	case "PRODUCT-VARIANTS":
		return LabelProductVariants, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLabel, s)
	}
}

// Priority returns the default scheduling priority for a label. Deeper
// pages go first so records flow out before the frontier fans out further.
func (l Label) Priority() int {
	switch l {
	case LabelProductVariants:
		return PriorityHighest
	case LabelProduct:
		return PriorityHigh
	case LabelSubcategory:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Request represents an HTTP request to be fetched by the crawler.
type Request struct {
	// URL is the target URL to fetch.
	URL *url.URL

	// Label selects the handler for the fetched page.
	Label Label

	// Payload is the base product carried from a PRODUCT page to its
	// PRODUCT_VARIANTS request. It is owned by this request.
	Payload *BaseProduct

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET.
	Method string

	// Headers are custom HTTP headers to send with the request.
	Headers http.Header

	// Depth is the crawl depth from the seed URL.
	Depth int

	// Priority controls scheduling order (lower = higher priority).
	Priority int

	// MaxRetries is the maximum number of retries for this request.
	MaxRetries int

	// RetryCount tracks the current retry attempt.
	RetryCount int

	// Errors is the history of failures seen for this request.
	Errors []string

	// Timeout overrides the global request timeout for this request.
	Timeout time.Duration

	// ParentURL tracks which page this request was discovered on.
	ParentURL string

	// CreatedAt is when this request was created.
	CreatedAt time.Time

	// ID is a unique identifier for this request.
	ID string
}

// NewRequest creates a new Request with sensible defaults.
func NewRequest(rawURL string, label Label) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, rawURL)
	}

	return &Request{
		URL:        u,
		Label:      label,
		Method:     http.MethodGet,
		Headers:    make(http.Header),
		Priority:   label.Priority(),
		MaxRetries: 3,
		CreatedAt:  time.Now(),
		ID:         uuid.NewString(),
	}, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// RecordFailure appends err to the retry history.
func (r *Request) RecordFailure(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// Clone creates a deep copy of the request, payload included.
func (r *Request) Clone() *Request {
	clone := *r
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	clone.Headers = r.Headers.Clone()
	clone.Payload = r.Payload.Clone()
	clone.Errors = append([]string(nil), r.Errors...)
	return &clone
}
