// Package router dispatches fetched pages by request label and turns each
// page into follow-up requests or final product records.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/catalogcrawl/internal/extract"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// Limiter is consulted before a page is handled. Check returns an error
// wrapping types.ErrLimitReached once the output cap has been hit.
type Limiter interface {
	Check() error
}

// Config holds the site parameters the router needs.
type Config struct {
	// BaseURL resolves menu links and is stripped from MAINCAT URLs to
	// recover the category href.
	BaseURL string

	// VariantEndpoint is the variant-data endpoint; the product id is
	// added as the pid query parameter.
	VariantEndpoint string

	// Source overrides the source name on records when set.
	Source string

	// MaxSubcategoriesPerGroup caps subcategories taken per menu group.
	// Zero means all.
	MaxSubcategoriesPerGroup int

	// MaxProductsPerPage caps product requests per listing page. Zero
	// means all.
	MaxProductsPerPage int

	// FollowPagination enqueues listing pages 2..N from page one.
	FollowPagination bool
}

// Result is what handling one page produced.
type Result struct {
	Requests []*types.Request
	Records  []*types.ProductRecord
}

// Router is stateless between calls and safe for concurrent use.
type Router struct {
	cfg     Config
	base    *url.URL
	limiter Limiter
	logger  *slog.Logger

	// Now stamps scrapedAt on base products.
	Now func() time.Time
}

// New creates a Router. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *slog.Logger) (*Router, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("%w: base URL %q", types.ErrInvalidURL, cfg.BaseURL)
	}
	if _, err := url.Parse(cfg.VariantEndpoint); err != nil || cfg.VariantEndpoint == "" {
		return nil, fmt.Errorf("%w: variant endpoint %q", types.ErrInvalidURL, cfg.VariantEndpoint)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:     cfg,
		base:    base,
		limiter: limiter,
		logger:  logger.With("component", "router"),
		Now:     time.Now,
	}, nil
}

// Handle dispatches resp by the label of the request that produced it.
func (r *Router) Handle(ctx context.Context, resp *types.Response) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.limiter != nil {
		if err := r.limiter.Check(); err != nil {
			return nil, err
		}
	}

	req := resp.Request
	logger := r.logger.With("url", req.URLString(), "label", req.Label)
	logger.Info("processing")

	switch req.Label {
	case types.LabelHomepage:
		return r.handleMenu(resp, "", logger)
	case types.LabelMainCategory:
		category := strings.TrimPrefix(req.URLString(), strings.TrimSuffix(r.cfg.BaseURL, "/"))
		return r.handleMenu(resp, category, logger)
	case types.LabelSubcategory:
		return r.handleListing(resp, logger)
	case types.LabelProduct:
		return r.handleProduct(resp, logger)
	case types.LabelProductVariants:
		return r.handleVariants(resp, logger)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownLabel, req.Label)
	}
}

func (r *Router) document(resp *types.Response) (*goquery.Document, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, &types.ParseError{URL: resp.Request.URLString(), Err: err}
	}
	return doc, nil
}

func (r *Router) handleMenu(resp *types.Response, category string, logger *slog.Logger) (*Result, error) {
	doc, err := r.document(resp)
	if err != nil {
		return nil, err
	}

	if category != "" {
		logger.Info("keeping subcategories of one category", "category", category)
	}
	urls := extract.DiscoverSubcategories(doc, extract.SubcategoryOptions{
		BaseURL:     r.base,
		Category:    category,
		MaxPerGroup: r.cfg.MaxSubcategoriesPerGroup,
	})

	res := &Result{}
	for _, u := range urls {
		child, err := r.child(resp.Request, u, types.LabelSubcategory)
		if err != nil {
			logger.Warn("skipping subcategory", "href", u, "error", err)
			continue
		}
		res.Requests = append(res.Requests, child)
	}

	logger.Info("enqueued subcategories", "count", len(res.Requests))
	return res, nil
}

func (r *Router) handleListing(resp *types.Response, logger *slog.Logger) (*Result, error) {
	doc, err := r.document(resp)
	if err != nil {
		return nil, err
	}
	pageURL := resp.Request.URLString()

	page, err := extract.ParseListing(doc, pageURL)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	products := page.ProductURLs
	if n := r.cfg.MaxProductsPerPage; n > 0 && len(products) > n {
		products = products[:n]
	}
	for _, u := range products {
		child, err := r.child(resp.Request, u, types.LabelProduct)
		if err != nil {
			logger.Warn("skipping product", "href", u, "error", err)
			continue
		}
		res.Requests = append(res.Requests, child)
	}

	if r.cfg.FollowPagination && page.TotalPages > 1 && extract.IsFirstPage(resp.Request.URL) {
		next, err := extract.NextPageURL(doc, pageURL)
		if err != nil {
			return nil, err
		}
		pages, err := extract.PageURLs(next, page.TotalPages)
		if err != nil {
			return nil, err
		}
		for _, u := range pages {
			child, err := r.child(resp.Request, u, types.LabelSubcategory)
			if err != nil {
				return nil, err
			}
			res.Requests = append(res.Requests, child)
		}
		logger.Info("enqueued listing pages", "pages", len(pages))
	}

	logger.Info("enqueued products",
		"count", len(products),
		"listed", len(page.ProductURLs),
		"total_records", page.TotalRecords,
		"total_pages", page.TotalPages,
	)
	return res, nil
}

func (r *Router) handleProduct(resp *types.Response, logger *slog.Logger) (*Result, error) {
	doc, err := r.document(resp)
	if err != nil {
		return nil, err
	}
	pageURL := resp.Request.URLString()

	base, err := extract.ParseProductPage(doc, pageURL, r.Now())
	if err != nil {
		return nil, err
	}
	if r.cfg.Source != "" {
		base.Source = r.cfg.Source
	}

	variantURL, err := extract.VariantDataURL(r.cfg.VariantEndpoint, pageURL)
	if err != nil {
		return nil, err
	}
	child, err := r.child(resp.Request, variantURL, types.LabelProductVariants)
	if err != nil {
		return nil, err
	}
	child.Headers.Set("X-Requested-With", "XMLHttpRequest")
	child.Headers.Set("Accept", "application/json")
	child.Payload = base

	logger.Info("enqueued product variants", "item_id", base.ItemID)
	return &Result{Requests: []*types.Request{child}}, nil
}

func (r *Router) handleVariants(resp *types.Response, logger *slog.Logger) (*Result, error) {
	pageURL := resp.Request.URLString()
	if !resp.IsJSON() {
		return nil, types.NewMissingData(pageURL, "variant data",
			fmt.Errorf("content type %q is not JSON", resp.ContentType))
	}
	var body json.RawMessage
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, types.NewMissingData(pageURL, "variant data", err)
	}

	records, err := extract.MergeVariants(resp.Request.Payload, body, pageURL)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		logger.Debug("product extracted", "item_id", rec.ItemID, "color", rec.Color)
	}
	return &Result{Records: records}, nil
}

func (r *Router) child(parent *types.Request, rawURL string, label types.Label) (*types.Request, error) {
	req, err := types.NewRequest(rawURL, label)
	if err != nil {
		return nil, err
	}
	req.Depth = parent.Depth + 1
	req.ParentURL = parent.URLString()
	req.MaxRetries = parent.MaxRetries
	return req, nil
}
