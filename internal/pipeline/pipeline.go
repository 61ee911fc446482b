package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/IshaanNene/catalogcrawl/internal/config"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// Middleware processes a record and returns the (possibly modified) record.
// Return nil to drop the record from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a record. Return nil to drop it.
	Process(rec *types.ProductRecord) (*types.ProductRecord, error)
}

// Transform rewrites a whole page batch after the middleware chain. It is
// the hook for reshaping output before it reaches storage.
type Transform interface {
	Name() string
	Apply(batch []*types.ProductRecord) ([]*types.ProductRecord, error)
}

// Pipeline chains middleware processors and batch transforms together.
type Pipeline struct {
	middlewares []Middleware
	transforms  []Transform
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// UseTransform adds a batch transform. Transforms run after every
// middleware, in the order they were added.
func (p *Pipeline) UseTransform(t Transform) {
	p.transforms = append(p.transforms, t)
	p.logger.Debug("transform added", "name", t.Name(), "position", len(p.transforms))
}

// ProcessRecord runs a single record through all middleware in order.
func (p *Pipeline) ProcessRecord(rec *types.ProductRecord) (*types.ProductRecord, error) {
	current := rec

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage:  mw.Name(),
				Record: current,
				Err:    err,
			}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name(), "item_id", rec.ItemID, "color", rec.Color)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Process runs a page batch through the middleware chain and then the
// transforms. The input records are cloned first so callers keep their
// copies untouched. A middleware error drops only that record; a
// transform error rejects the batch.
func (p *Pipeline) Process(batch []*types.ProductRecord) ([]*types.ProductRecord, error) {
	out := make([]*types.ProductRecord, 0, len(batch))
	for _, rec := range batch {
		processed, err := p.ProcessRecord(rec.Clone())
		if err != nil {
			p.logger.Warn("record rejected", "item_id", rec.ItemID, "color", rec.Color, "error", err)
			continue
		}
		if processed != nil {
			out = append(out, processed)
		}
	}

	for _, t := range p.transforms {
		if len(out) == 0 {
			break
		}
		transformed, err := t.Apply(out)
		if err != nil {
			return nil, &types.PipelineError{Stage: t.Name(), Err: err}
		}
		out = transformed
	}
	return out, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// FromConfig builds the pipeline described by the pipeline config section.
func FromConfig(cfg *config.PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	p := New(logger)
	for _, mc := range cfg.Middlewares {
		mw, err := buildMiddleware(mc)
		if err != nil {
			return nil, err
		}
		p.Use(mw)
	}
	if len(cfg.OutputFields) > 0 {
		ft, err := NewFieldFilterTransform(cfg.OutputFields)
		if err != nil {
			return nil, err
		}
		p.UseTransform(ft)
	}
	return p, nil
}

func buildMiddleware(mc config.MiddlewareConfig) (Middleware, error) {
	switch mc.Name {
	case "trim":
		return &TrimMiddleware{}, nil
	case "html_sanitize":
		return NewHTMLSanitizeMiddleware(), nil
	case "dedup":
		return NewDedupMiddleware(), nil
	case "required_fields":
		return &RequiredFieldsMiddleware{Fields: stringsOption(mc.Options, "fields")}, nil
	case "lowercase_categories":
		return &LowercaseCategoriesMiddleware{}, nil
	case "default_values":
		defaults := make(map[string]string)
		for k, v := range mc.Options {
			defaults[k] = fmt.Sprint(v)
		}
		return NewDefaultValueMiddleware(defaults)
	default:
		return nil, fmt.Errorf("unknown middleware %q", mc.Name)
	}
}

func stringsOption(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, fmt.Sprint(s))
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
