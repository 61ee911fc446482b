package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrDuplicate        = errors.New("duplicate URL")
	ErrEmptyResponse    = errors.New("empty response body")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrCrawlStopped     = errors.New("crawl has been stopped")
	ErrNoFetcher        = errors.New("no fetcher available for request")
	ErrContentType      = errors.New("content type not allowed")
	ErrBodyTooLarge     = errors.New("response body exceeds size limit")
	ErrUnknownLabel     = errors.New("unknown request label")
	ErrMissingData      = errors.New("expected page data is missing")
	ErrInconsistentData = errors.New("page data references an unknown id")
	ErrLimitReached     = errors.New("item limit reached")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// MissingDataError reports that a structured payload the site normally
// exposes was absent or could not be parsed. It usually means the site
// markup changed.
type MissingDataError struct {
	URL  string
	What string
	Err  error
}

func (e *MissingDataError) Error() string {
	msg := fmt.Sprintf("missing %s", e.What)
	if e.URL != "" {
		msg += " on " + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MissingDataError) Unwrap() error { return e.Err }

func (e *MissingDataError) Is(target error) bool { return target == ErrMissingData }

// NewMissingData is a shorthand for building a MissingDataError.
func NewMissingData(url, what string, err error) *MissingDataError {
	return &MissingDataError{URL: url, What: what, Err: err}
}

// InconsistentDataError reports a cross-referenced id with no matching
// lookup entry, e.g. a variant color that the color attribute group does not
// define. It matches both ErrInconsistentData and ErrMissingData.
type InconsistentDataError struct {
	URL  string
	Kind string // "color" or "size"
	ID   string
}

func (e *InconsistentDataError) Error() string {
	return fmt.Sprintf("inconsistent variant data for %s: unknown %s id %q", e.URL, e.Kind, e.ID)
}

func (e *InconsistentDataError) Is(target error) bool {
	return target == ErrInconsistentData || target == ErrMissingData
}

// LimitReachedError signals that the configured output cap was hit. It is
// not a per-page failure: the engine stops scheduling new work.
type LimitReachedError struct {
	Limit int64
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("item limit of %d reached", e.Limit)
}

func (e *LimitReachedError) Unwrap() error { return ErrLimitReached }

// ParseError wraps errors that occur while turning a body into a document.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during storage/export.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PipelineError wraps errors that occur in the processing pipeline.
type PipelineError struct {
	Stage  string
	Record *ProductRecord
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IsRetryable reports whether the engine should reschedule a request that
// failed with err. Fetch errors decide for themselves; missing or
// inconsistent page data is retried because it is frequently a partial or
// throttled response.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrLimitReached) || errors.Is(err, ErrUnknownLabel) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}
	return errors.Is(err, ErrMissingData) || errors.Is(err, ErrEmptyResponse)
}
