package storage

import (
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// MultiStorage writes records to multiple backends concurrently.
type MultiStorage struct {
	backends []Storage
	logger   *slog.Logger
}

// NewMultiStorage creates a storage that fans out to multiple backends.
func NewMultiStorage(backends []Storage, logger *slog.Logger) *MultiStorage {
	return &MultiStorage{
		backends: backends,
		logger:   logger.With("component", "multi_storage"),
	}
}

func (s *MultiStorage) Name() string { return "multi" }

// Store hands the same batch to every backend. Every backend is attempted;
// the first failure is returned.
func (s *MultiStorage) Store(records []*types.ProductRecord) error {
	var g errgroup.Group
	for _, backend := range s.backends {
		backend := backend
		g.Go(func() error {
			if err := backend.Store(records); err != nil {
				s.logger.Error("backend store failed", "backend", backend.Name(), "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Count reports the largest backend count. Backends that joined a resumed
// crawl late may hold fewer records.
func (s *MultiStorage) Count() int {
	n := 0
	for _, b := range s.backends {
		n = max(n, b.Count())
	}
	return n
}

func (s *MultiStorage) Close() error {
	var errs []error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
