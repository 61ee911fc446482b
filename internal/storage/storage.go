package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/IshaanNene/catalogcrawl/internal/config"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// Storage is the interface for all storage backends.
type Storage interface {
	// Store persists a batch of records.
	Store(records []*types.ProductRecord) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string

	// Count returns how many records the backend holds, including those
	// found on open when resuming.
	Count() int
}

// Options tune how file backends open and what they write.
type Options struct {
	// Resume appends to existing output instead of truncating it.
	Resume bool

	// Fields limits written columns/keys to these record fields.
	Fields []string
}

// New builds the configured backends. More than one backend is wrapped in
// a MultiStorage.
func New(cfg *config.StorageConfig, opts Options, logger *slog.Logger) (Storage, error) {
	backends := make([]Storage, 0, len(cfg.Backends))
	closeAll := func() {
		for _, b := range backends {
			_ = b.Close()
		}
	}

	for _, name := range cfg.Backends {
		var (
			s   Storage
			err error
		)
		switch name {
		case "mongo":
			s, err = NewMongoStorage(cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, logger)
		default:
			s, err = NewFileStorage(name, cfg.OutputPath, opts, logger)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("storage %s: %w", name, err)
		}
		backends = append(backends, s)
	}

	switch len(backends) {
	case 0:
		return nil, fmt.Errorf("no storage backends configured")
	case 1:
		return backends[0], nil
	default:
		return NewMultiStorage(backends, logger), nil
	}
}

// NewFileStorage creates the appropriate file-based storage by type.
func NewFileStorage(storageType, outputDir string, opts Options, logger *slog.Logger) (Storage, error) {
	switch storageType {
	case "json":
		return NewJSONStorage(filepath.Join(outputDir, "results.json"), opts, logger)
	case "jsonl":
		return NewJSONLStorage(filepath.Join(outputDir, "results.jsonl"), opts, logger)
	case "csv":
		return NewCSVStorage(filepath.Join(outputDir, "results.csv"), opts, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
