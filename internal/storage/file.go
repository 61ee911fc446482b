package storage

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// encodeRecord returns the record itself, or a map restricted to fields.
func encodeRecord(rec *types.ProductRecord, fields []string) any {
	if len(fields) == 0 {
		return rec
	}
	all := rec.ToMap()
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

// openOutput opens path for streaming writes, appending when resuming.
func openOutput(path string, resume bool) (*os.File, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return f, nil
}

// countLines counts non-empty lines in an existing file; a missing file
// has none.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	return n, sc.Err()
}

// --- JSON Storage ---

// JSONStorage buffers records and writes them as one JSON array on Close.
type JSONStorage struct {
	path    string
	fields  []string
	records []json.RawMessage
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewJSONStorage creates a new JSON file storage. When resuming, the
// existing array is loaded and extended.
func NewJSONStorage(outputPath string, opts Options, logger *slog.Logger) (*JSONStorage, error) {
	if err := ensureDir(outputPath); err != nil {
		return nil, err
	}

	s := &JSONStorage{
		path:    outputPath,
		fields:  opts.Fields,
		records: make([]json.RawMessage, 0),
		logger:  logger.With("component", "json_storage"),
	}

	if opts.Resume {
		data, err := os.ReadFile(outputPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read existing output: %w", err)
		case len(bytes.TrimSpace(data)) > 0:
			if err := json.Unmarshal(data, &s.records); err != nil {
				return nil, fmt.Errorf("decode existing output: %w", err)
			}
		}
	}
	return s, nil
}

func (s *JSONStorage) Name() string { return "json" }

func (s *JSONStorage) Store(records []*types.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		b, err := json.Marshal(encodeRecord(rec, s.fields))
		if err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		s.records = append(s.records, b)
	}
	s.logger.Debug("records buffered", "count", len(records), "total", len(s.records))
	return nil
}

func (s *JSONStorage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.records); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}

	s.logger.Info("JSON written", "path", s.path, "records", len(s.records))
	return nil
}

// --- JSONL Storage ---

// JSONLStorage writes records as newline-delimited JSON (one object per line).
type JSONLStorage struct {
	path   string
	fields []string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLStorage creates a new JSONL file storage (streaming writes).
func NewJSONLStorage(outputPath string, opts Options, logger *slog.Logger) (*JSONLStorage, error) {
	existing := 0
	if opts.Resume {
		n, err := countLines(outputPath)
		if err != nil {
			return nil, fmt.Errorf("scan existing output: %w", err)
		}
		existing = n
	}

	f, err := openOutput(outputPath, opts.Resume)
	if err != nil {
		return nil, err
	}

	return &JSONLStorage{
		path:   outputPath,
		fields: opts.Fields,
		file:   f,
		enc:    json.NewEncoder(f),
		count:  existing,
		logger: logger.With("component", "jsonl_storage"),
	}, nil
}

func (s *JSONLStorage) Name() string { return "jsonl" }

func (s *JSONLStorage) Store(records []*types.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if err := s.enc.Encode(encodeRecord(rec, s.fields)); err != nil {
			return fmt.Errorf("encode JSONL: %w", err)
		}
		s.count++
	}
	return nil
}

func (s *JSONLStorage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *JSONLStorage) Close() error {
	s.logger.Info("JSONL written", "path", s.path, "records", s.count)
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// --- CSV Storage ---

// CSVStorage writes records as CSV rows. Columns follow
// types.RecordFields, or the configured fields.
type CSVStorage struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	headers []string
	mu      sync.Mutex
	count   int
	logger  *slog.Logger
}

// NewCSVStorage creates a new CSV file storage. The header row is written
// once, unless a resumed file already has one.
func NewCSVStorage(outputPath string, opts Options, logger *slog.Logger) (*CSVStorage, error) {
	headers := opts.Fields
	if len(headers) == 0 {
		headers = types.RecordFields
	}

	existing := 0
	if opts.Resume {
		n, err := countLines(outputPath)
		if err != nil {
			return nil, fmt.Errorf("scan existing output: %w", err)
		}
		existing = n
	}

	f, err := openOutput(outputPath, opts.Resume)
	if err != nil {
		return nil, err
	}

	s := &CSVStorage{
		path:    outputPath,
		file:    f,
		writer:  csv.NewWriter(f),
		headers: headers,
		logger:  logger.With("component", "csv_storage"),
	}

	if existing > 0 {
		s.count = existing - 1
	} else {
		if err := s.writer.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("write CSV header: %w", err)
		}
		s.writer.Flush()
	}
	return s, nil
}

func (s *CSVStorage) Name() string { return "csv" }

func (s *CSVStorage) Store(records []*types.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		flat := rec.ToFlatMap()
		row := make([]string, len(s.headers))
		for i, h := range s.headers {
			row[i] = flat[h]
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
		s.count++
	}

	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVStorage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *CSVStorage) Close() error {
	s.logger.Info("CSV written", "path", s.path, "records", s.count)
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// --- Debug sink ---

// DebugSink appends permanently failed requests to a JSONL file, one
// {"#debug": {...}} object per line.
type DebugSink struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

type debugEntry struct {
	Debug *types.FailedRequest `json:"#debug"`
}

// NewDebugSink opens the debug file, appending when resuming.
func NewDebugSink(path string, resume bool, logger *slog.Logger) (*DebugSink, error) {
	f, err := openOutput(path, resume)
	if err != nil {
		return nil, err
	}
	return &DebugSink{
		path:   path,
		file:   f,
		logger: logger.With("component", "debug_sink"),
	}, nil
}

// Record writes one failed request.
func (d *DebugSink) Record(failed *types.FailedRequest) error {
	b, err := json.Marshal(debugEntry{Debug: failed})
	if err != nil {
		return fmt.Errorf("encode debug entry: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.Write(append(b, '\n')); err != nil {
		return &types.StorageError{Backend: "debug", Err: err}
	}
	d.count++
	return nil
}

// Count returns the number of requests recorded in this run.
func (d *DebugSink) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *DebugSink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count > 0 {
		d.logger.Warn("failed requests recorded", "path", d.path, "count", d.count)
	}
	return d.file.Close()
}
