package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// CheckpointManager handles saving and loading crawl state so an interrupted crawl can resume.
type CheckpointManager struct {
	interval      time.Duration
	checkpointDir string
}

// checkpointData is the serializable crawl state.
type checkpointData struct {
	Timestamp  time.Time       `json:"timestamp"`
	Frontier   []checkpointReq `json:"frontier"`
	SeenHashes []string        `json:"seen_hashes"`
	ItemCount  int64           `json:"item_count"`
	Stats      checkpointStats `json:"stats"`
}

// checkpointReq keeps everything a queued request needs to be replayed,
// including the base product carried to PRODUCT_VARIANTS.
type checkpointReq struct {
	URL        string             `json:"url"`
	Label      types.Label        `json:"label"`
	Payload    *types.BaseProduct `json:"payload,omitempty"`
	Method     string             `json:"method,omitempty"`
	Headers    http.Header        `json:"headers,omitempty"`
	Depth      int                `json:"depth"`
	Priority   int                `json:"priority"`
	RetryCount int                `json:"retry_count,omitempty"`
	MaxRetries int                `json:"max_retries"`
	Errors     []string           `json:"errors,omitempty"`
	ParentURL  string             `json:"parent_url,omitempty"`
}

type checkpointStats struct {
	RequestsSent    int64 `json:"requests_sent"`
	RequestsFailed  int64 `json:"requests_failed"`
	ResponsesOK     int64 `json:"responses_ok"`
	RecordsEmitted  int64 `json:"records_emitted"`
	URLsEnqueued    int64 `json:"urls_enqueued"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
}

// NewCheckpointManager creates a new CheckpointManager writing under dir.
func NewCheckpointManager(interval time.Duration, dir string) *CheckpointManager {
	if dir == "" {
		dir = ".catalogcrawl_checkpoints"
	}
	return &CheckpointManager{
		interval:      interval,
		checkpointDir: dir,
	}
}

func (cm *CheckpointManager) path() string {
	return filepath.Join(cm.checkpointDir, "checkpoint.json")
}

// Save serializes the current crawl state to disk.
func (cm *CheckpointManager) Save(frontier *Frontier, dedup *Deduplicator, counter *ItemCounter, stats *Stats) error {
	if err := os.MkdirAll(cm.checkpointDir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	requests := frontier.Snapshot()

	data := checkpointData{
		Timestamp:  time.Now(),
		Frontier:   make([]checkpointReq, len(requests)),
		SeenHashes: dedup.Export(),
		ItemCount:  counter.Count(),
		Stats: checkpointStats{
			RequestsSent:    stats.RequestsSent.Load(),
			RequestsFailed:  stats.RequestsFailed.Load(),
			ResponsesOK:     stats.ResponsesOK.Load(),
			RecordsEmitted:  stats.RecordsEmitted.Load(),
			URLsEnqueued:    stats.URLsEnqueued.Load(),
			BytesDownloaded: stats.BytesDownloaded.Load(),
		},
	}

	for i, req := range requests {
		data.Frontier[i] = checkpointReq{
			URL:        req.URLString(),
			Label:      req.Label,
			Payload:    req.Payload,
			Method:     req.Method,
			Headers:    req.Headers,
			Depth:      req.Depth,
			Priority:   req.Priority,
			RetryCount: req.RetryCount,
			MaxRetries: req.MaxRetries,
			Errors:     req.Errors,
			ParentURL:  req.ParentURL,
		}
	}

	// Write to temp file, then rename (atomic write)
	tmpPath := filepath.Join(cm.checkpointDir, "checkpoint.tmp")

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		f.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}

	if err := os.Rename(tmpPath, cm.path()); err != nil {
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// Load reads a checkpoint from disk and restores crawl state. A missing
// checkpoint is not an error.
func (cm *CheckpointManager) Load(frontier *Frontier, dedup *Deduplicator, counter *ItemCounter, stats *Stats) error {
	f, err := os.Open(cm.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	var data checkpointData
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}

	dedup.Import(data.SeenHashes)

	restored := make([]*types.Request, 0, len(data.Frontier))
	for _, cr := range data.Frontier {
		req, err := newRequestFromCheckpoint(cr)
		if err != nil {
			continue
		}
		restored = append(restored, req)
	}
	frontier.RestoreAll(restored)

	counter.Set(data.ItemCount)

	stats.RequestsSent.Store(data.Stats.RequestsSent)
	stats.RequestsFailed.Store(data.Stats.RequestsFailed)
	stats.ResponsesOK.Store(data.Stats.ResponsesOK)
	stats.RecordsEmitted.Store(data.Stats.RecordsEmitted)
	stats.URLsEnqueued.Store(data.Stats.URLsEnqueued)
	stats.BytesDownloaded.Store(data.Stats.BytesDownloaded)

	return nil
}

// HasCheckpoint returns true if a checkpoint file exists.
func (cm *CheckpointManager) HasCheckpoint() bool {
	_, err := os.Stat(cm.path())
	return err == nil
}

// Clean removes the checkpoint file.
func (cm *CheckpointManager) Clean() error {
	if err := os.Remove(cm.path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func newRequestFromCheckpoint(cr checkpointReq) (*types.Request, error) {
	label, err := types.ParseLabel(string(cr.Label))
	if err != nil {
		return nil, err
	}
	req, err := types.NewRequest(cr.URL, label)
	if err != nil {
		return nil, err
	}
	if cr.Method != "" {
		req.Method = cr.Method
	}
	if cr.Headers != nil {
		req.Headers = cr.Headers
	}
	req.Payload = cr.Payload
	req.Depth = cr.Depth
	req.Priority = cr.Priority
	req.RetryCount = cr.RetryCount
	req.MaxRetries = cr.MaxRetries
	req.Errors = cr.Errors
	req.ParentURL = cr.ParentURL
	return req, nil
}
