package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/catalogcrawl/internal/config"
	"github.com/IshaanNene/catalogcrawl/internal/observability"
	"github.com/IshaanNene/catalogcrawl/internal/router"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// State represents the engine's current lifecycle state.
type State int32

const (
	StateIdle     State = 0
	StateRunning  State = 1
	StateStopping State = 2
	StateStopped  State = 3
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats tracks crawl statistics.
type Stats struct {
	RequestsSent    atomic.Int64
	RequestsFailed  atomic.Int64
	RequestsRetried atomic.Int64
	ResponsesOK     atomic.Int64
	RecordsEmitted  atomic.Int64
	RecordsDropped  atomic.Int64
	RecordsStored   atomic.Int64
	URLsEnqueued    atomic.Int64
	URLsFiltered    atomic.Int64
	BytesDownloaded atomic.Int64
	ActiveWorkers   atomic.Int32
	StartTime       time.Time
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"requests_sent":    s.RequestsSent.Load(),
		"requests_failed":  s.RequestsFailed.Load(),
		"requests_retried": s.RequestsRetried.Load(),
		"responses_ok":     s.ResponsesOK.Load(),
		"records_emitted":  s.RecordsEmitted.Load(),
		"records_dropped":  s.RecordsDropped.Load(),
		"records_stored":   s.RecordsStored.Load(),
		"urls_enqueued":    s.URLsEnqueued.Load(),
		"urls_filtered":    s.URLsFiltered.Load(),
		"bytes_downloaded": s.BytesDownloaded.Load(),
		"active_workers":   s.ActiveWorkers.Load(),
		"elapsed":          time.Since(s.StartTime).String(),
	}
}

// Fetcher retrieves one request.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
	Close() error
}

// Handler turns a fetched page into follow-up requests and records.
type Handler interface {
	Handle(ctx context.Context, resp *types.Response) (*router.Result, error)
}

// Pipeline processes the records of one handled page as a batch.
type Pipeline interface {
	Process(batch []*types.ProductRecord) ([]*types.ProductRecord, error)
}

// Storage is the append-only record sink.
type Storage interface {
	Store(records []*types.ProductRecord) error
	Close() error
}

// FailureSink receives one entry per permanently failed request.
type FailureSink interface {
	Record(failed *types.FailedRequest) error
	Close() error
}

// Engine is the core crawler orchestrator.
type Engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	frontier   *Frontier
	dedup      *Deduplicator
	counter    *ItemCounter
	checkpoint *CheckpointManager
	scheduler  *Scheduler
	metrics    *observability.Metrics

	fetcher  Fetcher
	handler  Handler
	pipeline Pipeline
	storage  Storage
	failures FailureSink

	state     atomic.Int32
	stats     *Stats
	batchChan chan []*types.ProductRecord
	storeChan chan []*types.ProductRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// New creates a new Engine with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		frontier:   NewFrontier(),
		dedup:      NewDeduplicator(1_000_000),
		counter:    NewItemCounter(cfg.Engine.MaxItems),
		checkpoint: NewCheckpointManager(cfg.Engine.CheckpointInterval, cfg.Engine.CheckpointDir),
		metrics:    observability.NewMetrics(nil, logger),
		batchChan:  make(chan []*types.ProductRecord, cfg.Engine.Concurrency*4),
		storeChan:  make(chan []*types.ProductRecord, cfg.Engine.Concurrency*4),
		stats:      &Stats{},
		ctx:        ctx,
		cancel:     cancel,
	}

	e.scheduler = NewScheduler(e)
	return e
}

// SetFetcher sets the fetcher implementation.
func (e *Engine) SetFetcher(f Fetcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetcher = f
}

// SetHandler sets the page handler.
func (e *Engine) SetHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// SetPipeline sets the pipeline implementation.
func (e *Engine) SetPipeline(p Pipeline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipeline = p
}

// SetStorage sets the storage implementation.
func (e *Engine) SetStorage(s Storage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.storage = s
}

// SetFailureSink sets where permanently failed requests are reported.
func (e *Engine) SetFailureSink(s FailureSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = s
}

// SetMetrics replaces the engine's private metrics.
func (e *Engine) SetMetrics(m *observability.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Counter returns the shared item counter. Handlers consult it through
// router.Limiter.
func (e *Engine) Counter() *ItemCounter {
	return e.counter
}

// AddSeed adds a start URL with its label to the crawl frontier.
func (e *Engine) AddSeed(rawURL string, label types.Label) (string, error) {
	req, err := types.NewRequest(rawURL, label)
	if err != nil {
		return "", err
	}
	req.Depth = 0
	return e.AddRequest(req)
}

// AddRequest adds a request to the crawl frontier and returns its id.
// Requests whose canonical URL was already enqueued get types.ErrDuplicate.
func (e *Engine) AddRequest(req *types.Request) (string, error) {
	if !e.isDomainAllowed(req.Domain()) {
		e.stats.URLsFiltered.Add(1)
		return "", fmt.Errorf("domain %q is not allowed", req.Domain())
	}

	if !e.dedup.MarkIfNew(req.URLString()) {
		e.stats.URLsFiltered.Add(1)
		return "", types.ErrDuplicate
	}

	req.MaxRetries = e.cfg.Engine.MaxRetries
	if !e.frontier.Push(req) {
		return "", types.ErrCrawlStopped
	}
	e.stats.URLsEnqueued.Add(1)
	e.metrics.QueueDepth.Set(float64(e.frontier.Len()))
	return req.ID, nil
}

// RestoreCheckpoint reloads the frontier, seen set and item count saved by
// a previous run. It must be called before Start.
func (e *Engine) RestoreCheckpoint() (bool, error) {
	if !e.checkpoint.HasCheckpoint() {
		return false, nil
	}
	if err := e.checkpoint.Load(e.frontier, e.dedup, e.counter, e.stats); err != nil {
		return false, err
	}
	e.logger.Info("checkpoint restored",
		"queued", e.frontier.Len(),
		"seen", e.dedup.Count(),
		"items", e.counter.Count(),
	)
	return true, nil
}

// Start begins crawling.
func (e *Engine) Start() error {
	if e.fetcher == nil {
		return types.ErrNoFetcher
	}
	if e.handler == nil {
		return errors.New("engine has no handler")
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("engine is in state %s, cannot start", State(e.state.Load()))
	}

	e.logger.Info("engine starting",
		"concurrency", e.cfg.Engine.Concurrency,
		"requests_per_second", e.cfg.Engine.RequestsPerSecond,
		"max_items", e.cfg.Engine.MaxItems,
	)

	e.stats.StartTime = time.Now()

	e.wg.Add(1)
	go e.processRecords()

	e.wg.Add(1)
	go e.storeResults()

	if e.cfg.Engine.CheckpointInterval > 0 {
		e.wg.Add(1)
		go e.autoCheckpoint()
	}

	e.scheduler.Start(e.ctx)

	return nil
}

// Wait blocks until all work is done.
func (e *Engine) Wait() {
	e.scheduler.Wait()

	// Stop the checkpoint loop and other background tasks.
	e.cancel()

	close(e.batchChan)
	e.wg.Wait()
	interrupted := State(e.state.Load()) == StateStopping
	e.state.Store(int32(StateStopped))

	if !interrupted && e.frontier.Len() == 0 && e.checkpoint.HasCheckpoint() {
		if err := e.checkpoint.Clean(); err != nil {
			e.logger.Warn("checkpoint cleanup failed", "error", err)
		}
	}

	if e.fetcher != nil {
		if err := e.fetcher.Close(); err != nil {
			e.logger.Error("fetcher close error", "error", err)
		}
	}
	if e.failures != nil {
		if err := e.failures.Close(); err != nil {
			e.logger.Error("failure sink close error", "error", err)
		}
	}

	e.logger.Info("engine stopped", "stats", e.stats.Snapshot())
}

// Stop gracefully stops the engine.
func (e *Engine) Stop() {
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	e.logger.Info("engine stopping")
	// Close frontier first so all workers polling TryPop() see IsClosed() and exit
	e.frontier.Close()
	e.cancel()
}

// Stats returns the current crawl statistics.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// GetState returns the current engine state.
func (e *Engine) GetState() State {
	return State(e.state.Load())
}

func (e *Engine) isDomainAllowed(domain string) bool {
	if len(e.cfg.Engine.AllowedDomains) == 0 {
		return true
	}
	for _, d := range e.cfg.Engine.AllowedDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// emit hands the records of one page to the pipeline stage.
func (e *Engine) emit(records []*types.ProductRecord) {
	if len(records) > 0 {
		e.batchChan <- records
	}
}

// processRecords runs the pipeline on each page batch and counts what
// survives towards the item cap.
func (e *Engine) processRecords() {
	defer e.wg.Done()
	defer close(e.storeChan)

	for batch := range e.batchChan {
		in := len(batch)
		if e.pipeline != nil {
			processed, err := e.pipeline.Process(batch)
			if err != nil {
				e.stats.RecordsDropped.Add(int64(in))
				e.metrics.RecordsDropped.Add(float64(in))
				e.logger.Warn("pipeline rejected batch", "records", in, "error", err)
				continue
			}
			batch = processed
		}

		dropped := in - len(batch)
		if dropped > 0 {
			e.stats.RecordsDropped.Add(int64(dropped))
			e.metrics.RecordsDropped.Add(float64(dropped))
		}
		if len(batch) == 0 {
			continue
		}

		total := e.counter.Add(len(batch))
		e.stats.RecordsEmitted.Add(int64(len(batch)))
		e.metrics.RecordsEmitted.Add(float64(len(batch)))
		for _, rec := range batch {
			e.logger.Info("product pushed", "item_id", rec.ItemID, "color", rec.Color, "total", total)
		}
		e.storeChan <- batch
	}
}

// storeResults persists records in batches of storage.batch_size.
func (e *Engine) storeResults() {
	defer e.wg.Done()
	size := e.cfg.Storage.BatchSize
	if size < 1 {
		size = 1
	}
	buf := make([]*types.ProductRecord, 0, size)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if e.storage != nil {
			if err := e.storage.Store(buf); err != nil {
				e.logger.Error("storage error", "error", err, "batch_size", len(buf))
			} else {
				e.stats.RecordsStored.Add(int64(len(buf)))
				e.metrics.RecordsStored.Add(float64(len(buf)))
			}
		}
		buf = make([]*types.ProductRecord, 0, size)
	}

	for batch := range e.storeChan {
		buf = append(buf, batch...)
		if len(buf) >= size {
			flush()
		}
	}
	flush()

	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			e.logger.Error("storage close error", "error", err)
		}
	}
}

// autoCheckpoint periodically saves engine state.
func (e *Engine) autoCheckpoint() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Engine.CheckpointInterval)
	defer ticker.Stop()

	save := func() error {
		return e.checkpoint.Save(e.frontier, e.dedup, e.counter, e.stats)
	}

	for {
		select {
		case <-e.ctx.Done():
			if err := save(); err != nil {
				e.logger.Error("final checkpoint save failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := save(); err != nil {
				e.logger.Error("checkpoint save failed", "error", err)
			} else {
				e.logger.Debug("checkpoint saved")
			}
		}
	}
}
