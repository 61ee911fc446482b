package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// Scheduler manages worker goroutines that dequeue from the frontier,
// fetch, and hand each response to the engine's handler.
type Scheduler struct {
	engine      *Engine
	logger      *slog.Logger
	limiter     *hostLimiter
	wg          sync.WaitGroup
	idleWorkers atomic.Int32
	retrying    atomic.Int32
}

// NewScheduler creates a new Scheduler.
func NewScheduler(e *Engine) *Scheduler {
	return &Scheduler{
		engine:   e,
		logger:   e.logger.With("component", "scheduler"),
		limiter:  newHostLimiter(e.cfg.Engine.RequestsPerSecond, e.cfg.Engine.Burst),
	}
}

// Start launches the worker pool and idle monitor.
func (s *Scheduler) Start(ctx context.Context) {
	concurrency := s.engine.cfg.Engine.Concurrency
	s.logger.Info("starting worker pool", "workers", concurrency)

	for i := 0; i < concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	go s.idleMonitor(ctx, concurrency)
}

// Wait blocks until all workers are done.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// idleMonitor closes the frontier once every worker is idle, nothing is
// queued and no retry is waiting out its backoff, for three ticks in a row.
func (s *Scheduler) idleMonitor(ctx context.Context, concurrency int) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	idleStreak := 0

	for {
		select {
		case <-ctx.Done():
			s.engine.frontier.Close()
			return
		case <-ticker.C:
			queueLen := s.engine.frontier.Len()
			s.engine.metrics.QueueDepth.Set(float64(queueLen))

			idle := int(s.idleWorkers.Load())
			if idle >= concurrency && queueLen == 0 && s.retrying.Load() == 0 {
				idleStreak++
				if idleStreak >= 3 {
					s.logger.Info("all workers idle and frontier empty, crawl complete")
					s.engine.frontier.Close()
					return
				}
			} else {
				idleStreak = 0
			}
		}
	}
}

// worker is a single crawl worker goroutine.
func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With("worker_id", id)

	for {
		s.idleWorkers.Add(1)

		var req *types.Request
		for {
			// A closed frontier keeps its queue for the checkpoint.
			if s.engine.frontier.IsClosed() || ctx.Err() != nil {
				s.idleWorkers.Add(-1)
				return
			}
			if req = s.engine.frontier.TryPop(); req != nil {
				break
			}
			select {
			case <-ctx.Done():
				s.idleWorkers.Add(-1)
				return
			case <-time.After(50 * time.Millisecond):
			}
		}

		s.idleWorkers.Add(-1)

		if err := s.limiter.Wait(ctx, req.Domain()); err != nil {
			s.requeue(req)
			return
		}

		s.engine.stats.ActiveWorkers.Add(1)
		s.engine.metrics.ActiveWorkers.Inc()

		s.processRequest(ctx, logger, req)

		s.engine.stats.ActiveWorkers.Add(-1)
		s.engine.metrics.ActiveWorkers.Dec()

		if s.engine.cfg.Engine.MaxRequests > 0 &&
			s.engine.stats.RequestsSent.Load() >= int64(s.engine.cfg.Engine.MaxRequests) {
			logger.Info("max requests reached, stopping")
			s.engine.Stop()
			return
		}
	}
}

// processRequest handles a single request: fetch, handle, enqueue, emit.
func (s *Scheduler) processRequest(ctx context.Context, logger *slog.Logger, req *types.Request) {
	logger = logger.With("url", req.URLString(), "label", req.Label, "request_id", req.ID)
	label := string(req.Label)

	s.engine.mu.RLock()
	fetcher, handler := s.engine.fetcher, s.engine.handler
	s.engine.mu.RUnlock()

	timeout := s.engine.cfg.Engine.RequestTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	fetchCtx, fetchCancel := context.WithTimeout(ctx, timeout)
	defer fetchCancel()

	s.engine.stats.RequestsSent.Add(1)
	s.engine.metrics.RequestsTotal.WithLabelValues(label).Inc()

	resp, err := fetcher.Fetch(fetchCtx, req)
	if err != nil {
		var fe *types.FetchError
		if errors.As(err, &fe) && fe.StatusCode > 0 {
			s.engine.metrics.ObserveResponse(fe.StatusCode)
		}
		s.handleFailure(ctx, logger, req, err)
		return
	}

	s.engine.stats.ResponsesOK.Add(1)
	s.engine.stats.BytesDownloaded.Add(resp.ContentLength)
	s.engine.metrics.ObserveResponse(resp.StatusCode)
	s.engine.metrics.BytesDownloaded.Add(float64(resp.ContentLength))
	s.engine.metrics.FetchDuration.WithLabelValues(label).Observe(resp.FetchDuration.Seconds())
	logger.Debug("fetched", "status", resp.StatusCode, "size", resp.ContentLength, "duration", resp.FetchDuration)

	result, err := handler.Handle(ctx, resp)
	if err != nil {
		if errors.Is(err, types.ErrLimitReached) {
			logger.Info("item limit reached, stopping", "error", err)
			s.requeue(req)
			s.engine.Stop()
			return
		}
		s.handleFailure(ctx, logger, req, err)
		return
	}

	for _, child := range result.Requests {
		if _, err := s.engine.AddRequest(child); err != nil && !errors.Is(err, types.ErrDuplicate) {
			logger.Debug("request not enqueued", "child", child.URLString(), "error", err)
		}
	}
	s.engine.emit(result.Records)
}

// handleFailure reschedules a retryable failure with exponential backoff
// or reports the request as permanently failed.
func (s *Scheduler) handleFailure(ctx context.Context, logger *slog.Logger, req *types.Request, err error) {
	if ctx.Err() != nil {
		s.requeue(req)
		return
	}

	req.RecordFailure(err)
	label := string(req.Label)

	if types.IsRetryable(err) && req.RetryCount < req.MaxRetries {
		req.RetryCount++
		req.Priority = types.PriorityLow
		delay := s.backoff(req.RetryCount, err)

		s.engine.stats.RequestsRetried.Add(1)
		s.engine.metrics.RequestsRetried.WithLabelValues(label).Inc()
		logger.Warn("retrying request",
			"retry", req.RetryCount,
			"max_retries", req.MaxRetries,
			"delay", delay,
			"error", err,
		)

		s.retrying.Add(1)
		time.AfterFunc(delay, func() {
			defer s.retrying.Add(-1)
			if !s.engine.frontier.Push(req) {
				s.requeue(req)
			}
		})
		return
	}

	s.engine.stats.RequestsFailed.Add(1)
	s.engine.metrics.RequestsFailed.WithLabelValues(label).Inc()
	logger.Error("request failed too many times", "error", err, "retries", req.RetryCount)

	s.engine.mu.RLock()
	sink := s.engine.failures
	s.engine.mu.RUnlock()
	if sink != nil {
		if serr := sink.Record(types.NewFailedRequest(req)); serr != nil {
			logger.Error("failure sink error", "error", serr)
		}
	}
}

// requeue puts an unprocessed request back so the final checkpoint keeps
// it. It bypasses the closed check.
func (s *Scheduler) requeue(req *types.Request) {
	s.engine.frontier.RestoreAll([]*types.Request{req})
}

// backoff returns retry_delay * 2^(attempt-1), capped at max_retry_delay,
// or the server's Retry-After when that is longer.
func (s *Scheduler) backoff(attempt int, err error) time.Duration {
	base := s.engine.cfg.Engine.RetryDelay
	limit := s.engine.cfg.Engine.MaxRetryDelay

	delay := base
	for i := 1; i < attempt && (limit <= 0 || delay < limit); i++ {
		delay *= 2
	}
	if limit > 0 && delay > limit {
		delay = limit
	}

	var fe *types.FetchError
	if errors.As(err, &fe) && fe.RetryAfter > delay {
		delay = fe.RetryAfter
	}
	return delay
}
