package core

// scheduler.go drives the drop folder: one loop scans the root, polls the
// watcher and dispatches stable files to the engine.
//
// Each stable file is ingested in its own goroutine, bounded by the
// IngestLimiter. A file that cannot get a slot in time is released and
// rediscovered by a later scan. The loop never fails because of a single
// file; errors are logged and the next tick proceeds.

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is the time between two scheduler ticks.
const DefaultPollInterval = 15 * time.Second

// SchedulerConfig holds the drop-folder loop settings.
type SchedulerConfig struct {
	Root               string
	Layout             Layout
	PollInterval       time.Duration // default: 15s
	StabilityThreshold int           // default: 6
	Stat               StatFunc      // nil uses os.Stat
}

// Scheduler owns the watcher and scanner and hands stable files to the engine.
type Scheduler struct {
	engine   *Engine
	limiter  *IngestLimiter
	watcher  *Watcher
	scanner  *Scanner
	interval time.Duration
	nudge    chan struct{}

	mu       sync.Mutex
	inFlight map[string]bool
	stopping bool // no new jobs are registered once set
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. tracking is used by the scanner to skip
// files that were already processed.
func NewScheduler(cfg SchedulerConfig, engine *Engine, tracking TrackingStore, limiter *IngestLimiter) (*Scheduler, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Scheduler{
		engine:   engine,
		limiter:  limiter,
		watcher:  NewWatcher(cfg.StabilityThreshold, cfg.Stat),
		interval: cfg.PollInterval,
		nudge:    make(chan struct{}, 1),
		inFlight: make(map[string]bool),
	}

	scanner, err := NewScanner(cfg.Root, cfg.Layout, s.watcher, tracking, s.InFlight)
	if err != nil {
		return nil, err
	}
	s.scanner = scanner
	return s, nil
}

// Watcher returns the stability watcher.
func (s *Scheduler) Watcher() *Watcher { return s.watcher }

// Scanner returns the drop folder scanner.
func (s *Scheduler) Scanner() *Scanner { return s.scanner }

// Run ticks immediately, then every poll interval, until ctx is canceled.
// On return every running job has been asked to cancel; use Wait to let
// them finish.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("drop folder scheduler started",
		"root", s.scanner.Root(),
		"poll_interval", s.interval,
		"stability_threshold", s.watcher.Threshold(),
		"max_concurrent", s.limiter.MaxConcurrent(),
	)

	jobCtx := context.WithoutCancel(ctx)
	s.Tick(ctx, jobCtx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n := s.stop()
			slog.Info("drop folder scheduler stopped", "jobs_canceled", n)
			return nil
		case <-ticker.C:
			s.Tick(ctx, jobCtx)
		case <-s.nudge:
			s.scan(ctx)
		}
	}
}

// Nudge requests an early scan. New files still need the full stability
// threshold of polls; a nudge never advances the counters.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Tick performs one scan, one watcher poll and dispatches stable files.
// Jobs run under jobCtx so a shutdown can cancel them cooperatively.
func (s *Scheduler) Tick(ctx, jobCtx context.Context) {
	s.scan(ctx)

	for _, f := range s.watcher.Poll() {
		slog.Info("file stable", "file", f.Path, "class", f.Class.String(), "size", f.Size)
		s.dispatch(ctx, jobCtx, f)
	}
}

func (s *Scheduler) scan(ctx context.Context) {
	start := time.Now()
	added, err := s.scanner.Scan(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("scan failed", "error", err)
		}
		return
	}
	slog.Debug("scan completed",
		"added", added,
		"tracked", s.watcher.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// dispatch waits for a limiter slot under ctx and ingests under jobCtx.
func (s *Scheduler) dispatch(ctx, jobCtx context.Context, f TrackedFile) {
	s.mu.Lock()
	if s.inFlight[f.Path] {
		s.mu.Unlock()
		return
	}
	s.inFlight[f.Path] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(f.Path)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in ingestion", "file", f.Path, "panic", r)
			}
		}()

		if err := s.limiter.Acquire(ctx); err != nil {
			slog.Warn("ingestion postponed", "file", f.Path, "error", err)
			return
		}
		defer s.limiter.Release()
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		j, err := s.engine.jobs.register(f.Path, s.engine.cfg.BatchSize)
		s.mu.Unlock()
		if err != nil {
			if errors.Is(err, ErrJobActive) {
				slog.Debug("file already being ingested", "file", f.Path)
			} else {
				slog.Warn("job registration failed", "file", f.Path, "error", err)
			}
			return
		}
		s.engine.run(jobCtx, j, f)
	}()
}

// stop blocks further job registration and cancels every running job.
// Returns the number of jobs asked to cancel.
func (s *Scheduler) stop() int {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	return s.engine.Jobs().CancelAll()
}

func (s *Scheduler) release(path string) {
	s.mu.Lock()
	delete(s.inFlight, path)
	s.mu.Unlock()
}

// InFlight reports whether path was dispatched and has not finished.
func (s *Scheduler) InFlight(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[path]
}

// Wait blocks until every dispatched ingestion has returned or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
