// Package service wires the chart engine together: play ingestion, the
// metric counter, snapshot computation and scheduling, and chart queries.
// It implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/okian/chartsnap/internal/adapters/catalog"
	"github.com/okian/chartsnap/internal/adapters/counter"
	eventqueue "github.com/okian/chartsnap/internal/adapters/mq/queue"
	workerpool "github.com/okian/chartsnap/internal/adapters/mq/worker"
	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/app/query"
	"github.com/okian/chartsnap/internal/app/scheduler"
	"github.com/okian/chartsnap/internal/app/snapshot"
	"github.com/okian/chartsnap/internal/clock"
	"github.com/okian/chartsnap/internal/config"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/dedupe"
	"github.com/okian/chartsnap/internal/domain/model"
	"github.com/okian/chartsnap/internal/domain/ranking"
	"github.com/okian/chartsnap/pkg/logger"
	"github.com/okian/chartsnap/pkg/metrics"
)

// Service implements the API dependencies for the chart engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	counts    repository.CountStore
	plays     *counter.Plays
	catalog   *catalog.Memory
	deduper   dedupe.Deduper
	queue     *eventqueue.InMemoryQueue
	pool      *workerpool.Pool
	computer  *snapshot.Computer
	scheduler *scheduler.Scheduler
	charts    *query.Facade

	// Configuration
	workerCount    int
	queueSize      int
	dedupeSize     int
	storeDriver    string
	storeDSN       string
	connectTimeout time.Duration
	catalogPath    string
	catalogWatch   bool
	topN           int
	tieBreak       ranking.TieBreak
	prevPolicy     snapshot.PrevRankPolicy
	gate           cadence.Gate
	tickInterval   time.Duration
	fireOnce       bool
	schedulerOff   bool
	flushInterval  time.Duration
	clock          clock.Clock

	// State
	started bool
	cancel  context.CancelFunc
	bg      conc.WaitGroup

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:   runtime.NumCPU(),
		queueSize:     10_000,
		dedupeSize:    100_000,
		storeDriver:   config.DriverMemory,
		topN:          20,
		tieBreak:      ranking.Lexical,
		prevPolicy:    snapshot.PrevRankSnapshot,
		gate:          cadence.DefaultGate(),
		tickInterval:  15 * time.Minute,
		fireOnce:      true,
		flushInterval: 30 * time.Second,
		clock:         clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens storage, loads the catalog and starts the workers and the
// scheduler. Background tasks stop when Stop is called.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting chart service...")

	if s.store == nil {
		store, err := OpenStore(ctx, s.storeDriver, s.storeDSN, s.connectTimeout, s.logger.Named("store"))
		if err != nil {
			return err
		}
		s.store = store
		defer func() {
			if err != nil {
				_ = store.Close()
				s.store = nil
			}
		}()
	}

	s.catalog = catalog.NewMemory()
	if s.catalogPath != "" {
		items, err := catalog.LoadFile(s.catalogPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		s.catalog.Replace(items)
		s.logger.Info(ctx, "catalog loaded", logger.String("path", s.catalogPath), logger.Int("items", len(items)))
	}

	if err := s.loadPlayCounts(ctx); err != nil {
		return err
	}

	computer, err := snapshot.New(s.store, s.playsCounter(),
		snapshot.WithTopN(s.topN),
		snapshot.WithTieBreak(s.tieBreak),
		snapshot.WithPrevRankPolicy(s.prevPolicy),
		snapshot.WithClock(s.clock),
		snapshot.WithLogger(s.logger.Named("snapshot")),
	)
	if err != nil {
		return err
	}
	s.computer = computer
	s.charts = query.New(s.store, s.catalog, s.logger.Named("query"))

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.plays)

	// background tasks outlive the Start call but not Stop
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	if !s.schedulerOff {
		s.scheduler = scheduler.New(s.computer, s.store,
			scheduler.WithGate(s.gate),
			scheduler.WithInterval(s.tickInterval),
			scheduler.WithClock(s.clock),
			scheduler.WithFireOncePerWindow(s.fireOnce),
			scheduler.WithLogger(s.logger.Named("scheduler")),
		)
		s.bg.Go(func() { _ = s.scheduler.Run(runCtx) })
	}
	if s.counts != nil {
		s.bg.Go(func() { s.flushLoop(runCtx) })
	}
	if s.catalogPath != "" && s.catalogWatch {
		path, cat, log := s.catalogPath, s.catalog, s.logger.Named("catalog")
		s.bg.Go(func() {
			if err := catalog.Watch(runCtx, path, cat, log); err != nil {
				log.Error(runCtx, "catalog watcher stopped", logger.Error(err))
			}
		})
	}

	s.started = true
	s.logger.Info(ctx, "chart service started",
		logger.String("store", s.storeDriver),
		logger.Int("topN", s.topN),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// loadPlayCounts restores counters from the store when it keeps them.
func (s *Service) loadPlayCounts(ctx context.Context) error {
	s.counts = nil
	cs, ok := s.store.(repository.CountStore)
	if !ok {
		s.logger.Warn(ctx, "snapshot store does not keep play counts; counts reset on restart")
		return nil
	}
	err := s.playsCounter().Load(ctx, cs)
	switch {
	case errors.Is(err, repository.ErrNoCountStore):
		s.logger.Warn(ctx, "snapshot store does not keep play counts; counts reset on restart")
		return nil
	case err != nil:
		return err
	}
	s.counts = cs
	s.logger.Info(ctx, "play counts restored", logger.Int("items", s.plays.Count()))
	return nil
}

// flushLoop writes changed counts to the store until ctx is done.
func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushPlayCounts(ctx)
		}
	}
}

func (s *Service) flushPlayCounts(ctx context.Context) {
	wrote, err := s.plays.Flush(ctx, s.counts)
	if err != nil {
		metrics.RecordErrorByComponent("counter", "flush")
		s.logger.Warn(ctx, "flushing play counts", logger.Error(err))
		return
	}
	if wrote {
		s.logger.Debug(ctx, "play counts flushed", logger.Int("items", s.plays.Count()))
	}
}

func (s *Service) playsCounter() *counter.Plays {
	if s.plays == nil {
		s.plays = counter.NewPlays()
	}
	return s.plays
}

// Stop drains queued plays, stops background tasks and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping chart service...")

	_ = s.queue.Close()
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}

	s.cancel()
	s.bg.Wait()

	if s.counts != nil {
		s.flushPlayCounts(ctx)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "closing snapshot store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "chart service stopped")
}

// SeenAndRecord atomically checks if a play event id was seen and records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordPlay("duplicate")
	}
	return seen
}

// Unrecord forgets an event id so the play can be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the number of remembered event ids.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits a play for asynchronous counting. It returns
// ErrBackpressure when the queue is full.
func (s *Service) Enqueue(ctx context.Context, e model.PlayEvent) error {
	if s.queue == nil {
		return ErrNotStarted
	}
	if err := s.queue.Enqueue(ctx, e); err != nil {
		if errors.Is(err, eventqueue.ErrFull) {
			return fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return err
	}
	metrics.RecordPlay("accepted")
	s.logger.Debug(ctx, "play enqueued",
		logger.String("eventID", e.EventID),
		logger.String("itemID", e.ItemID),
		logger.Int64("count", e.Count))
	return nil
}

// Leaderboard returns the latest published chart of c.
func (s *Service) Leaderboard(ctx context.Context, c cadence.Cadence) ([]model.ChartRow, error) {
	return s.charts.Leaderboard(ctx, c)
}

// ChartAt returns the chart of c published exactly at t.
func (s *Service) ChartAt(ctx context.Context, c cadence.Cadence, t time.Time) ([]model.ChartRow, error) {
	return s.charts.At(ctx, c, t)
}

// History lists publication times of c, newest first.
func (s *Service) History(ctx context.Context, c cadence.Cadence, limit int) ([]time.Time, error) {
	return s.charts.History(ctx, c, limit)
}

// TriggerSnapshot computes a snapshot of c immediately, bypassing the gate.
func (s *Service) TriggerSnapshot(ctx context.Context, c cadence.Cadence) (model.Batch, error) {
	b, err := s.computer.Compute(ctx, c, snapshot.TriggerManual)
	if err != nil {
		s.logger.Error(ctx, "manual snapshot failed", logger.String("cadence", c.String()), logger.Error(err))
		return model.Batch{}, err
	}
	s.logger.Info(ctx, "manual snapshot published",
		logger.String("cadence", c.String()),
		logger.String("run_id", b.RunID),
		logger.Int("entries", len(b.Entries)))
	return b, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"storeDriver": s.storeDriver,
		"topN":        s.topN,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}

	if s.started {
		queueLen := s.queue.Len()
		tracked := s.plays.Count()

		stats["queueLength"] = queueLen
		stats["trackedItems"] = tracked
		stats["catalogItems"] = s.catalog.Len()
		stats["processedPlays"] = s.pool.Processed()
		stats["seenEvents"] = s.deduper.Size()
		stats["countsPersisted"] = s.counts != nil

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateTrackedItems(tracked)
	}

	return stats
}
