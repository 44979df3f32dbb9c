package service

import (
	"time"

	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/app/snapshot"
	"github.com/okian/chartsnap/internal/clock"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/ranking"
	"github.com/okian/chartsnap/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of play workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the play queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many play event ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreDriver selects the snapshot backend opened by Start.
func WithStoreDriver(driver, dsn string, connectTimeout time.Duration) Option {
	return func(s *Service) {
		s.storeDriver = driver
		s.storeDSN = dsn
		s.connectTimeout = connectTimeout
	}
}

// WithStore injects an already opened store. Start then skips OpenStore and
// Stop still closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithCatalogFile loads item metadata from path, reloading on change when
// watch is set.
func WithCatalogFile(path string, watch bool) Option {
	return func(s *Service) {
		s.catalogPath = path
		s.catalogWatch = watch
	}
}

// WithTopN sets the number of entries per snapshot.
func WithTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithTieBreak sets the ordering between equal metric values.
func WithTieBreak(tie ranking.TieBreak) Option {
	return func(s *Service) {
		if tie != nil {
			s.tieBreak = tie
		}
	}
}

// WithPrevRankPolicy selects how previous ranks are resolved.
func WithPrevRankPolicy(p snapshot.PrevRankPolicy) Option {
	return func(s *Service) {
		if p != "" {
			s.prevPolicy = p
		}
	}
}

// WithGate sets when daily and weekly snapshots are due.
func WithGate(g cadence.Gate) Option {
	return func(s *Service) {
		s.gate = g
	}
}

// WithTickInterval sets the scheduler sleep.
func WithTickInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithFireOncePerWindow toggles the repeated-window guard of the scheduler.
func WithFireOncePerWindow(on bool) Option {
	return func(s *Service) {
		s.fireOnce = on
	}
}

// WithClock sets the time source for the scheduler and snapshot times.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithoutScheduler disables the background scheduler; snapshots are then
// only produced by manual triggers.
func WithoutScheduler() Option {
	return func(s *Service) {
		s.schedulerOff = true
	}
}

// WithCountsFlushInterval sets how often changed play counts are written to
// the store. Counts are also flushed on Stop.
func WithCountsFlushInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}
