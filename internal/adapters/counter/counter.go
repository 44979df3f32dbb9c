// Package counter is the metric source: a play counter per item. Counts are
// held in memory and can be restored from and flushed to a Persister.
package counter

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/okian/chartsnap/pkg/metrics"
)

// Sentinel errors.
var (
	ErrEmptyItemID   = errors.New("item id must not be empty")
	ErrInvalidAmount = errors.New("play amount must be positive")
	ErrOverflow      = errors.New("play count overflow")
)

// Source reports the current metric value of every tracked item.
type Source interface {
	// ReadAll returns a point-in-time copy of all counters.
	ReadAll(ctx context.Context) (map[string]int64, error)
}

// Persister keeps play counts across restarts.
type Persister interface {
	LoadPlayCounts(ctx context.Context) (map[string]int64, error)
	SavePlayCounts(ctx context.Context, counts map[string]int64) error
}

// Plays counts plays per item. It is safe for concurrent use.
type Plays struct {
	mu     sync.RWMutex
	counts map[string]int64
	// version bumps on every change; saved is the version last flushed.
	version uint64
	saved   uint64
}

var _ Source = (*Plays)(nil)

// NewPlays returns an empty counter.
func NewPlays() *Plays {
	return &Plays{counts: make(map[string]int64)}
}

// Increment adds delta plays to itemID and returns the new total. An
// increment that would exceed math.MaxInt64 is rejected with ErrOverflow and
// leaves the count unchanged.
func (p *Plays) Increment(_ context.Context, itemID string, delta int64) (int64, error) {
	if itemID == "" {
		return 0, ErrEmptyItemID
	}
	if delta <= 0 {
		return 0, ErrInvalidAmount
	}
	p.mu.Lock()
	current := p.counts[itemID]
	if delta > math.MaxInt64-current {
		p.mu.Unlock()
		return current, ErrOverflow
	}
	total := current + delta
	p.counts[itemID] = total
	p.version++
	n := len(p.counts)
	p.mu.Unlock()

	metrics.UpdateTrackedItems(n)
	return total, nil
}

// Value returns the count for itemID.
func (p *Plays) Value(itemID string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[itemID]
}

// Count returns the number of tracked items.
func (p *Plays) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.counts)
}

func (p *Plays) ReadAll(_ context.Context) (map[string]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.counts), nil
}

// Restore replaces all counts with counts. Negative values and empty ids are
// dropped.
func (p *Plays) Restore(counts map[string]int64) {
	next := make(map[string]int64, len(counts))
	for id, v := range counts {
		if id != "" && v >= 0 {
			next[id] = v
		}
	}
	p.mu.Lock()
	p.counts = next
	p.version++
	n := len(next)
	p.mu.Unlock()
	metrics.UpdateTrackedItems(n)
}

// Load restores the counts held by src. The loaded state counts as flushed.
func (p *Plays) Load(ctx context.Context, src Persister) error {
	counts, err := src.LoadPlayCounts(ctx)
	if err != nil {
		return fmt.Errorf("load play counts: %w", err)
	}
	p.Restore(counts)
	p.mu.Lock()
	p.saved = p.version
	p.mu.Unlock()
	return nil
}

// Flush writes the current counts to dst when they changed since the last
// successful flush. It reports whether anything was written.
func (p *Plays) Flush(ctx context.Context, dst Persister) (bool, error) {
	p.mu.RLock()
	if p.version == p.saved {
		p.mu.RUnlock()
		return false, nil
	}
	version := p.version
	counts := maps.Clone(p.counts)
	p.mu.RUnlock()

	if err := dst.SavePlayCounts(ctx, counts); err != nil {
		return false, fmt.Errorf("save play counts: %w", err)
	}

	p.mu.Lock()
	if version > p.saved {
		p.saved = version
	}
	p.mu.Unlock()
	return true, nil
}

// Static is a fixed metric source, handy for tests and one-off runs.
type Static map[string]int64

func (s Static) ReadAll(context.Context) (map[string]int64, error) {
	return maps.Clone(map[string]int64(s)), nil
}
