package repository

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
)

// stored is one appended batch.
type stored struct {
	time    time.Time
	entries []model.Entry
}

// MemoryStore keeps snapshots in process memory.
//
// Batches per cadence are kept in append order. effective maps each distinct
// snapshot time to the index of its most recently appended batch.
type MemoryStore struct {
	mu        sync.RWMutex
	batches   map[cadence.Cadence][]stored
	effective map[cadence.Cadence]map[int64]int
	plays     map[string]int64
	closed    bool
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ CountStore = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:   make(map[cadence.Cadence][]stored),
		effective: make(map[cadence.Cadence]map[int64]int),
		plays:     make(map[string]int64),
	}
}

func key(t time.Time) int64 { return t.UnixMicro() }

// Append validates and copies the batch before publishing it under the lock.
func (s *MemoryStore) Append(_ context.Context, b model.Batch) error {
	if err := ValidateBatch(b); err != nil {
		return err
	}

	ts := UTCMicro(b.SnapshotTime)
	entries := make([]model.Entry, len(b.Entries))
	for i, e := range b.Entries {
		e.SnapshotTime = ts
		if e.PrevRank != nil {
			p := *e.PrevRank
			e.PrevRank = &p
		}
		entries[i] = e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.batches[b.Cadence] = append(s.batches[b.Cadence], stored{time: ts, entries: entries})
	if s.effective[b.Cadence] == nil {
		s.effective[b.Cadence] = make(map[int64]int)
	}
	s.effective[b.Cadence][key(ts)] = len(s.batches[b.Cadence]) - 1
	return nil
}

func (s *MemoryStore) LatestSnapshotTime(_ context.Context, c cadence.Cadence) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	found := false
	for _, b := range s.batches[c] {
		if !found || b.time.After(latest) {
			latest, found = b.time, true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) EntriesAt(_ context.Context, c cadence.Cadence, t time.Time) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.effective[c][key(UTCMicro(t))]
	if !ok {
		return []model.Entry{}, nil
	}
	return cloneEntries(s.batches[c][idx].entries), nil
}

func (s *MemoryStore) MostRecentPriorEntry(_ context.Context, c cadence.Cadence, itemID string, before time.Time) (model.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	before = UTCMicro(before)

	var (
		best  model.Entry
		found bool
	)
	for ts, idx := range s.effective[c] {
		t := time.UnixMicro(ts).UTC()
		if !t.Before(before) || (found && !t.After(best.SnapshotTime)) {
			continue
		}
		for _, e := range s.batches[c][idx].entries {
			if e.ItemID == itemID {
				best, found = e, true
				break
			}
		}
	}
	if !found {
		return model.Entry{}, false, nil
	}
	return cloneEntries([]model.Entry{best})[0], true, nil
}

func (s *MemoryStore) SnapshotTimeBefore(_ context.Context, c cadence.Cadence, before time.Time) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	before = UTCMicro(before)
	var (
		best  time.Time
		found bool
	)
	for _, b := range s.batches[c] {
		if b.time.Before(before) && (!found || b.time.After(best)) {
			best, found = b.time, true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) SnapshotTimes(_ context.Context, c cadence.Cadence, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	times := make([]time.Time, 0, len(s.effective[c]))
	for ts := range s.effective[c] {
		times = append(times, time.UnixMicro(ts).UTC())
	}
	s.mu.RUnlock()

	slices.SortFunc(times, func(a, b time.Time) int { return b.Compare(a) })
	if len(times) > limit {
		times = times[:limit]
	}
	return times, nil
}

func (s *MemoryStore) LoadPlayCounts(context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.plays), nil
}

func (s *MemoryStore) SavePlayCounts(_ context.Context, counts map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	maps.Copy(s.plays, counts)
	return nil
}

// Close marks the store closed; reads keep working.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cloneEntries(in []model.Entry) []model.Entry {
	out := make([]model.Entry, len(in))
	for i, e := range in {
		if e.PrevRank != nil {
			p := *e.PrevRank
			e.PrevRank = &p
		}
		out[i] = e
	}
	return out
}
