// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/chartsnap/internal/domain/cadence"
)

// PlayEvent is one consumption of a tracked item reported by a client.
type PlayEvent struct {
	EventID string    // unique id for idempotency
	ItemID  string    // tracked item identifier
	Count   int64     // plays carried by this event, at least 1
	TS      time.Time // receive time
}

// Entry is one ranked row of a persisted snapshot. Entries are immutable.
type Entry struct {
	Cadence      cadence.Cadence
	ItemID       string
	Rank         int
	PrevRank     *int // nil when the item was absent from the prior snapshot
	MetricValue  int64
	SnapshotTime time.Time
	RunID        string
}

// RankChange is PrevRank - Rank; positive means the item moved up.
// It is nil for new entries.
func (e Entry) RankChange() *int {
	if e.PrevRank == nil {
		return nil
	}
	d := *e.PrevRank - e.Rank
	return &d
}

// Batch groups the entries produced by one computation. All entries share
// the batch cadence, snapshot time and run id.
type Batch struct {
	Cadence      cadence.Cadence
	SnapshotTime time.Time
	RunID        string
	Entries      []Entry
}

// ItemMeta is the presentation data kept by the item catalog.
type ItemMeta struct {
	ID              string `json:"id" yaml:"id" toml:"id"`
	Title           string `json:"title" yaml:"title" toml:"title"`
	Artist          string `json:"artist" yaml:"artist" toml:"artist"`
	ArtistID        string `json:"artist_id" yaml:"artist_id" toml:"artist_id"`
	CoverArt        string `json:"cover_art" yaml:"cover_art" toml:"cover_art"`
	AudioRef        string `json:"audio_ref" yaml:"audio_ref" toml:"audio_ref"`
	DurationSeconds int    `json:"duration_seconds" yaml:"duration_seconds" toml:"duration_seconds"`
}

// ChartRow is a snapshot entry joined with catalog metadata.
type ChartRow struct {
	Entry
	Meta ItemMeta
}
