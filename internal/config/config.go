// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New(ctx) initializer to build a Config with defaults.
//   - Keys are flat snake_case so env vars map onto them one to one.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"runtime"
	"time"
)

// Store drivers.
const (
	DriverMemory     = "memory"
	DriverSQLite     = "sqlite"
	DriverPostgres   = "postgres"
	DriverClickHouse = "clickhouse"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text, json or pretty.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// TopN is the maximum number of entries per snapshot.
	TopN int `koanf:"top_n"`

	// TieBreak orders items with equal metrics: lexical or numeric.
	TieBreak string `koanf:"tie_break"`

	// PrevRankPolicy chooses where prior ranks come from: snapshot or item.
	PrevRankPolicy string `koanf:"prev_rank_policy"`

	// TickInterval is the scheduler sleep between ticks.
	TickInterval time.Duration `koanf:"tick_interval"`

	// ResetHour is the hour (0-23) at which daily and weekly charts fire.
	ResetHour int `koanf:"reset_hour"`

	// ResetWeekday names the weekly chart day, e.g. "sunday".
	ResetWeekday string `koanf:"reset_weekday"`

	// Timezone is the IANA zone used for gate evaluation.
	Timezone string `koanf:"timezone"`

	// FireOncePerWindow suppresses repeat daily/weekly runs inside one reset hour.
	FireOncePerWindow bool `koanf:"fire_once_per_window"`

	// StoreDriver selects the snapshot store backend.
	StoreDriver string `koanf:"store_driver"`

	// StoreDSN is the backend connection string (a file path for sqlite).
	StoreDSN string `koanf:"store_dsn"`

	// StoreConnectTimeout bounds the retry budget when opening the store.
	StoreConnectTimeout time.Duration `koanf:"store_connect_timeout"`

	// CatalogPath points at a YAML or TOML item catalog.
	CatalogPath string `koanf:"catalog_path"`

	// CatalogWatch reloads the catalog when the file changes.
	CatalogWatch bool `koanf:"catalog_watch"`

	// EventQueueSize bounds the in-memory play queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of play workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the play deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// TriggerRate and TriggerBurst throttle manual snapshot triggers (per second).
	TriggerRate  float64 `koanf:"trigger_rate"`
	TriggerBurst int     `koanf:"trigger_burst"`

	// MaxHistoryLimit caps GET /charts/{cadence}/history?limit.
	MaxHistoryLimit int `koanf:"max_history_limit"`

	// CountsFlushInterval is how often play counts are written to the store.
	CountsFlushInterval time.Duration `koanf:"counts_flush_interval"`

	// MetricsNamespace and MetricsSubsystem prefix every Prometheus series.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`

	// MetricsBuckets overrides the latency histogram buckets (milliseconds).
	MetricsBuckets []float64 `koanf:"metrics_buckets_ms"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		TopN:                20,
		TieBreak:            "lexical",
		PrevRankPolicy:      "snapshot",
		TickInterval:        15 * time.Minute,
		ResetHour:           0,
		ResetWeekday:        "sunday",
		Timezone:            "UTC",
		FireOncePerWindow:   true,
		StoreDriver:         DriverMemory,
		StoreConnectTimeout: 30 * time.Second,
		CatalogWatch:        true,
		EventQueueSize:      10_000,
		WorkerCount:         runtime.NumCPU(),
		DedupeSize:          100_000,
		TriggerRate:         1,
		TriggerBurst:        3,
		MaxHistoryLimit:     100,
		CountsFlushInterval: 30 * time.Second,
		MetricsNamespace:    "chartsnap",
		MetricsSubsystem:    "charts",
	}
}

// Location resolves Timezone, falling back to UTC for an empty value.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Weekday resolves ResetWeekday.
func (c *Config) Weekday() (time.Weekday, error) {
	return parseWeekday(c.ResetWeekday)
}
