package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CHARTSNAP_"

// EnvConfigFile names the variable holding an optional YAML config path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if CHARTSNAP_CONFIG is set
//  3. env (prefix CHARTSNAP_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// CHARTSNAP_TOP_N -> top_n (flat keys, underscores preserved).
	prefix := strings.ToLower(EnvPrefix)
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, prefix)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.TopN <= 0:
		return invalid("top_n must be positive, got %d", c.TopN)
	case c.TickInterval <= 0:
		return invalid("tick_interval must be positive, got %s", c.TickInterval)
	case c.ResetHour < 0 || c.ResetHour > 23:
		return invalid("reset_hour must be within 0..23, got %d", c.ResetHour)
	case c.EventQueueSize <= 0:
		return invalid("queue_size must be positive")
	case c.WorkerCount <= 0:
		return invalid("worker_count must be positive")
	case c.TriggerRate <= 0 || c.TriggerBurst <= 0:
		return invalid("trigger_rate and trigger_burst must be positive")
	case c.CountsFlushInterval <= 0:
		return invalid("counts_flush_interval must be positive, got %s", c.CountsFlushInterval)
	case c.MetricsNamespace == "":
		return invalid("metrics_namespace must not be empty")
	}
	for i := 1; i < len(c.MetricsBuckets); i++ {
		if c.MetricsBuckets[i] <= c.MetricsBuckets[i-1] {
			return invalid("metrics_buckets_ms must be strictly increasing")
		}
	}

	if _, err := c.Weekday(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return invalid("timezone %q: %v", c.Timezone, err)
	}

	switch c.TieBreak {
	case "lexical", "numeric":
	default:
		return invalid("tie_break must be lexical or numeric, got %q", c.TieBreak)
	}
	switch c.PrevRankPolicy {
	case "snapshot", "item":
	default:
		return invalid("prev_rank_policy must be snapshot or item, got %q", c.PrevRankPolicy)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverClickHouse:
		if c.StoreDSN == "" {
			return invalid("store_dsn is required for driver %s", c.StoreDriver)
		}
	default:
		return invalid("unknown store_driver %q", c.StoreDriver)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, invalid("unknown reset_weekday %q", s)
	}
	return d, nil
}
