package snapshot

import (
	"github.com/okian/chartsnap/internal/clock"
	"github.com/okian/chartsnap/internal/domain/ranking"
	"github.com/okian/chartsnap/pkg/logger"
)

// Option applies a configuration option to the Computer.
type Option func(*Computer)

// WithTopN sets the number of entries kept per snapshot.
func WithTopN(n int) Option {
	return func(c *Computer) {
		c.topN = n
	}
}

// WithTieBreak sets the item id ordering used between equal metric values.
func WithTieBreak(tie ranking.TieBreak) Option {
	return func(c *Computer) {
		if tie != nil {
			c.tie = tie
		}
	}
}

// WithPrevRankPolicy selects how previous ranks are resolved.
func WithPrevRankPolicy(p PrevRankPolicy) Option {
	return func(c *Computer) {
		if p != "" {
			c.policy = p
		}
	}
}

// WithClock sets the time source for snapshot times.
func WithClock(clk clock.Clock) Option {
	return func(c *Computer) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Computer) {
		if l != nil {
			c.logger = l
		}
	}
}
