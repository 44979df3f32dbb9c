// Package ranking orders tracked items by metric value and selects the top N.
//
// Ordering is total: metric value descending, then item id by the configured
// tie-break. Results never depend on map iteration order.
package ranking

import (
	"slices"
	"strconv"
	"strings"
)

// TieBreak orders two distinct item ids with equal metrics. It must be a
// strict total order.
type TieBreak func(a, b string) bool

// Lexical orders ids by byte-wise string comparison.
func Lexical(a, b string) bool { return a < b }

// Numeric orders ids that parse as integers by value. Numeric ids sort before
// non-numeric ones; anything else falls back to Lexical.
func Numeric(a, b string) bool {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		if an != bn {
			return an < bn
		}
		return a < b // "01" vs "1"
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

// TieBreakByName resolves a configured tie-break name.
func TieBreakByName(name string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lexical":
		return Lexical, nil
	case "numeric":
		return Numeric, nil
	default:
		return nil, ErrUnknownTieBreak
	}
}

// Scored is an item id with its metric value.
type Scored struct {
	ItemID string
	Value  int64
}

// Ranked is a Scored item with its 1-based position.
type Ranked struct {
	Scored
	Rank int
}

// Less reports whether a ranks above b.
func Less(a, b Scored, tie TieBreak) bool {
	if a.Value != b.Value {
		return a.Value > b.Value // higher metric ranks earlier
	}
	return tie(a.ItemID, b.ItemID)
}

// TopN returns at most n items from metrics, ranked 1..K contiguously.
func TopN(metrics map[string]int64, n int, tie TieBreak) []Ranked {
	if n <= 0 || len(metrics) == 0 {
		return nil
	}
	if tie == nil {
		tie = Lexical
	}

	items := make([]Scored, 0, len(metrics))
	for id, v := range metrics {
		items = append(items, Scored{ItemID: id, Value: v})
	}
	slices.SortFunc(items, func(a, b Scored) int {
		switch {
		case Less(a, b, tie):
			return -1
		case Less(b, a, tie):
			return 1
		default:
			return 0
		}
	})

	k := min(n, len(items))
	out := make([]Ranked, k)
	for i := range k {
		out[i] = Ranked{Scored: items[i], Rank: i + 1}
	}
	return out
}
