package api

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/chartsnap/pkg/metrics"
)

// snapshotResponse reports a manual run. A run over no tracked items
// persists nothing, so it carries no snapshot time or run id.
type snapshotResponse struct {
	Cadence      string     `json:"cadence"`
	Persisted    bool       `json:"persisted"`
	SnapshotTime *time.Time `json:"snapshot_time,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
	Entries      []chartRow `json:"entries"`
}

// SnapshotHandler runs manual snapshot computations.
type SnapshotHandler struct {
	deps    SnapshotDependencies
	limiter *rate.Limiter
}

// NewSnapshotHandler creates a trigger handler allowing perSecond requests
// with the given burst. A non-positive rate disables throttling.
func NewSnapshotHandler(deps SnapshotDependencies, perSecond float64, burst int) *SnapshotHandler {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &SnapshotHandler{deps: deps, limiter: rate.NewLimiter(limit, max(burst, 1))}
}

// HandleTrigger handles POST /charts/snapshot/{cadence}. The computation runs
// synchronously and its result is returned.
func (h *SnapshotHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	const op = "api.trigger_snapshot"
	c, ok := parseCadence(w, r, op)
	if !ok {
		return
	}
	if !h.limiter.Allow() {
		metrics.RecordTriggerThrottled()
		writeError(w, http.StatusTooManyRequests, "rate_limited", NewKind(op, ErrRateLimited))
		return
	}

	b, err := h.deps.TriggerSnapshot(r.Context(), c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "snapshot_failed", WrapKind(op, ErrInternal, err))
		return
	}

	resp := snapshotResponse{
		Cadence: c.String(),
		Entries: make([]chartRow, 0, len(b.Entries)),
	}
	if len(b.Entries) > 0 {
		t := b.SnapshotTime
		resp.Persisted = true
		resp.SnapshotTime = &t
		resp.RunID = b.RunID
	}
	for _, e := range b.Entries {
		resp.Entries = append(resp.Entries, chartRow{
			ItemID:      e.ItemID,
			Rank:        e.Rank,
			PrevRank:    e.PrevRank,
			RankChange:  e.RankChange(),
			MetricValue: e.MetricValue,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
