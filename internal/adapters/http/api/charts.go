package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/chartsnap/internal/app/query"
	"github.com/okian/chartsnap/internal/domain/model"
)

const defaultHistoryLimit = 20

// chartRow is the wire shape of one chart position.
type chartRow struct {
	ItemID          string `json:"item_id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	ArtistID        string `json:"artist_id"`
	CoverArt        string `json:"cover_art"`
	AudioRef        string `json:"audio_ref"`
	DurationSeconds int    `json:"duration_seconds"`
	Rank            int    `json:"rank"`
	PrevRank        *int   `json:"prev_rank"`
	RankChange      *int   `json:"rank_change"`
	MetricValue     int64  `json:"metric_value"`
}

func toChartRows(rows []model.ChartRow) []chartRow {
	out := make([]chartRow, len(rows))
	for i, r := range rows {
		out[i] = chartRow{
			ItemID:          r.ItemID,
			Title:           r.Meta.Title,
			Artist:          r.Meta.Artist,
			ArtistID:        r.Meta.ArtistID,
			CoverArt:        r.Meta.CoverArt,
			AudioRef:        r.Meta.AudioRef,
			DurationSeconds: r.Meta.DurationSeconds,
			Rank:            r.Rank,
			PrevRank:        r.PrevRank,
			RankChange:      r.RankChange(),
			MetricValue:     r.MetricValue,
		}
	}
	return out
}

type historyResponse struct {
	Cadence       string      `json:"cadence"`
	SnapshotTimes []time.Time `json:"snapshot_times"`
}

// ChartsHandler serves published charts.
type ChartsHandler struct {
	deps     ChartDependencies
	maxLimit int
}

// NewChartsHandler creates a new charts handler.
func NewChartsHandler(deps ChartDependencies, maxLimit int) *ChartsHandler {
	if maxLimit < 1 {
		maxLimit = 100
	}
	return &ChartsHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetChart handles GET /charts/{cadence}[?at=RFC3339] requests.
func (h *ChartsHandler) HandleGetChart(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_chart"
	c, ok := parseCadence(w, r, op)
	if !ok {
		return
	}

	var (
		rows []model.ChartRow
		err  error
	)
	if at := r.URL.Query().Get("at"); at != "" {
		t, perr := time.Parse(time.RFC3339Nano, at)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, perr))
			return
		}
		rows, err = h.deps.ChartAt(r.Context(), c, t)
	} else {
		rows, err = h.deps.Leaderboard(r.Context(), c)
	}

	switch {
	case errors.Is(err, query.ErrSnapshotNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	default:
		writeJSON(w, http.StatusOK, toChartRows(rows))
	}
}

// HandleGetHistory handles GET /charts/{cadence}/history?limit=N requests.
func (h *ChartsHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_chart_history"
	c, ok := parseCadence(w, r, op)
	if !ok {
		return
	}

	n := min(defaultHistoryLimit, h.maxLimit)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		n, err = strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
		return
	}

	times, err := h.deps.History(r.Context(), c, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Cadence: c.String(), SnapshotTimes: times})
}
