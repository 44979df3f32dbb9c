// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/dedupe"
	"github.com/okian/chartsnap/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	PlayDependencies
	ChartDependencies
	SnapshotDependencies
}

// PlayDependencies accept plays for asynchronous counting.
type PlayDependencies interface {
	dedupe.Deduper

	// Enqueue pushes a play for async processing. It fails on backpressure.
	Enqueue(ctx context.Context, e model.PlayEvent) error
}

// ChartDependencies expose published charts.
type ChartDependencies interface {
	Leaderboard(ctx context.Context, c cadence.Cadence) ([]model.ChartRow, error)
	ChartAt(ctx context.Context, c cadence.Cadence, t time.Time) ([]model.ChartRow, error)
	History(ctx context.Context, c cadence.Cadence, limit int) ([]time.Time, error)
}

// SnapshotDependencies compute snapshots on demand.
type SnapshotDependencies interface {
	TriggerSnapshot(ctx context.Context, c cadence.Cadence) (model.Batch, error)
}

// Config tunes handler limits.
type Config struct {
	// MaxHistoryLimit caps ?limit= on the history endpoint.
	MaxHistoryLimit int
	// TriggerRate and TriggerBurst throttle manual snapshot triggers.
	TriggerRate  float64
	TriggerBurst int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	playsHandler    *PlaysHandler
	chartsHandler   *ChartsHandler
	snapshotHandler *SnapshotHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, cfg Config) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		playsHandler:    NewPlaysHandler(deps),
		chartsHandler:   NewChartsHandler(deps, cfg.MaxHistoryLimit),
		snapshotHandler: NewSnapshotHandler(deps, cfg.TriggerRate, cfg.TriggerBurst),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /plays", MetricsMiddleware(s.playsHandler.HandlePostPlay, "plays"))
	mux.HandleFunc("GET /charts/{cadence}", MetricsMiddleware(s.chartsHandler.HandleGetChart, "charts"))
	mux.HandleFunc("GET /charts/{cadence}/history", MetricsMiddleware(s.chartsHandler.HandleGetHistory, "charts_history"))
	mux.HandleFunc("POST /charts/snapshot/{cadence}", MetricsMiddleware(s.snapshotHandler.HandleTrigger, "charts_snapshot"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// parseCadence reads the {cadence} path value, writing a 400 on failure.
func parseCadence(w http.ResponseWriter, r *http.Request, op string) (cadence.Cadence, bool) {
	c, err := cadence.Parse(r.PathValue("cadence"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cadence", WrapKind(op, ErrBadRequest, err))
		return "", false
	}
	return c, true
}
