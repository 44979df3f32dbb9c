package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/chartsnap/internal/adapters/mq/queue"
	"github.com/okian/chartsnap/internal/domain/model"
)

// maxPlayCount bounds the plays a single event may carry.
const maxPlayCount = 1_000_000

// playRequest mirrors the OpenAPI schema for POST /plays.
type playRequest struct {
	EventID string `json:"event_id"`
	ItemID  string `json:"item_id"`
	Count   *int64 `json:"count"`
}

func (p playRequest) validate() error {
	switch {
	case strings.TrimSpace(p.ItemID) == "":
		return errors.New("missing item_id")
	case p.Count != nil && *p.Count < 1:
		return errors.New("count must be at least 1")
	case p.Count != nil && *p.Count > maxPlayCount:
		return fmt.Errorf("count must not exceed %d", maxPlayCount)
	}
	return nil
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// PlaysHandler accepts play events.
type PlaysHandler struct {
	deps PlayDependencies
}

// NewPlaysHandler creates a new plays handler.
func NewPlaysHandler(deps PlayDependencies) *PlaysHandler {
	return &PlaysHandler{deps: deps}
}

// HandlePostPlay handles POST /plays requests.
func (h *PlaysHandler) HandlePostPlay(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_play"
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	event := model.PlayEvent{
		EventID: strings.TrimSpace(req.EventID),
		ItemID:  strings.TrimSpace(req.ItemID),
		Count:   1,
		TS:      time.Now().UTC(),
	}
	if req.Count != nil {
		event.Count = *req.Count
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	// Idempotency check - mark as seen first
	if h.deps.SeenAndRecord(r.Context(), event.EventID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: event.EventID, Duplicate: true})
		return
	}

	if err := h.deps.Enqueue(r.Context(), event); err != nil {
		// Rollback the "seen" status since enqueue failed
		h.deps.Unrecord(r.Context(), event.EventID)
		if errors.Is(err, queue.ErrFull) {
			writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: event.EventID})
}
