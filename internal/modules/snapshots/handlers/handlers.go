// Package handlers provides HTTP handlers for performance snapshots.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/arena/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SnapshotReader reads recorded snapshots
type SnapshotReader interface {
	Latest() ([]domain.PerformanceSnapshot, error)
	ListByAgent(agentID string, limit int) ([]domain.PerformanceSnapshot, error)
}

// ContextSource returns the most recent market context, or nil
type ContextSource interface {
	LatestContext() *domain.MarketContext
}

// Handler handles snapshot HTTP requests
type Handler struct {
	snapshots SnapshotReader
	contexts  ContextSource
	log       zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(snapshots SnapshotReader, contexts ContextSource, log zerolog.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		contexts:  contexts,
		log:       log.With().Str("handler", "snapshots").Logger(),
	}
}

// HandleGetLatest handles GET /api/snapshots/latest
func (h *Handler) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.snapshots.Latest()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get latest snapshots")
		h.writeError(w, http.StatusInternalServerError, "failed to get snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []domain.PerformanceSnapshot{}
	}
	h.writeJSON(w, http.StatusOK, snapshots)
}

// HandleGetAgentHistory handles GET /api/snapshots/agents/{agentID}?limit=
func (h *Handler) HandleGetAgentHistory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	snapshots, err := h.snapshots.ListByAgent(agentID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", agentID).Msg("Failed to get snapshot history")
		h.writeError(w, http.StatusInternalServerError, "failed to get snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []domain.PerformanceSnapshot{}
	}
	h.writeJSON(w, http.StatusOK, snapshots)
}

// HandleGetMarketContext handles GET /api/snapshots/market-context
func (h *Handler) HandleGetMarketContext(w http.ResponseWriter, r *http.Request) {
	var mctx *domain.MarketContext
	if h.contexts != nil {
		mctx = h.contexts.LatestContext()
	}
	if mctx == nil {
		h.writeError(w, http.StatusNotFound, "no market context built yet")
		return
	}
	h.writeJSON(w, http.StatusOK, mctx)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
