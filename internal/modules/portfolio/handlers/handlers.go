// Package handlers provides HTTP handlers for agent accounts and their open positions.
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/modules/portfolio"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentStore reads and toggles agents
type AgentStore interface {
	GetAgent(id string) (*domain.Agent, error)
	ListAll() ([]domain.Agent, error)
	SetActive(id string, active bool) error
}

// PositionLister reads an agent's open positions
type PositionLister interface {
	ListPositions(agentID string) ([]domain.Position, error)
}

// SessionLocker serializes operator writes with the agent's trading session
type SessionLocker interface {
	WithAgentLock(agentID string, fn func() error) error
}

// AgentSummary is an agent plus its book
type AgentSummary struct {
	domain.Agent
	Positions          []domain.Position `json:"positions"`
	PositionsValue     float64           `json:"positions_value"`
	UnrealizedPnL      float64           `json:"unrealized_pnl"`
	TotalReturnPercent float64           `json:"total_return_percent"`
}

// Handler handles agent and position HTTP requests
type Handler struct {
	agents    AgentStore
	positions PositionLister
	locker    SessionLocker
	log       zerolog.Logger
}

// NewHandler creates a new portfolio handler. locker may be nil.
func NewHandler(agents AgentStore, positions PositionLister, locker SessionLocker, log zerolog.Logger) *Handler {
	return &Handler{
		agents:    agents,
		positions: positions,
		locker:    locker,
		log:       log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleListAgents handles GET /api/agents, ranked by total return
func (h *Handler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.ListAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list agents")
		h.writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	result := make([]AgentSummary, 0, len(agents))
	for i := range agents {
		summary, err := h.summarize(&agents[i])
		if err != nil {
			h.log.Error().Err(err).Str("agent_id", agents[i].ID).Msg("Failed to list positions")
			h.writeError(w, http.StatusInternalServerError, "failed to list positions")
			return
		}
		result = append(result, summary)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TotalReturnPercent > result[j].TotalReturnPercent
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"agents": result, "count": len(result)})
}

// HandleGetAgent handles GET /api/agents/{agentID}
func (h *Handler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, chi.URLParam(r, "agentID"))
	if !ok {
		return
	}

	summary, err := h.summarize(agent)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// HandleGetPositions handles GET /api/agents/{agentID}/positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, chi.URLParam(r, "agentID"))
	if !ok {
		return
	}

	positions, err := h.positions.ListPositions(agent.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions, "count": len(positions)})
}

// HandleSetActive handles POST /api/agents/{agentID}/active {"active": bool}.
// A paused agent keeps its book but is skipped by the trading cycle.
func (h *Handler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		h.writeError(w, http.StatusBadRequest, "body must be {\"active\": true|false}")
		return
	}

	agent, ok := h.loadAgent(w, chi.URLParam(r, "agentID"))
	if !ok {
		return
	}

	set := func() error { return h.agents.SetActive(agent.ID, *req.Active) }
	var err error
	if h.locker != nil {
		err = h.locker.WithAgentLock(agent.ID, set)
	} else {
		err = set()
	}
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", agent.ID).Msg("Failed to update agent")
		h.writeError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}

	h.log.Info().Str("agent_id", agent.ID).Bool("active", *req.Active).Msg("Agent activity changed by operator")
	agent.Active = *req.Active
	h.writeJSON(w, http.StatusOK, agent)
}

func (h *Handler) loadAgent(w http.ResponseWriter, id string) (*domain.Agent, bool) {
	agent, err := h.agents.GetAgent(id)
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", id).Msg("Failed to load agent")
		h.writeError(w, http.StatusInternalServerError, "failed to load agent")
		return nil, false
	}
	if agent == nil {
		h.writeError(w, http.StatusNotFound, "agent not found")
		return nil, false
	}
	return agent, true
}

func (h *Handler) summarize(agent *domain.Agent) (AgentSummary, error) {
	positions, err := h.positions.ListPositions(agent.ID)
	if err != nil {
		return AgentSummary{}, err
	}
	if positions == nil {
		positions = []domain.Position{}
	}

	summary := AgentSummary{
		Agent:              *agent,
		Positions:          positions,
		PositionsValue:     portfolio.AccountValue(0, positions),
		TotalReturnPercent: agent.TotalReturnPercent(),
	}
	for _, p := range positions {
		summary.UnrealizedPnL += p.UnrealizedPnL
	}
	return summary, nil
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
