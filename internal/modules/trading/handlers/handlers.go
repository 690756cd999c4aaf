// Package handlers provides HTTP handlers for the trade ledger and safety controls.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/modules/trading"
	"github.com/rs/zerolog"
)

// TradeLister reads the ledger
type TradeLister interface {
	ListRecent(limit int) ([]domain.Trade, error)
	ListByAgent(agentID string, limit int) ([]domain.Trade, error)
}

// AgentGetter loads agents for dry-run validation
type AgentGetter interface {
	GetAgent(id string) (*domain.Agent, error)
}

// Emitter publishes typed events
type Emitter interface {
	Emit(module string, data events.EventData)
}

// TradingHandlers contains HTTP handlers for trading API
type TradingHandlers struct {
	tradeRepo     TradeLister
	agentRepo     AgentGetter
	safetyService *trading.SafetyService
	events        Emitter
	log           zerolog.Logger
}

// NewTradingHandlers creates a new trading handlers instance
func NewTradingHandlers(
	tradeRepo TradeLister,
	agentRepo AgentGetter,
	safetyService *trading.SafetyService,
	log zerolog.Logger,
) *TradingHandlers {
	return &TradingHandlers{
		tradeRepo:     tradeRepo,
		agentRepo:     agentRepo,
		safetyService: safetyService,
		log:           log.With().Str("handler", "trading").Logger(),
	}
}

// SetEmitter makes operator actions visible on the event stream
func (h *TradingHandlers) SetEmitter(emitter Emitter) {
	h.events = emitter
}

// HandleGetTrades handles GET /api/trades?agent_id=&limit=
func (h *TradingHandlers) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var (
		trades []domain.Trade
		err    error
	)
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		trades, err = h.tradeRepo.ListByAgent(agentID, limit)
	} else {
		trades, err = h.tradeRepo.ListRecent(limit)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list trades")
		h.writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades, "count": len(trades)})
}

// HandleGetSafetyStatus handles GET /api/safety/status
func (h *TradingHandlers) HandleGetSafetyStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.safetyService.Status())
}

// HandleResetHalt handles POST /api/safety/reset
func (h *TradingHandlers) HandleResetHalt(w http.ResponseWriter, r *http.Request) {
	wasHalted := h.safetyService.IsHalted()
	h.safetyService.ResetHalt()
	if wasHalted && h.events != nil {
		h.events.Emit("trading", &events.HaltClearedData{Source: "operator"})
	}
	h.log.Warn().Str("remote", r.RemoteAddr).Msg("System halt reset by operator")
	h.writeJSON(w, http.StatusOK, h.safetyService.Status())
}

// HandleSetManualApproval handles POST /api/safety/manual-approval {"required": bool}
func (h *TradingHandlers) HandleSetManualApproval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Required *bool `json:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Required == nil {
		h.writeError(w, http.StatusBadRequest, "body must be {\"required\": true|false}")
		return
	}

	h.safetyService.SetManualApproval(*req.Required)
	h.writeJSON(w, http.StatusOK, h.safetyService.Status())
}

// HandleValidateTrade handles POST /api/trade-validation/validate-trade.
// It runs the safety checks as a dry run without executing anything.
func (h *TradingHandlers) HandleValidateTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID  string  `json:"agent_id"`
		Action   string  `json:"action"`
		Symbol   string  `json:"symbol"`
		Quantity float64 `json:"quantity"`
		Price    float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	action := domain.Action(strings.ToUpper(req.Action))
	if !action.Valid() || action == domain.ActionHold || req.Symbol == "" || req.Quantity <= 0 || req.Price <= 0 {
		h.writeError(w, http.StatusBadRequest, "action, symbol, quantity and price are required")
		return
	}

	agent, err := h.agentRepo.GetAgent(req.AgentID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load agent")
		return
	}
	if agent == nil {
		h.writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	verdict := h.safetyService.Validate(r.Context(), trading.TradeRequest{
		Now:      time.Now(),
		Agent:    agent,
		Action:   action,
		Symbol:   strings.ToUpper(req.Symbol),
		Quantity: req.Quantity,
		Price:    req.Price,
	})

	h.writeJSON(w, http.StatusOK, verdict)
}

func (h *TradingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *TradingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
