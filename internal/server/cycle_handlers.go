package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const defaultCycleTimeout = 10 * time.Minute

// CycleHandlers triggers cycles and broker-wide actions on operator request
type CycleHandlers struct {
	cycles  CycleController
	brokers *broker.Registry
	timeout time.Duration
	log     zerolog.Logger
}

// NewCycleHandlers creates cycle handlers
func NewCycleHandlers(cycles CycleController, brokers *broker.Registry, timeout time.Duration, log zerolog.Logger) *CycleHandlers {
	if timeout <= 0 {
		timeout = defaultCycleTimeout
	}
	return &CycleHandlers{
		cycles:  cycles,
		brokers: brokers,
		timeout: timeout,
		log:     log.With().Str("handler", "cycles").Logger(),
	}
}

// RegisterRoutes registers cycle and broker routes
func (h *CycleHandlers) RegisterRoutes(r chi.Router) {
	if h.cycles != nil {
		r.Route("/cycles", func(r chi.Router) {
			r.Post("/run", h.HandleRunCycle)
			r.Get("/last", h.HandleLastReport)
		})
	}
	if h.brokers != nil {
		r.Route("/brokers", func(r chi.Router) {
			r.Get("/", h.HandleListBrokers)
			r.Post("/cancel-all", h.HandleCancelAll)
		})
	}
}

// HandleRunCycle handles POST /api/cycles/run. The cycle runs in the
// background and the call returns 202; with ?wait=true it blocks and
// returns the report.
func (h *CycleHandlers) HandleRunCycle(w http.ResponseWriter, r *http.Request) {
	if h.cycles.IsRunning() {
		writeError(h.log, w, http.StatusConflict, domain.ErrCycleInProgress.Error())
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		report, err := h.cycles.RunCycle(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrCycleInProgress) {
				writeError(h.log, w, http.StatusConflict, err.Error())
				return
			}
			h.log.Error().Err(err).Msg("Manual cycle failed")
			writeError(h.log, w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(h.log, w, http.StatusOK, report)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if _, err := h.cycles.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrCycleInProgress) {
			h.log.Error().Err(err).Msg("Manual cycle failed")
		}
	}()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Trading cycle triggered by operator")
	writeJSON(h.log, w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleLastReport handles GET /api/cycles/last
func (h *CycleHandlers) HandleLastReport(w http.ResponseWriter, r *http.Request) {
	report := h.cycles.LastReport()
	if report == nil {
		writeError(h.log, w, http.StatusNotFound, "no cycle has completed yet")
		return
	}
	writeJSON(h.log, w, http.StatusOK, report)
}

// HandleListBrokers handles GET /api/brokers
func (h *CycleHandlers) HandleListBrokers(w http.ResponseWriter, r *http.Request) {
	kinds := h.brokers.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{"brokers": names})
}

// HandleCancelAll handles POST /api/brokers/cancel-all. It asks every live
// broker to cancel its open orders and reports the ones that failed.
func (h *CycleHandlers) HandleCancelAll(w http.ResponseWriter, r *http.Request) {
	failures := h.brokers.CancelAll(r.Context())

	failed := make(map[string]string, len(failures))
	for name, err := range failures {
		failed[name] = err.Error()
	}

	status := http.StatusOK
	if len(failed) > 0 {
		status = http.StatusBadGateway
	}
	h.log.Warn().Int("failures", len(failed)).Str("remote", r.RemoteAddr).Msg("Cancel-all requested by operator")
	writeJSON(h.log, w, status, map[string]interface{}{"failures": failed})
}
