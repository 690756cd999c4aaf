// Package handlers provides HTTP handlers for market hours operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/arena/internal/modules/market_hours"
	"github.com/rs/zerolog"
)

// Handler handles market hours HTTP requests
type Handler struct {
	service *market_hours.MarketHoursService
	now     func() time.Time
	log     zerolog.Logger
}

// NewHandler creates a new market hours handler
func NewHandler(service *market_hours.MarketHoursService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		now:     time.Now,
		log:     log.With().Str("handler", "market_hours").Logger(),
	}
}

// HandleGetStatus handles GET /api/market-hours/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	status := h.service.GetMarketStatus(now)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": status,
		"metadata": map[string]interface{}{
			"timestamp": now.Format(time.RFC3339),
		},
	})
}

// HandleGetHolidays handles GET /api/market-hours/holidays?year=YYYY
func (h *Handler) HandleGetHolidays(w http.ResponseWriter, r *http.Request) {
	year := h.now().Year()
	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		parsed, err := strconv.Atoi(yearStr)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid year", http.StatusBadRequest)
			return
		}
		year = parsed
	}

	holidays := h.service.Holidays(year)
	dates := make([]string, 0, len(holidays))
	for _, d := range holidays {
		dates = append(dates, d.Format("2006-01-02"))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"exchange": h.service.Exchange(),
			"year":     year,
			"holidays": dates,
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
