package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/events"
	"github.com/rs/zerolog"
)

const (
	clientBuffer      = 100
	heartbeatInterval = 30 * time.Second
)

// EventSource is the event manager as the stream sees it
type EventSource interface {
	Bus() *events.Bus
	Recent(limit int) []events.Event
}

// EventsStreamHandler streams bus events to clients over Server-Sent Events.
// It subscribes to the bus once and fans out to connected clients.
type EventsStreamHandler struct {
	source  EventSource
	clients map[chan events.Event]struct{}
	closed  chan struct{}
	log     zerolog.Logger
	mu      sync.RWMutex
	once    sync.Once
}

// NewEventsStreamHandler creates the stream handler and subscribes it to the bus
func NewEventsStreamHandler(source EventSource, log zerolog.Logger) *EventsStreamHandler {
	h := &EventsStreamHandler{
		source:  source,
		clients: make(map[chan events.Event]struct{}),
		closed:  make(chan struct{}),
		log:     log.With().Str("component", "events_stream").Logger(),
	}
	source.Bus().SubscribeAll(h.broadcast)
	return h
}

// Close disconnects every client
func (h *EventsStreamHandler) Close() {
	h.once.Do(func() { close(h.closed) })
}

// Clients returns the number of connected clients
func (h *EventsStreamHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventsStreamHandler) broadcast(event events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

func (h *EventsStreamHandler) register() chan events.Event {
	ch := make(chan events.Event, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventsStreamHandler) unregister(ch chan events.Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ServeHTTP handles GET /api/events/stream?types=TradeExecuted,SystemHalted
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var allowed map[events.EventType]bool
	if filter := r.URL.Query().Get("types"); filter != "" {
		allowed = make(map[events.EventType]bool)
		for _, t := range strings.Split(filter, ",") {
			allowed[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	ch := h.register()
	defer h.unregister(ch)
	h.log.Debug().Int("clients", h.Clients()).Msg("Client connected to event stream")

	h.send(w, flusher, map[string]interface{}{"type": "connected"})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Msg("Client disconnected from event stream")
			return
		case <-h.closed:
			return
		case event := <-ch:
			if allowed != nil && !allowed[event.Type] {
				continue
			}
			h.send(w, flusher, event)
		case now := <-heartbeat.C:
			h.send(w, flusher, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": now.Format(time.RFC3339),
			})
		}
	}
}

// HandleRecent handles GET /api/events/recent?limit=50
func (h *EventsStreamHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(h.log, w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	recent := h.source.Recent(limit)
	if recent == nil {
		recent = []events.Event{}
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{"events": recent, "count": len(recent)})
}

func (h *EventsStreamHandler) send(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
