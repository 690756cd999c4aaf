package tradernet

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	cacheStaleThreshold = 5 * time.Minute
)

// Emitter publishes domain events
type Emitter interface {
	Emit(module string, data events.EventData)
}

// wsMarket is one exchange entry on the markets channel
type wsMarket struct {
	Code      string `json:"n"`
	Name      string `json:"n2"`
	Status    string `json:"s"`
	OpenTime  string `json:"o"`
	CloseTime string `json:"c"`
	Date      string `json:"dt"`
}

type wsMarketData struct {
	Timestamp string     `json:"t"`
	Markets   []wsMarket `json:"m"`
}

// MarketStream keeps a live cache of exchange status from the Tradernet
// websocket and reconnects with exponential backoff when dropped.
type MarketStream struct {
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
	cancelFunc context.CancelFunc
	emitter    Emitter
	log        zerolog.Logger
	stopChan   chan struct{}
	now        func() time.Time
	baseDelay  time.Duration

	markets    map[string]events.MarketStatusData
	lastUpdate time.Time

	mu           sync.RWMutex
	cacheMu      sync.RWMutex
	connected    bool
	reconnecting bool
	stopped      bool
}

// createHTTP1Client forces HTTP/1.1. Cloudflare negotiates HTTP/2 via ALPN
// otherwise, and the websocket upgrade needs HTTP/1.1.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewMarketStream creates a stream for url. emitter may be nil.
func NewMarketStream(url string, emitter Emitter, log zerolog.Logger) *MarketStream {
	return &MarketStream{
		url:        url,
		httpClient: createHTTP1Client(),
		emitter:    emitter,
		log:        log.With().Str("component", "tradernet_market_stream").Logger(),
		stopChan:   make(chan struct{}),
		now:        time.Now,
		baseDelay:  baseReconnectDelay,
		markets:    make(map[string]events.MarketStatusData),
	}
}

// Start connects and begins reading. A failed first dial is retried in
// the background and still reported to the caller.
func (s *MarketStream) Start() error {
	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial websocket connection failed, retrying in background")
		go s.reconnectLoop()
		return err
	}
	s.log.Info().Msg("Market stream started")
	return nil
}

// Stop closes the connection and ends reconnection
func (s *MarketStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
	return s.disconnect()
}

func (s *MarketStream) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPClient: s.httpClient})
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	if err := subscribe(connCtx, conn); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return fmt.Errorf("failed to subscribe to markets: %w", err)
	}

	s.conn = conn
	s.cancelFunc = connCancel
	s.connected = true
	go s.readMessages(connCtx, conn)
	return nil
}

func (s *MarketStream) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connected = false
	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

func subscribe(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal([]string{"markets"})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *MarketStream) readMessages(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.connected = false
		}
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		msgType, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				s.log.Info().Int("status", int(status)).Msg("Websocket closed")
			case ctx.Err() != nil:
				s.log.Debug().Msg("Read cancelled")
			default:
				s.log.Error().Err(err).Msg("Unexpected websocket read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Str("message", string(message)).Msg("Failed to handle websocket message")
		}
	}
}

// handleMessage parses ["channel", payload] frames
func (s *MarketStream) handleMessage(message []byte) error {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("failed to parse message array: %w", err)
	}
	if len(frame) < 2 {
		return fmt.Errorf("message array too short: expected 2 elements, got %d", len(frame))
	}

	var channel string
	if err := json.Unmarshal(frame[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}
	if channel != "markets" {
		return nil
	}

	var data wsMarketData
	if err := json.Unmarshal(frame[1], &data); err != nil {
		return fmt.Errorf("failed to parse market data: %w", err)
	}
	s.applyUpdate(data)
	return nil
}

func (s *MarketStream) applyUpdate(data wsMarketData) {
	if len(data.Markets) == 0 {
		return
	}

	now := s.now()
	s.cacheMu.Lock()
	for _, m := range data.Markets {
		code := strings.ToUpper(m.Code)
		s.markets[code] = events.MarketStatusData{
			Name:      m.Name,
			Code:      code,
			Status:    strings.ToLower(m.Status),
			OpenTime:  m.OpenTime,
			CloseTime: m.CloseTime,
			Date:      m.Date,
			UpdatedAt: now.Format(time.RFC3339),
		}
	}
	s.lastUpdate = now
	snapshot := make(map[string]events.MarketStatusData, len(s.markets))
	for k, v := range s.markets {
		snapshot[k] = v
	}
	s.cacheMu.Unlock()

	if s.emitter == nil {
		return
	}
	payload := &events.MarketsStatusChangedData{Markets: snapshot, LastUpdated: now.Format(time.RFC3339)}
	for _, m := range snapshot {
		if m.Status == "open" {
			payload.OpenCount++
		} else {
			payload.ClosedCount++
		}
	}
	s.emitter.Emit("tradernet_market_stream", payload)
}

func (s *MarketStream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		delay := backoff(s.baseDelay, attempt)
		ev := s.log.Info()
		if attempt > maxReconnectAttempts {
			ev = s.log.Warn()
		}
		ev.Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting market stream")

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnection failed")
			continue
		}
		s.log.Info().Int("attempt", attempt).Msg("Market stream reconnected")
		return
	}
}

// backoff doubles base per attempt, capped at maxReconnectDelay
func backoff(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// MarketStatus returns the cached status of an exchange. ok is false when
// the exchange is unknown or the cache has gone stale.
func (s *MarketStream) MarketStatus(code string) (events.MarketStatusData, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if s.lastUpdate.IsZero() || s.now().Sub(s.lastUpdate) > cacheStaleThreshold {
		return events.MarketStatusData{}, false
	}
	m, ok := s.markets[strings.ToUpper(code)]
	return m, ok
}

// Markets returns a copy of the cache
func (s *MarketStream) Markets() map[string]events.MarketStatusData {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	out := make(map[string]events.MarketStatusData, len(s.markets))
	for k, v := range s.markets {
		out[k] = v
	}
	return out
}

// IsConnected reports whether a websocket is currently open
func (s *MarketStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
