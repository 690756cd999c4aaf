package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// CycleStartedData contains data for CycleStarted events
type CycleStartedData struct {
	CycleID string `json:"cycle_id"`
	Agents  int    `json:"agents"`
	Symbols int    `json:"symbols"`
}

// EventType returns the event type for CycleStartedData
func (d *CycleStartedData) EventType() EventType {
	return CycleStarted
}

// CycleCompletedData contains data for CycleCompleted events
type CycleCompletedData struct {
	CycleID     string  `json:"cycle_id"`
	Regime      string  `json:"regime,omitempty"`
	Agents      int     `json:"agents"`
	Trades      int     `json:"trades"`
	Vetoes      int     `json:"vetoes"`
	Failures    int     `json:"failures"`
	DurationSec float64 `json:"duration_sec"`
	Halted      bool    `json:"halted"`
}

// EventType returns the event type for CycleCompletedData
func (d *CycleCompletedData) EventType() EventType {
	return CycleCompleted
}

// TradeExecutedData contains data for TradeExecuted events
type TradeExecutedData struct {
	ExecutedAt  time.Time `json:"executed_at"`
	AgentID     string    `json:"agent_id"`
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	OrderID     string    `json:"order_id,omitempty"`
	Broker      string    `json:"broker"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Total       float64   `json:"total"`
	Commission  float64   `json:"commission"`
	Slippage    float64   `json:"slippage"`
	RealizedPnL float64   `json:"realized_pnl"`
	Forced      bool      `json:"forced,omitempty"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType {
	return TradeExecuted
}

// TradeVetoedData contains data for TradeVetoed events
type TradeVetoedData struct {
	AgentID  string `json:"agent_id"`
	Symbol   string `json:"symbol,omitempty"`
	Action   string `json:"action"`
	Stage    string `json:"stage"` // "validation", "safety", "sizing"
	Reason   string `json:"reason"`
	Severity string `json:"severity,omitempty"`
}

// EventType returns the event type for TradeVetoedData
func (d *TradeVetoedData) EventType() EventType {
	return TradeVetoed
}

// ExitTriggeredData contains data for ExitTriggered events
type ExitTriggeredData struct {
	AgentID  string  `json:"agent_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Reason   string  `json:"reason"`
	Urgency  string  `json:"urgency"`
	PnLPct   float64 `json:"pnl_pct"`
	Executed bool    `json:"executed"`
}

// EventType returns the event type for ExitTriggeredData
func (d *ExitTriggeredData) EventType() EventType {
	return ExitTriggered
}

// OrderTimedOutData contains data for OrderTimedOut events
type OrderTimedOutData struct {
	AgentID  string  `json:"agent_id"`
	Symbol   string  `json:"symbol"`
	Broker   string  `json:"broker"`
	OrderID  string  `json:"order_id,omitempty"`
	Error    string  `json:"error"`
	Quantity float64 `json:"quantity"`
}

// EventType returns the event type for OrderTimedOutData
func (d *OrderTimedOutData) EventType() EventType {
	return OrderTimedOut
}

// SystemHaltedData contains data for SystemHalted events
type SystemHaltedData struct {
	Reason      string  `json:"reason"`
	AgentID     string  `json:"agent_id,omitempty"`
	SystemPnL   float64 `json:"system_pnl"`
	LossCeiling float64 `json:"loss_ceiling"`
}

// EventType returns the event type for SystemHaltedData
func (d *SystemHaltedData) EventType() EventType {
	return SystemHalted
}

// HaltClearedData contains data for HaltCleared events
type HaltClearedData struct {
	Source string `json:"source"` // "rollover" or "operator"
}

// EventType returns the event type for HaltClearedData
func (d *HaltClearedData) EventType() EventType {
	return HaltCleared
}

// MarketStatusData represents one exchange's status
type MarketStatusData struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	Status    string `json:"status"`     // "open", "closed", "pre_open", "post_close"
	OpenTime  string `json:"open_time"`  // "09:30"
	CloseTime string `json:"close_time"` // "16:00"
	Date      string `json:"date"`       // "2024-01-09"
	UpdatedAt string `json:"updated_at"` // ISO 8601 timestamp
}

// MarketsStatusChangedData contains data for MarketsStatusChanged events
type MarketsStatusChangedData struct {
	Markets     map[string]MarketStatusData `json:"markets"` // Keyed by exchange code
	OpenCount   int                         `json:"open_count"`
	ClosedCount int                         `json:"closed_count"`
	LastUpdated string                      `json:"last_updated"`
}

// EventType returns the event type for MarketsStatusChangedData
func (d *MarketsStatusChangedData) EventType() EventType {
	return MarketsStatusChanged
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string  `json:"key"`
	Databases int     `json:"databases"`
	SizeBytes int64   `json:"size_bytes"`
	Duration  float64 `json:"duration_sec"`
	Pruned    int     `json:"pruned"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// DailyRolloverData contains data for DailyRollover events
type DailyRolloverData struct {
	SessionDate  string `json:"session_date"`
	HaltCleared  bool   `json:"halt_cleared"`
	ErrorsBefore int    `json:"errors_before"`
}

// EventType returns the event type for DailyRolloverData
func (d *DailyRolloverData) EventType() EventType {
	return DailyRollover
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// newEventData returns an empty typed payload for t
func newEventData(t EventType) EventData {
	switch t {
	case CycleStarted:
		return &CycleStartedData{}
	case CycleCompleted:
		return &CycleCompletedData{}
	case TradeExecuted:
		return &TradeExecutedData{}
	case TradeVetoed:
		return &TradeVetoedData{}
	case ExitTriggered:
		return &ExitTriggeredData{}
	case OrderTimedOut:
		return &OrderTimedOutData{}
	case SystemHalted:
		return &SystemHaltedData{}
	case HaltCleared:
		return &HaltClearedData{}
	case MarketsStatusChanged:
		return &MarketsStatusChangedData{}
	case BackupCompleted:
		return &BackupCompletedData{}
	case DailyRollover:
		return &DailyRolloverData{}
	case ErrorOccurred:
		return &ErrorEventData{}
	}
	return &GenericEventData{Type: t}
}

// MarshalJSON customizes JSON serialization for Event
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(&e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON restores the typed payload from the event type
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		e.Data = nil
		return nil
	}

	payload := newEventData(aux.Type)
	if err := json.Unmarshal(aux.Data, payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", aux.Type, err)
	}
	e.Data = payload
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
