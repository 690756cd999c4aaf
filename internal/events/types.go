// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Cycle lifecycle
	CycleStarted   EventType = "CYCLE_STARTED"
	CycleCompleted EventType = "CYCLE_COMPLETED"

	// Per-agent trading outcomes
	TradeExecuted EventType = "TRADE_EXECUTED"
	TradeVetoed   EventType = "TRADE_VETOED"
	ExitTriggered EventType = "EXIT_TRIGGERED"
	OrderTimedOut EventType = "ORDER_TIMED_OUT"

	// Safety
	SystemHalted EventType = "SYSTEM_HALTED"
	HaltCleared  EventType = "HALT_CLEARED"

	// Infrastructure
	MarketsStatusChanged EventType = "MARKETS_STATUS_CHANGED"
	BackupCompleted      EventType = "BACKUP_COMPLETED"
	DailyRollover        EventType = "DAILY_ROLLOVER"
	ErrorOccurred        EventType = "ERROR_OCCURRED"
)

// Event is one emitted occurrence with typed data
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
}

// Handler receives events from the bus
type Handler func(Event)
