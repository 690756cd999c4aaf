package domain

import "errors"

// Error taxonomy for the trading cycle. Only ErrSystemHalt crosses agent
// boundaries; everything else is isolated to one (agent, symbol) operation.
var (
	ErrValidationRejected    = errors.New("validation rejected")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrBrokerExecutionFailed = errors.New("broker execution failed")
	ErrOrderTimedOut         = errors.New("order timed out")
	ErrNegativeEdge          = errors.New("negative edge")
	ErrSystemHalt            = errors.New("system halt")
	ErrCycleInProgress       = errors.New("trading cycle already in progress")
)
