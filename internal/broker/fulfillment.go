// Package broker holds the order fulfillment state machine shared by every
// live adapter and the registry that maps agents to brokers.
package broker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/arena/internal/domain"
)

// OrderState is a node of the fulfillment state machine:
// Submitted -> Polling -> {Filled | Rejected | Cancelled | TimedOut}
type OrderState string

const (
	StateSubmitted OrderState = "submitted"
	StatePolling   OrderState = "polling"
	StateFilled    OrderState = "filled"
	StateRejected  OrderState = "rejected"
	StateCancelled OrderState = "cancelled"
	StateTimedOut  OrderState = "timed_out"
)

// Terminal reports whether polling stops at this state
func (s OrderState) Terminal() bool {
	return s == StateFilled || s == StateRejected || s == StateCancelled || s == StateTimedOut
}

// Progress is what an adapter extracts from its own order status payload
type Progress struct {
	State      OrderState
	Reason     string
	Price      float64 // average fill price
	Quantity   float64 // cumulative filled quantity
	Commission float64
}

// Order describes one submission. S is the adapter's status payload type.
type Order[S any] struct {
	// Quote returns the reference price taken just before submission. Optional.
	Quote func(ctx context.Context) (float64, error)
	// Submit places the order and returns the broker's order ID
	Submit func(ctx context.Context) (string, error)
	// FetchStatus loads the current status payload for the order
	FetchStatus func(ctx context.Context, orderID string) (S, error)
	// ExtractFill classifies a status payload
	ExtractFill func(status S) Progress

	Broker   string
	Symbol   string
	Quantity float64
}

// Fulfill drives an order from submission to a terminal state. It never
// panics and never returns an error: every failure is an ExecutionResult.
func Fulfill[S any](ctx context.Context, policy RetryPolicy, order Order[S]) (result domain.ExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = domain.FailedExecution(order.Broker, order.Quantity, fmt.Sprintf("order handling panicked: %v", r))
		}
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}()

	var reference float64
	if order.Quote != nil {
		price, err := order.Quote(ctx)
		if err != nil {
			return domain.FailedExecution(order.Broker, order.Quantity, fmt.Sprintf("failed to get reference price for %s: %v", order.Symbol, err))
		}
		reference = price
	}

	orderID, err := order.Submit(ctx)
	if err != nil {
		return domain.FailedExecution(order.Broker, order.Quantity, fmt.Sprintf("failed to submit order for %s: %v", order.Symbol, err))
	}

	var (
		last    Progress
		lastErr error
	)
	for attempt := 0; attempt < policy.Attempts(); attempt++ {
		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			lastErr = err
			break
		}

		status, err := order.FetchStatus(ctx, orderID)
		if err != nil {
			lastErr = err
			continue
		}

		last = order.ExtractFill(status)
		switch last.State {
		case StateFilled:
			return filled(order, orderID, reference, last)

		case StateCancelled:
			if last.Quantity > 0 {
				return filled(order, orderID, reference, last)
			}
			res := domain.FailedExecution(order.Broker, order.Quantity, cancelReason(last.Reason))
			res.OrderID = orderID
			res.ReferencePrice = reference
			return res

		case StateRejected, StateTimedOut:
			reason := last.Reason
			if reason == "" {
				reason = fmt.Sprintf("order %s %s", orderID, last.State)
			}
			res := domain.FailedExecution(order.Broker, order.Quantity, reason)
			res.OrderID = orderID
			res.ReferencePrice = reference
			return res
		}
	}

	msg := fmt.Sprintf("%s: order %s not filled after %d status checks, it may still fill", domain.ErrOrderTimedOut, orderID, policy.Attempts())
	if lastErr != nil {
		msg += fmt.Sprintf(" (last error: %v)", lastErr)
	}
	return domain.ExecutionResult{
		OrderID:           orderID,
		OrderStatus:       domain.OrderPending,
		Error:             msg,
		Broker:            order.Broker,
		RequestedQuantity: order.Quantity,
		ReferencePrice:    reference,
		ExecutedQuantity:  math.Min(last.Quantity, order.Quantity),
		ExecutedPrice:     last.Price,
	}
}

func filled[S any](order Order[S], orderID string, reference float64, p Progress) domain.ExecutionResult {
	qty := p.Quantity
	if qty <= 0 || qty > order.Quantity {
		qty = order.Quantity
	}
	price := p.Price
	if price <= 0 {
		price = reference
	}

	var slippage float64
	if reference > 0 {
		slippage = domain.RoundCents(math.Abs(price-reference) * qty)
	}

	return domain.ExecutionResult{
		OrderID:           orderID,
		OrderStatus:       domain.OrderFilled,
		Broker:            order.Broker,
		ExecutedPrice:     price,
		ExecutedQuantity:  qty,
		RequestedQuantity: order.Quantity,
		ReferencePrice:    reference,
		Commission:        math.Max(0, p.Commission),
		Slippage:          slippage,
		Success:           true,
	}
}

func cancelReason(reason string) string {
	if reason == "" {
		return "order cancelled"
	}
	return "order cancelled: " + reason
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
