package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/arena/internal/domain"
	testingpkg "github.com/aristath/arena/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRegistry(t *testing.T) {
	sim := &testingpkg.MockBroker{}
	sim.On("Name").Return("simulator")
	alpaca := &testingpkg.MockBroker{}
	alpaca.On("Name").Return("alpaca")
	alpaca.On("CancelAllOrders", mock.Anything).Return(nil)
	tradier := &testingpkg.MockBroker{}
	tradier.On("Name").Return("tradier")
	tradier.On("CancelAllOrders", mock.Anything).Return(errors.New("401"))

	r := NewRegistry(sim, zerolog.New(nil).Level(zerolog.Disabled))
	r.Register(domain.BrokerTradier, tradier)
	r.Register(domain.BrokerAlpaca, alpaca)

	assert.Same(t, alpaca, r.For(domain.BrokerAlpaca))
	assert.Same(t, sim, r.For(domain.BrokerSchwab))
	assert.Same(t, sim, r.For(domain.BrokerSimulator))
	assert.Equal(t, []domain.BrokerKind{domain.BrokerAlpaca, domain.BrokerTradier}, r.Kinds())

	_, ok := r.Get(domain.BrokerSchwab)
	assert.False(t, ok)
	b, ok := r.Get(domain.BrokerSimulator)
	assert.True(t, ok)
	assert.Same(t, sim, b)

	failures := r.CancelAll(context.Background())
	assert.Len(t, failures, 1)
	assert.EqualError(t, failures["tradier"], "401")
	alpaca.AssertCalled(t, "CancelAllOrders", mock.Anything)
}
