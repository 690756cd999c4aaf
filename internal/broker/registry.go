package broker

import (
	"context"
	"sort"
	"sync"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Registry maps broker kinds to live adapters. Kinds without an adapter are
// served by the fallback, normally the execution simulator.
type Registry struct {
	brokers  map[domain.BrokerKind]domain.Broker
	fallback domain.Broker
	log      zerolog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a registry with the given fallback broker
func NewRegistry(fallback domain.Broker, log zerolog.Logger) *Registry {
	return &Registry{
		brokers:  make(map[domain.BrokerKind]domain.Broker),
		fallback: fallback,
		log:      log.With().Str("component", "broker_registry").Logger(),
	}
}

// Register installs the adapter for kind
func (r *Registry) Register(kind domain.BrokerKind, b domain.Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brokers[kind] = b
	r.log.Info().Str("kind", string(kind)).Str("broker", b.Name()).Msg("Broker registered")
}

// For returns the broker serving kind
func (r *Registry) For(kind domain.BrokerKind) domain.Broker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.brokers[kind]; ok {
		return b
	}
	return r.fallback
}

// Get returns the registered adapter for kind, without falling back
func (r *Registry) Get(kind domain.BrokerKind) (domain.Broker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind == domain.BrokerSimulator && r.fallback != nil {
		return r.fallback, true
	}
	b, ok := r.brokers[kind]
	return b, ok
}

// Kinds lists the registered live kinds, sorted
func (r *Registry) Kinds() []domain.BrokerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.BrokerKind, 0, len(r.brokers))
	for k := range r.brokers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// CancelAll cancels open orders on every live broker. The returned map holds
// the failures by broker name.
func (r *Registry) CancelAll(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, kind := range r.Kinds() {
		b := r.For(kind)
		if err := b.CancelAllOrders(ctx); err != nil {
			r.log.Error().Err(err).Str("broker", b.Name()).Msg("Failed to cancel open orders")
			failures[b.Name()] = err
		}
	}
	return failures
}
