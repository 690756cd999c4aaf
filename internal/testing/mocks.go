package testing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockAgentRepository is an in-memory AgentRepository
type MockAgentRepository struct {
	agents map[string]domain.Agent
	err    error
	mu     sync.RWMutex
}

// NewMockAgentRepository creates a repository holding agents
func NewMockAgentRepository(agents ...domain.Agent) *MockAgentRepository {
	m := &MockAgentRepository{agents: make(map[string]domain.Agent)}
	for _, a := range agents {
		m.agents[a.ID] = a
	}
	return m
}

// SetError makes every call fail with err
func (m *MockAgentRepository) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetAgent returns the agent or nil
func (m *MockAgentRepository) GetAgent(id string) (*domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// ListActive returns active agents ordered by ID
func (m *MockAgentRepository) ListActive() ([]domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Agent
	for _, a := range m.agents {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateAgent sets cash and account value
func (m *MockAgentRepository) UpdateAgent(id string, cashBalance, accountValue float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	a := m.agents[id]
	a.CashBalance = cashBalance
	a.AccountValue = accountValue
	m.agents[id] = a
	return nil
}

// MockPositionRepository is an in-memory PositionRepository
type MockPositionRepository struct {
	positions map[int64]domain.Position
	err       error
	nextID    int64
	mu        sync.RWMutex
}

// NewMockPositionRepository creates a repository holding positions
func NewMockPositionRepository(positions ...domain.Position) *MockPositionRepository {
	m := &MockPositionRepository{positions: make(map[int64]domain.Position)}
	for _, p := range positions {
		_, _ = m.CreatePosition(&p)
	}
	return m
}

// SetError makes every call fail with err
func (m *MockPositionRepository) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// ListPositions returns the agent's positions ordered by ID
func (m *MockPositionRepository) ListPositions(agentID string) ([]domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Position
	for _, p := range m.positions {
		if p.AgentID == agentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPosition finds the (agent, symbol, side) position or nil
func (m *MockPositionRepository) GetPosition(agentID, symbol string, side domain.PositionSide) (*domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.positions {
		if p.AgentID == agentID && strings.EqualFold(p.Symbol, symbol) && p.Side == side {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

// CreatePosition stores p and assigns its ID
func (m *MockPositionRepository) CreatePosition(p *domain.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.nextID++
	p.ID = m.nextID
	m.positions[p.ID] = *p
	return p.ID, nil
}

// UpdatePosition overwrites the stored position
func (m *MockPositionRepository) UpdatePosition(p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.positions[p.ID] = *p
	return nil
}

// DeletePosition removes a position
func (m *MockPositionRepository) DeletePosition(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.positions, id)
	return nil
}

// MockTradeRepository is an in-memory TradeRepository
type MockTradeRepository struct {
	trades          []domain.Trade
	err             error
	systemPnLOffset float64
	mu              sync.RWMutex
}

// NewMockTradeRepository creates an empty ledger
func NewMockTradeRepository(trades ...domain.Trade) *MockTradeRepository {
	m := &MockTradeRepository{}
	for _, t := range trades {
		_, _ = m.CreateTrade(&t)
	}
	return m
}

// SetError makes every call fail with err
func (m *MockTradeRepository) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetSystemPnLOffset adds a fixed amount to SystemRealizedPnLSince, standing
// in for losses booked by agents outside the test
func (m *MockTradeRepository) SetSystemPnLOffset(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPnLOffset = v
}

// Trades returns a copy of every trade recorded
func (m *MockTradeRepository) Trades() []domain.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Trade(nil), m.trades...)
}

// CreateTrade appends to the ledger
func (m *MockTradeRepository) CreateTrade(t *domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	t.ID = int64(len(m.trades) + 1)
	m.trades = append(m.trades, *t)
	return t.ID, nil
}

// ListByAgent returns the agent's most recent trades first
func (m *MockTradeRepository) ListByAgent(agentID string, limit int) ([]domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].AgentID == agentID {
			out = append(out, m.trades[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ListByAgentSince returns the agent's trades at or after since, oldest first
func (m *MockTradeRepository) ListByAgentSince(agentID string, since time.Time) ([]domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Trade
	for _, t := range m.trades {
		if t.AgentID == agentID && !t.ExecutedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// RealizedPnLSince sums the agent's realized P/L
func (m *MockTradeRepository) RealizedPnLSince(agentID string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.sum(agentID, since), nil
}

// SystemRealizedPnLSince sums realized P/L across all agents
func (m *MockTradeRepository) SystemRealizedPnLSince(since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.sum("", since) + m.systemPnLOffset, nil
}

func (m *MockTradeRepository) sum(agentID string, since time.Time) float64 {
	total := 0.0
	for _, t := range m.trades {
		if agentID != "" && t.AgentID != agentID {
			continue
		}
		if t.RealizedPnL != nil && !t.ExecutedAt.Before(since) {
			total += *t.RealizedPnL
		}
	}
	return total
}

// MockDecisionRepository records decision audit rows
type MockDecisionRepository struct {
	records []domain.DecisionRecord
	mu      sync.Mutex
}

// NewMockDecisionRepository creates an empty decision log
func NewMockDecisionRepository() *MockDecisionRepository {
	return &MockDecisionRepository{}
}

// CreateDecisionRecord appends rec
func (m *MockDecisionRepository) CreateDecisionRecord(rec *domain.DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

// Records returns a copy of every record
func (m *MockDecisionRepository) Records() []domain.DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DecisionRecord(nil), m.records...)
}

// MockSnapshotRepository records performance snapshots
type MockSnapshotRepository struct {
	snapshots []domain.PerformanceSnapshot
	mu        sync.Mutex
}

// NewMockSnapshotRepository creates an empty snapshot store
func NewMockSnapshotRepository() *MockSnapshotRepository {
	return &MockSnapshotRepository{}
}

// CreatePerformanceSnapshot appends s
func (m *MockSnapshotRepository) CreatePerformanceSnapshot(s *domain.PerformanceSnapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.snapshots) + 1)
	m.snapshots = append(m.snapshots, *s)
	return s.ID, nil
}

// Snapshots returns a copy of every snapshot
func (m *MockSnapshotRepository) Snapshots() []domain.PerformanceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PerformanceSnapshot(nil), m.snapshots...)
}

// MockBroker is a testify mock of domain.Broker
type MockBroker struct {
	mock.Mock
}

// Name returns the mocked broker name
func (m *MockBroker) Name() string {
	args := m.Called()
	return args.String(0)
}

// SubmitBuy records the call and returns the configured result
func (m *MockBroker) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	args := m.Called(ctx, symbol, quantity, agentID)
	return args.Get(0).(domain.ExecutionResult)
}

// SubmitSell records the call and returns the configured result
func (m *MockBroker) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	args := m.Called(ctx, symbol, quantity, agentID)
	return args.Get(0).(domain.ExecutionResult)
}

// GetAccount returns the configured account
func (m *MockBroker) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	args := m.Called(ctx)
	if acct := args.Get(0); acct != nil {
		return acct.(*domain.BrokerAccount), args.Error(1)
	}
	return nil, args.Error(1)
}

// IsMarketOpen returns the configured flag
func (m *MockBroker) IsMarketOpen(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// CancelAllOrders returns the configured error
func (m *MockBroker) CancelAllOrders(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// StaticDecisionProvider returns a fixed decision per agent, HOLD otherwise
type StaticDecisionProvider struct {
	Decisions map[string]*domain.Decision
	Err       error
	mu        sync.Mutex
	calls     int
}

// Decide returns the configured decision for the agent
func (p *StaticDecisionProvider) Decide(ctx context.Context, req domain.DecisionRequest) (*domain.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	if d, ok := p.Decisions[req.Agent.ID]; ok {
		copied := *d
		copied.AgentID = req.Agent.ID
		return &copied, nil
	}
	return domain.HoldDecision(req.Agent.ID, "no decision configured"), nil
}

// Calls returns how many times Decide ran
func (p *StaticDecisionProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// MockMarketData serves fixed quotes and close histories
type MockMarketData struct {
	Prices map[string]float64
	Closes map[string][]float64
	Errs   map[string]error
	mu     sync.Mutex
	quotes int
}

// NewMockMarketData creates a provider quoting prices
func NewMockMarketData(prices map[string]float64) *MockMarketData {
	return &MockMarketData{
		Prices: prices,
		Closes: make(map[string][]float64),
		Errs:   make(map[string]error),
	}
}

// GetQuote returns the configured price for symbol
func (m *MockMarketData) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes++
	symbol = strings.ToUpper(symbol)
	if err := m.Errs[symbol]; err != nil {
		return nil, err
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &domain.Quote{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

// GetDailyCloses returns the configured history, trimmed to days
func (m *MockMarketData) GetDailyCloses(ctx context.Context, symbol string, days int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	if err := m.Errs[symbol]; err != nil {
		return nil, err
	}
	closes := m.Closes[symbol]
	if days > 0 && len(closes) > days {
		closes = closes[len(closes)-days:]
	}
	return append([]float64(nil), closes...), nil
}

// QuoteCalls returns how many quotes were requested
func (m *MockMarketData) QuoteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quotes
}
