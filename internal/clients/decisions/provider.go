// Package decisions provides decision providers for agents.
package decisions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arena/internal/clients/rest"
	"github.com/aristath/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	providerName    = "decision-provider"
	decidePath      = "/decide"
	defaultTimeout  = 30 * time.Second
	maxReasoningLen = 2000
)

// Config configures the HTTP decision provider
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPProvider asks a remote service for each agent's decision. Any failure
// degrades to HOLD so a flaky provider never blocks a cycle.
type HTTPProvider struct {
	api *rest.Client
	log zerolog.Logger
}

// NewHTTPProvider creates a provider posting to cfg.BaseURL + "/decide"
func NewHTTPProvider(cfg Config, health rest.HealthRecorder, log zerolog.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var authorize rest.Authorizer
	if cfg.Token != "" {
		token := cfg.Token
		authorize = rest.Bearer(func(context.Context) (string, error) { return token, nil })
	}

	return &HTTPProvider{
		api: rest.New(rest.Config{
			Name:      providerName,
			BaseURL:   cfg.BaseURL,
			Health:    health,
			Authorize: authorize,
			Timeout:   timeout,
		}, log),
		log: log.With().Str("client", providerName).Logger(),
	}
}

// Decide implements domain.DecisionProvider
func (p *HTTPProvider) Decide(ctx context.Context, req domain.DecisionRequest) (*domain.Decision, error) {
	var d domain.Decision
	if err := p.api.Post(ctx, decidePath, req, &d); err != nil {
		p.log.Warn().Err(err).Str("agent_id", req.Agent.ID).Msg("Decision provider failed, holding")
		return domain.HoldDecision(req.Agent.ID, fmt.Sprintf("decision provider unavailable: %v", err)), nil
	}

	if err := normalize(&d, req.Agent.ID); err != nil {
		p.log.Warn().Err(err).Str("agent_id", req.Agent.ID).Msg("Malformed decision, holding")
		return domain.HoldDecision(req.Agent.ID, fmt.Sprintf("malformed decision: %v", err)), nil
	}

	return &d, nil
}

// normalize fills identity fields and rejects decisions the cycle cannot act on
func normalize(d *domain.Decision, agentID string) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.AgentID = agentID
	d.Action = domain.Action(strings.ToUpper(strings.TrimSpace(string(d.Action))))
	d.Symbol = strings.ToUpper(strings.TrimSpace(d.Symbol))
	if len(d.Reasoning) > maxReasoningLen {
		d.Reasoning = d.Reasoning[:maxReasoningLen]
	}

	if !d.Action.Valid() {
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.Action != domain.ActionHold && d.Symbol == "" {
		return fmt.Errorf("%s without symbol", d.Action)
	}
	return nil
}

// HoldProvider answers HOLD for agents with no configured endpoint
type HoldProvider struct{}

// Decide implements domain.DecisionProvider
func (HoldProvider) Decide(_ context.Context, req domain.DecisionRequest) (*domain.Decision, error) {
	d := domain.HoldDecision(req.Agent.ID, "no decision provider configured")
	d.ID = uuid.NewString()
	return d, nil
}
