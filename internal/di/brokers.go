package di

import (
	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/clients/alpaca"
	"github.com/aristath/arena/internal/clients/ibkr"
	"github.com/aristath/arena/internal/clients/schwab"
	"github.com/aristath/arena/internal/clients/tastytrade"
	"github.com/aristath/arena/internal/clients/tradernet"
	"github.com/aristath/arena/internal/clients/tradestation"
	"github.com/aristath/arena/internal/clients/tradier"
	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// RegisterBrokers installs an adapter for every brokerage with credentials.
// Agents of the others fall back to the simulator.
func RegisterBrokers(container *Container, cfg *config.Config, log zerolog.Logger) {
	creds := cfg.Brokers
	policy := broker.RetryPolicyFrom(container.Policy.Fulfillment)
	quotes := container.MarketData
	clock := container.MarketHours
	health := container.HealthTracker
	registry := container.Brokers

	if creds.AlpacaKeyID != "" && creds.AlpacaSecret != "" {
		registry.Register(domain.BrokerAlpaca, alpaca.NewBroker(alpacaConfig(cfg), quotes, policy, health, log))
	}

	if creds.TradierToken != "" && creds.TradierAccount != "" {
		registry.Register(domain.BrokerTradier, tradier.NewBroker(tradier.Config{
			Token:     creds.TradierToken,
			AccountID: creds.TradierAccount,
			BaseURL:   creds.TradierBaseURL,
		}, quotes, policy, health, log))
	}

	if creds.TradeStationToken != "" && creds.TradeStationAccount != "" {
		registry.Register(domain.BrokerTradeStation, tradestation.NewBroker(tradestation.Config{
			Token:     creds.TradeStationToken,
			AccountID: creds.TradeStationAccount,
			BaseURL:   creds.TradeStationBaseURL,
		}, quotes, clock, policy, health, log))
	}

	if creds.SchwabToken != "" && creds.SchwabAccountHash != "" {
		registry.Register(domain.BrokerSchwab, schwab.NewBroker(schwab.Config{
			Token:       creds.SchwabToken,
			AccountHash: creds.SchwabAccountHash,
			BaseURL:     creds.SchwabBaseURL,
		}, quotes, clock, policy, health, log))
	}

	if creds.IBKRBaseURL != "" && creds.IBKRAccountID != "" {
		registry.Register(domain.BrokerIBKR, ibkr.NewBroker(ibkr.Config{
			BaseURL:   creds.IBKRBaseURL,
			AccountID: creds.IBKRAccountID,
		}, quotes, clock, policy, health, log))
	}

	if creds.TastytradeToken != "" && creds.TastytradeAccount != "" {
		registry.Register(domain.BrokerTastytrade, tastytrade.NewBroker(tastytrade.Config{
			Token:     creds.TastytradeToken,
			AccountID: creds.TastytradeAccount,
			BaseURL:   creds.TastytradeBaseURL,
		}, quotes, clock, policy, health, log))
	}

	if creds.TradernetAPIKey != "" && creds.TradernetAPISecret != "" {
		client := tradernet.NewClient(creds.TradernetBaseURL, creds.TradernetAPIKey, creds.TradernetAPISecret, health, log)

		var stream *tradernet.MarketStream
		if creds.TradernetWSURL != "" {
			stream = tradernet.NewMarketStream(creds.TradernetWSURL, container.EventManager, log)
			if err := stream.Start(); err != nil {
				log.Warn().Err(err).Msg("Tradernet market stream not connected yet, falling back to the calendar")
			}
			container.MarketStream = stream
			container.onClose(stream.Stop)
		}

		registry.Register(domain.BrokerTradernet, tradernet.NewBroker(tradernet.Config{
			PublicKey:  creds.TradernetAPIKey,
			PrivateKey: creds.TradernetAPISecret,
			BaseURL:    creds.TradernetBaseURL,
		}, client, quotes, stream, clock, policy, log))
	}
}
