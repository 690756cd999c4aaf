package sinks

import (
	"fmt"
	"strings"

	"github.com/aristath/arena/internal/events"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// MessageSender is satisfied by *tgbotapi.BotAPI
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier pushes operator alerts: halts and orders that may
// still be working at the broker
type TelegramNotifier struct {
	sender MessageSender
	chatID int64
	log    zerolog.Logger
}

// NewTelegramBot authorizes the bot token
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

// NewTelegramNotifier creates a notifier posting to chatID
func NewTelegramNotifier(sender MessageSender, chatID int64, log zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		log:    log.With().Str("component", "telegram_notifier").Logger(),
	}
}

// Attach subscribes to the alert-worthy event types
func (n *TelegramNotifier) Attach(bus *events.Bus) {
	for _, t := range []events.EventType{events.SystemHalted, events.OrderTimedOut, events.HaltCleared} {
		bus.Subscribe(t, n.Handle)
	}
}

// Handle formats and sends one alert
func (n *TelegramNotifier) Handle(e events.Event) {
	text := FormatAlert(e)
	if text == "" {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		n.log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to send telegram alert")
	}
}

// FormatAlert renders the alert text, or "" for events not worth paging on
func FormatAlert(e events.Event) string {
	switch d := e.Data.(type) {
	case *events.SystemHaltedData:
		var b strings.Builder
		b.WriteString("SYSTEM HALT\n")
		b.WriteString(d.Reason)
		if d.AgentID != "" {
			fmt.Fprintf(&b, "\nagent: %s", d.AgentID)
		}
		fmt.Fprintf(&b, "\nsystem P/L today: %.2f (ceiling %.2f)", d.SystemPnL, d.LossCeiling)
		b.WriteString("\nAll new trades are blocked until reset.")
		return b.String()
	case *events.OrderTimedOutData:
		return fmt.Sprintf("ORDER TIMED OUT\nagent: %s\n%s x%.0f via %s (order %s)\n%s\nCheck the broker: the order may still fill.",
			d.AgentID, d.Symbol, d.Quantity, d.Broker, orDash(d.OrderID), d.Error)
	case *events.HaltClearedData:
		return fmt.Sprintf("Halt cleared (%s). Trading resumes next cycle.", d.Source)
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
