package market_hours

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/config"
)

// MarketHoursService answers calendar questions for one exchange
type MarketHoursService struct {
	location     *time.Location
	holidayCache map[int][]time.Time
	exchange     string
	earlyCloses  []EarlyCloseRule
	hours        TradingHours
	mu           sync.Mutex
}

// NewMarketHoursService creates a calendar for the configured exchange window
func NewMarketHoursService(p config.MarketHoursPolicy) (*MarketHoursService, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", p.Timezone, err)
	}

	openH, openM, err := parseClock(p.Open)
	if err != nil {
		return nil, fmt.Errorf("invalid open time: %w", err)
	}
	closeH, closeM, err := parseClock(p.Close)
	if err != nil {
		return nil, fmt.Errorf("invalid close time: %w", err)
	}

	return &MarketHoursService{
		location:     loc,
		holidayCache: make(map[int][]time.Time),
		exchange:     p.Exchange,
		earlyCloses:  usEarlyCloses(),
		hours: TradingHours{
			OpenHour:    openH,
			OpenMinute:  openM,
			CloseHour:   closeH,
			CloseMinute: closeM,
		},
	}, nil
}

func parseClock(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return h, m, nil
}

// Exchange returns the exchange code
func (s *MarketHoursService) Exchange() string {
	return s.exchange
}

// Location returns the exchange timezone
func (s *MarketHoursService) Location() *time.Location {
	return s.location
}

// IsMarketOpen checks if the market is open for trading at t
func (s *MarketHoursService) IsMarketOpen(t time.Time) bool {
	marketTime := t.In(s.location)
	if !s.IsTradingDay(marketTime) {
		return false
	}

	openTime := s.openOn(marketTime)
	closeTime := s.closeOn(marketTime)

	return !marketTime.Before(openTime) && marketTime.Before(closeTime)
}

// IsTradingDay reports whether the exchange-calendar date of t is a session
func (s *MarketHoursService) IsTradingDay(t time.Time) bool {
	marketTime := t.In(s.location)
	if marketTime.Weekday() == time.Saturday || marketTime.Weekday() == time.Sunday {
		return false
	}
	return !s.IsHoliday(marketTime)
}

// IsHoliday checks if the exchange-calendar date of t is a full-day holiday
func (s *MarketHoursService) IsHoliday(t time.Time) bool {
	marketTime := t.In(s.location)
	for _, holiday := range s.Holidays(marketTime.Year()) {
		if sameDate(holiday, marketTime) {
			return true
		}
	}
	return false
}

// Holidays returns the full-day holidays of a year
func (s *MarketHoursService) Holidays(year int) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if holidays, ok := s.holidayCache[year]; ok {
		return holidays
	}
	holidays := CalculateUSHolidays(year)
	s.holidayCache[year] = holidays
	return holidays
}

// SessionDate returns midnight of the exchange-calendar date containing t.
// "Today" for daily P/L and day-trade counting means this date.
func (s *MarketHoursService) SessionDate(t time.Time) time.Time {
	m := t.In(s.location)
	return time.Date(m.Year(), m.Month(), m.Day(), 0, 0, 0, 0, s.location)
}

// SessionsBack returns the start of the window covering the last n trading
// sessions up to and including the session date of t
func (s *MarketHoursService) SessionsBack(t time.Time, n int) time.Time {
	day := s.SessionDate(t)
	if n <= 0 {
		return day
	}

	found := 0
	// A calendar year never has more than 3 closed days in a row beyond weekends
	for i := 0; i < n*3+10; i++ {
		if s.IsTradingDay(day) {
			found++
			if found == n {
				return day
			}
		}
		day = day.AddDate(0, 0, -1)
	}
	return day
}

func (s *MarketHoursService) openOn(marketTime time.Time) time.Time {
	return time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
		s.hours.OpenHour, s.hours.OpenMinute, 0, 0, s.location)
}

// closeOn returns the closing time of the session, honoring early closes
func (s *MarketHoursService) closeOn(marketTime time.Time) time.Time {
	for _, rule := range s.earlyCloses {
		if rule.DatePattern != nil && rule.DatePattern(marketTime) {
			return time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
				rule.CloseHour, rule.CloseMinute, 0, 0, s.location)
		}
	}
	return time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
		s.hours.CloseHour, s.hours.CloseMinute, 0, 0, s.location)
}

// GetMarketStatus returns detailed status for the exchange at t
func (s *MarketHoursService) GetMarketStatus(t time.Time) *MarketStatus {
	marketTime := t.In(s.location)
	status := &MarketStatus{
		Open:     s.IsMarketOpen(t),
		Exchange: s.exchange,
		Timezone: s.location.String(),
	}

	if status.Open {
		status.ClosesAt = s.closeOn(marketTime).Format("15:04")
		return status
	}

	if next := s.nextOpen(marketTime); next != nil {
		status.OpensAt = next.Format("15:04")
		if !sameDate(*next, marketTime) {
			status.OpensDate = next.Format("2006-01-02")
		}
	}
	return status
}

// nextOpen finds the next session open after marketTime
func (s *MarketHoursService) nextOpen(marketTime time.Time) *time.Time {
	for i := 0; i < 10; i++ {
		day := marketTime.AddDate(0, 0, i)
		if !s.IsTradingDay(day) {
			continue
		}
		open := s.openOn(day)
		if i == 0 && !marketTime.Before(open) {
			continue
		}
		return &open
	}
	return nil
}
