package market_hours

import (
	"testing"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNYSE(t *testing.T) *MarketHoursService {
	t.Helper()
	svc, err := NewMarketHoursService(config.DefaultPolicy().MarketHours)
	require.NoError(t, err)
	return svc
}

func nyTime(t *testing.T, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func TestIsMarketOpen(t *testing.T) {
	svc := newNYSE(t)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"regular session", nyTime(t, 2025, time.March, 12, 10, 0), true},
		{"at open", nyTime(t, 2025, time.March, 12, 9, 30), true},
		{"before open", nyTime(t, 2025, time.March, 12, 9, 29), false},
		{"at close", nyTime(t, 2025, time.March, 12, 16, 0), false},
		{"three in the morning", nyTime(t, 2025, time.March, 12, 3, 0), false},
		{"saturday", nyTime(t, 2025, time.March, 15, 11, 0), false},
		{"good friday", nyTime(t, 2025, time.April, 18, 11, 0), false},
		{"thanksgiving", nyTime(t, 2025, time.November, 27, 11, 0), false},
		{"black friday morning", nyTime(t, 2025, time.November, 28, 12, 0), true},
		{"black friday afternoon", nyTime(t, 2025, time.November, 28, 13, 30), false},
		{"juneteenth", nyTime(t, 2025, time.June, 19, 11, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.IsMarketOpen(tt.at))
		})
	}
}

func TestIsMarketOpen_ConvertsTimezones(t *testing.T) {
	svc := newNYSE(t)

	// 15:00 UTC is 11:00 in New York during daylight time
	assert.True(t, svc.IsMarketOpen(time.Date(2025, time.June, 11, 15, 0, 0, 0, time.UTC)))
	// 03:00 in New York
	assert.False(t, svc.IsMarketOpen(time.Date(2025, time.June, 11, 7, 0, 0, 0, time.UTC)))
}

func TestCalculateUSHolidays_2025(t *testing.T) {
	var got []string
	for _, h := range CalculateUSHolidays(2025) {
		got = append(got, h.Format("2006-01-02"))
	}

	assert.ElementsMatch(t, []string{
		"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26",
		"2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
	}, got)
}

func TestCalculateUSHolidays_SaturdayNewYearNotObserved(t *testing.T) {
	for _, h := range CalculateUSHolidays(2022) {
		assert.False(t, h.Month() == time.December && h.Day() == 31)
	}
}

func TestSessionsBack(t *testing.T) {
	svc := newNYSE(t)

	// Monday 2025-03-17, five sessions back reaches Tuesday 2025-03-11
	start := svc.SessionsBack(nyTime(t, 2025, time.March, 17, 12, 0), 5)
	assert.Equal(t, "2025-03-11", start.Format("2006-01-02"))

	// Skips Good Friday 2025-04-18
	start = svc.SessionsBack(nyTime(t, 2025, time.April, 22, 12, 0), 3)
	assert.Equal(t, "2025-04-17", start.Format("2006-01-02"))
}

func TestSessionDate(t *testing.T) {
	svc := newNYSE(t)

	// 02:00 UTC on the 12th is still the 11th in New York
	day := svc.SessionDate(time.Date(2025, time.June, 12, 2, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-06-11", day.Format("2006-01-02"))
}

func TestGetMarketStatus(t *testing.T) {
	svc := newNYSE(t)

	open := svc.GetMarketStatus(nyTime(t, 2025, time.March, 12, 10, 0))
	assert.True(t, open.Open)
	assert.Equal(t, "16:00", open.ClosesAt)

	weekend := svc.GetMarketStatus(nyTime(t, 2025, time.March, 15, 10, 0))
	assert.False(t, weekend.Open)
	assert.Equal(t, "09:30", weekend.OpensAt)
	assert.Equal(t, "2025-03-17", weekend.OpensDate)

	early := svc.GetMarketStatus(nyTime(t, 2025, time.March, 12, 8, 0))
	assert.Equal(t, "09:30", early.OpensAt)
	assert.Empty(t, early.OpensDate)
}

func TestNewMarketHoursService_InvalidPolicy(t *testing.T) {
	p := config.DefaultPolicy().MarketHours
	p.Timezone = "Mars/Olympus"
	_, err := NewMarketHoursService(p)
	assert.Error(t, err)

	p = config.DefaultPolicy().MarketHours
	p.Open = "9.30"
	_, err = NewMarketHoursService(p)
	assert.Error(t, err)
}
