package market_hours

import "time"

// calculateEaster returns Easter Sunday (Gregorian computus)
func calculateEaster(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451

	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// findNthWeekday finds the nth occurrence of a weekday in a given month/year
func findNthWeekday(year, month int, weekday time.Weekday, n int) time.Time {
	date := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

	daysToAdd := int(weekday - date.Weekday())
	if daysToAdd < 0 {
		daysToAdd += 7
	}
	return date.AddDate(0, 0, daysToAdd+(n-1)*7)
}

// findLastWeekday finds the last occurrence of a weekday in a given month/year
func findLastWeekday(year, month int, weekday time.Weekday) time.Time {
	date := time.Date(year, time.Month(month+1), 0, 0, 0, 0, 0, time.UTC)

	daysToSubtract := int(date.Weekday() - weekday)
	if daysToSubtract < 0 {
		daysToSubtract += 7
	}
	return date.AddDate(0, 0, -daysToSubtract)
}

// observeOnWeekday moves a date to the nearest weekday if it falls on a weekend
// Saturday -> Friday, Sunday -> Monday
func observeOnWeekday(date time.Time) time.Time {
	switch date.Weekday() {
	case time.Saturday:
		return date.AddDate(0, 0, -1)
	case time.Sunday:
		return date.AddDate(0, 0, 1)
	default:
		return date
	}
}

// CalculateUSHolidays calculates all NYSE full-day holidays for a given year.
// Dates are midnight UTC; compare by calendar date only.
func CalculateUSHolidays(year int) []time.Time {
	holidays := make([]time.Time, 0, 10)

	// New Year's Day. A Saturday New Year is not observed on the prior Friday.
	newYear := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	if newYear.Weekday() != time.Saturday {
		holidays = append(holidays, observeOnWeekday(newYear))
	}

	holidays = append(holidays,
		findNthWeekday(year, 1, time.Monday, 3),    // Martin Luther King Jr. Day
		findNthWeekday(year, 2, time.Monday, 3),    // Presidents Day
		calculateEaster(year).AddDate(0, 0, -2),    // Good Friday
		findLastWeekday(year, 5, time.Monday),      // Memorial Day
		findNthWeekday(year, 9, time.Monday, 1),    // Labor Day
		findNthWeekday(year, 11, time.Thursday, 4), // Thanksgiving
		observeOnWeekday(time.Date(year, 6, 19, 0, 0, 0, 0, time.UTC)),
		observeOnWeekday(time.Date(year, 7, 4, 0, 0, 0, 0, time.UTC)),
		observeOnWeekday(time.Date(year, 12, 25, 0, 0, 0, 0, time.UTC)),
	)

	return holidays
}

// usEarlyCloses are the NYSE 13:00 sessions
func usEarlyCloses() []EarlyCloseRule {
	return []EarlyCloseRule{
		{
			Name:      "Day after Thanksgiving",
			CloseHour: 13,
			DatePattern: func(t time.Time) bool {
				friday := findNthWeekday(t.Year(), 11, time.Thursday, 4).AddDate(0, 0, 1)
				return sameDate(t, friday)
			},
		},
		{
			Name:      "Christmas Eve",
			CloseHour: 13,
			DatePattern: func(t time.Time) bool {
				return t.Month() == 12 && t.Day() == 24
			},
		},
		{
			Name:      "Independence Day Eve",
			CloseHour: 13,
			DatePattern: func(t time.Time) bool {
				return t.Month() == 7 && t.Day() == 3
			},
		},
	}
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
