package utils

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"whitespace only", "  , ,", nil},
		{"single", "SPY", []string{"SPY"}},
		{"trims", " SPY , QQQ,IWM ", []string{"SPY", "QQQ", "IWM"}},
		{"drops empties", "SPY,,QQQ,", []string{"SPY", "QQQ"}},
		{"keeps inner colons", "XLK:technology, XLF:financials", []string{"XLK:technology", "XLF:financials"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCSV(tt.input))
		})
	}
}

func TestTimer_Stop(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		level   string
	}{
		{"fast", time.Second, `"level":"debug"`},
		{"slow", 15 * time.Second, `"level":"info"`},
		{"very slow", time.Minute, `"level":"warn"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			start := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

			timer := NewTimer("build_snapshot", zerolog.New(&buf).Level(zerolog.DebugLevel))
			timer.start = start
			timer.now = func() time.Time { return start.Add(tt.elapsed) }

			assert.Equal(t, tt.elapsed, timer.Stop())
			assert.Contains(t, buf.String(), tt.level)
			assert.Contains(t, buf.String(), `"operation":"build_snapshot"`)
		})
	}
}
