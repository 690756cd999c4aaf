package services

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIHealthTracker_ConsecutiveErrors(t *testing.T) {
	tracker := NewAPIHealthTracker(zerolog.New(nil).Level(zerolog.Disabled))

	tracker.RecordError("alpaca", errors.New("502 bad gateway"))
	tracker.RecordError("tradier", errors.New("timeout"))
	assert.Equal(t, 2, tracker.ConsecutiveErrors())

	tracker.RecordSuccess("alpaca")
	assert.Equal(t, 0, tracker.ConsecutiveErrors())

	snap := tracker.Snapshot()
	require.Contains(t, snap.Sources, "alpaca")
	assert.Equal(t, int64(2), snap.Sources["alpaca"].Calls)
	assert.Equal(t, int64(1), snap.Sources["alpaca"].Errors)
	assert.Equal(t, "tradier: timeout", snap.LastError)
}

func TestAPIHealthTracker_Observe(t *testing.T) {
	tracker := NewAPIHealthTracker(zerolog.New(nil).Level(zerolog.Disabled))

	tracker.Observe("schwab", errors.New("boom"))
	tracker.Observe("schwab", errors.New("boom"))
	assert.Equal(t, 2, tracker.ConsecutiveErrors())

	tracker.Observe("schwab", nil)
	assert.Equal(t, 0, tracker.ConsecutiveErrors())
}

func TestAPIHealthTracker_Reset(t *testing.T) {
	tracker := NewAPIHealthTracker(zerolog.New(nil).Level(zerolog.Disabled))

	for i := 0; i < 5; i++ {
		tracker.RecordError("ibkr", nil)
	}
	require.Equal(t, 5, tracker.ConsecutiveErrors())

	tracker.Reset()

	snap := tracker.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveErrors)
	assert.Empty(t, snap.Sources)
	assert.Empty(t, snap.LastError)
}

func TestAPIHealthTracker_Concurrent(t *testing.T) {
	tracker := NewAPIHealthTracker(zerolog.New(nil).Level(zerolog.Disabled))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordError("tastytrade", errors.New("x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tracker.ConsecutiveErrors())
	assert.Equal(t, int64(50), tracker.Snapshot().Sources["tastytrade"].Errors)
}
