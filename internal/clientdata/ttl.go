package clientdata

import "time"

// Daily bars only change once per session, so a few hours is enough for
// every cycle in a day to share one upstream fetch.
const (
	TTLDailyCloses = 6 * time.Hour
)
