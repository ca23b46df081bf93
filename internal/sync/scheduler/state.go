package scheduler

import (
	"fmt"
	"time"
)

const (
	// FrequencyKey holds the user's automatic sync preference. Its absence means
	// automatic sync is disabled.
	FrequencyKey = "auto_sync_frequency"

	// LastRunKey holds the instant of the last automatic pass, in Unix milliseconds
	LastRunKey = "auto_sync_last_run"
)

// Frequency is how often an automatic pass is due
type Frequency string

const (
	// FrequencyDaily is due once per calendar day
	FrequencyDaily Frequency = "daily"

	// FrequencyWeekly is due on the first day of each ISO week
	FrequencyWeekly Frequency = "weekly"

	// FrequencyMonthly is due on the first day of each month
	FrequencyMonthly Frequency = "monthly"
)

// ParseFrequency converts a string into a Frequency
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", fmt.Errorf("invalid frequency %q: must be one of daily, weekly, monthly", s)
	}
}

// State is the scheduler's configuration and memory of its last pass
type State struct {
	Enabled      bool       `json:"enabled"`
	Frequency    Frequency  `json:"frequency"`
	LastAutoSync *time.Time `json:"lastAutoSync,omitempty"`
}

// ShouldSyncNow reports whether an automatic pass is due at now. The checks compare
// calendar boundaries in now's location, not elapsed time. Weekly and monthly
// passes are only due on the boundary day itself; a Monday or first of the month
// on which no evaluation ran is not caught up on later days.
func (s State) ShouldSyncNow(now time.Time) bool {
	if s.LastAutoSync == nil {
		return true
	}
	last := s.LastAutoSync.In(now.Location())

	switch s.Frequency {
	case FrequencyWeekly:
		if now.Weekday() != time.Monday {
			return false
		}
		nowYear, nowWeek := now.ISOWeek()
		lastYear, lastWeek := last.ISOWeek()
		return nowYear != lastYear || nowWeek != lastWeek
	case FrequencyMonthly:
		if now.Day() != 1 {
			return false
		}
		return now.Month() != last.Month() || now.Year() != last.Year()
	default:
		nowYear, nowMonth, nowDay := now.Date()
		lastYear, lastMonth, lastDay := last.Date()
		return nowYear != lastYear || nowMonth != lastMonth || nowDay != lastDay
	}
}
