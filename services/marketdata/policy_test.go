package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// tradingWednesday is a regular session moment: Wed 2024-06-12 10:00 Taipei.
var tradingWednesday = time.Date(2024, 6, 12, 10, 0, 0, 0, taipei)

func TestClassifyMissingTimestampIsStale(t *testing.T) {
	p := NewPolicy(24, 12, 60)
	assert.Equal(t, Stale, p.Classify(tradingWednesday, time.Time{}, ClassHistorical, 0))
	assert.Equal(t, Stale, p.Classify(tradingWednesday, time.Time{}, ClassRealtime, 0))
}

func TestClassifyHistoricalWindow(t *testing.T) {
	p := NewPolicy(24, 12, 60)
	now := tradingWednesday

	assert.Equal(t, Fresh, p.Classify(now, now.Add(-23*time.Hour), ClassHistorical, 0))
	assert.Equal(t, Stale, p.Classify(now, now.Add(-25*time.Hour), ClassHistorical, 0))

	// Boundary: age exactly equal to the window is stale.
	assert.Equal(t, Stale, p.Classify(now, now.Add(-24*time.Hour), ClassHistorical, 0))
}

func TestClassifyFastHistoricalUsesShorterWindow(t *testing.T) {
	p := NewPolicy(24, 12, 60)
	now := tradingWednesday

	age13h := now.Add(-13 * time.Hour)
	assert.Equal(t, Stale, p.Classify(now, age13h, ClassFastHistorical, 0))
	assert.Equal(t, Fresh, p.Classify(now, age13h, ClassHistorical, 0))
}

func TestClassifyWindowOverride(t *testing.T) {
	p := NewPolicy(24, 12, 60)
	now := tradingWednesday

	age2h := now.Add(-2 * time.Hour)
	assert.Equal(t, Fresh, p.Classify(now, age2h, ClassHistorical, 0))
	assert.Equal(t, Stale, p.Classify(now, age2h, ClassHistorical, time.Hour))
}

func TestClassifyRealtimeDuringTradingHours(t *testing.T) {
	p := NewPolicy(24, 12, 60)
	now := tradingWednesday

	assert.Equal(t, Fresh, p.Classify(now, now.Add(-30*time.Second), ClassRealtime, 0))
	assert.Equal(t, Stale, p.Classify(now, now.Add(-90*time.Second), ClassRealtime, 0))
	assert.Equal(t, Stale, p.Classify(now, now.Add(-60*time.Second), ClassRealtime, 0))
}

func TestClassifyRealtimeOutsideTradingHours(t *testing.T) {
	p := NewPolicy(24, 12, 60)
	evening := time.Date(2024, 6, 12, 18, 0, 0, 0, taipei)

	// The last session snapshot stays fresh indefinitely after close.
	assert.Equal(t, Fresh, p.Classify(evening, evening.Add(-5*time.Hour), ClassRealtime, 0))

	// But a missing entry still forces a fetch.
	assert.Equal(t, Stale, p.Classify(evening, time.Time{}, ClassRealtime, 0))
}

func TestIsTradingHours(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid session", time.Date(2024, 6, 12, 10, 0, 0, 0, taipei), true},
		{"open", time.Date(2024, 6, 12, 9, 0, 0, 0, taipei), true},
		{"just before open", time.Date(2024, 6, 12, 8, 59, 0, 0, taipei), false},
		{"last minute", time.Date(2024, 6, 12, 13, 29, 0, 0, taipei), true},
		{"close", time.Date(2024, 6, 12, 13, 30, 0, 0, taipei), false},
		{"saturday", time.Date(2024, 6, 15, 10, 0, 0, 0, taipei), false},
		{"sunday", time.Date(2024, 6, 16, 10, 0, 0, 0, taipei), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTradingHours(tc.t))
		})
	}
}

func TestIsTradingHoursConvertsZones(t *testing.T) {
	// 02:00 UTC on a weekday is 10:00 in Taipei.
	assert.True(t, IsTradingHours(time.Date(2024, 6, 12, 2, 0, 0, 0, time.UTC)))
}

func TestSessionDate(t *testing.T) {
	// 23:00 UTC Tuesday is already Wednesday in Taipei.
	assert.Equal(t, "2024-06-12", SessionDate(time.Date(2024, 6, 11, 23, 0, 0, 0, time.UTC)))
}
