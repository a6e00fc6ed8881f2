package marketdata

import (
	"time"
)

// Class groups datasets by how quickly their source data moves.
type Class int

const (
	// ClassHistorical covers daily-bar datasets refreshed once per day
	// (prices, margin balances, monthly revenue).
	ClassHistorical Class = iota
	// ClassFastHistorical covers historical datasets that update more
	// than once a day (trade amount, world indices).
	ClassFastHistorical
	// ClassRealtime covers intraday snapshot datasets (TSE/OTC index).
	ClassRealtime
)

// String returns a readable class name for logs and API responses.
func (c Class) String() string {
	switch c {
	case ClassHistorical:
		return "historical"
	case ClassFastHistorical:
		return "fast_historical"
	case ClassRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// Freshness is the classification of a cached entry's age.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
)

func (f Freshness) String() string {
	if f == Fresh {
		return "fresh"
	}
	return "stale"
}

// Policy decides whether a cached dataset may still be served or must
// be refreshed. Windows come from configuration; a per-dataset window
// override can be passed to Classify.
type Policy struct {
	HistWindow     time.Duration
	FastWindow     time.Duration
	RealtimeWindow time.Duration
}

// NewPolicy builds a policy from configured window sizes. Non-positive
// values fall back to the defaults (24h / 12h / 60s).
func NewPolicy(histHours, fastHours, realtimeSeconds int) *Policy {
	p := &Policy{
		HistWindow:     time.Duration(histHours) * time.Hour,
		FastWindow:     time.Duration(fastHours) * time.Hour,
		RealtimeWindow: time.Duration(realtimeSeconds) * time.Second,
	}
	if p.HistWindow <= 0 {
		p.HistWindow = 24 * time.Hour
	}
	if p.FastWindow <= 0 {
		p.FastWindow = 12 * time.Hour
	}
	if p.RealtimeWindow <= 0 {
		p.RealtimeWindow = 60 * time.Second
	}
	return p
}

// Window returns the effective freshness window for a class, with an
// optional per-dataset override.
func (p *Policy) Window(class Class, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	switch class {
	case ClassFastHistorical:
		return p.FastWindow
	case ClassRealtime:
		return p.RealtimeWindow
	default:
		return p.HistWindow
	}
}

// Classify returns Fresh or Stale for a cached entry.
//
// A zero lastRefreshed means no entry exists yet and is always Stale.
// Realtime entries only age while the market is open; the last session
// snapshot stays Fresh until the next session starts a new snapshot
// cycle. An age exactly equal to the window counts as Stale.
func (p *Policy) Classify(now, lastRefreshed time.Time, class Class, override time.Duration) Freshness {
	if lastRefreshed.IsZero() {
		return Stale
	}
	if class == ClassRealtime && !IsTradingHours(now) {
		return Fresh
	}
	if now.Sub(lastRefreshed) >= p.Window(class, override) {
		return Stale
	}
	return Fresh
}

// taipei is resolved once; the TWSE trades in this zone.
var taipei = mustLoadTaipei()

func mustLoadTaipei() *time.Location {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		// Fixed offset fallback for minimal containers without tzdata.
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// IsTradingHours checks if the Taiwan stock market is currently open.
// Regular session: Monday-Friday 09:00-13:30 Asia/Taipei.
func IsTradingHours(t time.Time) bool {
	local := t.In(taipei)

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60 && minutes < 13*60+30
}

// SessionDate returns the trading-session date (Asia/Taipei) a moment
// belongs to, used for today-row handling in realtime datasets.
func SessionDate(t time.Time) string {
	return t.In(taipei).Format("2006-01-02")
}
