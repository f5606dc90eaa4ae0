// Package markethours answers whether the US equity market is in its
// regular session (NYSE, 9:30 AM - 4:00 PM ET, Mon-Fri, excluding holidays).
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata" // ET must resolve on hosts without a zoneinfo database
)

// ET is US Eastern time, DST-aware.
var ET = mustLoad("America/New_York")

// Regular session in ET.
const (
	OpenHour         = 9
	OpenMinute       = 30
	CloseHour        = 16
	CloseMinute      = 0
	EarlyCloseHour   = 13
	EarlyCloseMinute = 0
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// IsMarketOpen returns true if t falls within the regular NYSE session.
func IsMarketOpen(t time.Time) bool {
	et := t.In(ET)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < closeMinutes(et)
}

func closeMinutes(et time.Time) int {
	if IsEarlyClose(et) {
		return EarlyCloseHour*60 + EarlyCloseMinute
	}
	return CloseHour*60 + CloseMinute
}

// IsWeekday returns true if t is Mon-Fri in ET.
func IsWeekday(t time.Time) bool {
	wd := t.In(ET).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(ET)
	return IsWeekday(et) && !IsHoliday(et)
}

// NextOpen returns the next session open at or after t.
func NextOpen(t time.Time) time.Time {
	et := t.In(ET)

	todayOpen := time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, ET)
	if et.Before(todayOpen) && IsTradingDay(et) {
		return todayOpen
	}

	d := time.Date(et.Year(), et.Month(), et.Day()+1, 12, 0, 0, 0, ET)
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, ET)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(et.Year(), et.Month(), et.Day()+1, OpenHour, OpenMinute, 0, 0, ET)
}

// TodayClose returns the session close for t's ET date.
func TodayClose(t time.Time) time.Time {
	et := t.In(ET)
	m := closeMinutes(et)
	return time.Date(et.Year(), et.Month(), et.Day(), m/60, m%60, 0, 0, ET)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TodayClose(t).Sub(t)))
	}
	next := NextOpen(t)
	et := next.In(ET)
	return fmt.Sprintf("Market Closed, opens %s %s ET (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(next.Sub(t)))
}

// Session gates order entry on the NYSE calendar.
type Session struct{}

// IsOpen implements the ledger's session check.
func (Session) IsOpen(t time.Time) bool { return IsMarketOpen(t) }

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
