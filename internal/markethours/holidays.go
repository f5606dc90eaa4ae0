package markethours

import "time"

type day struct {
	year  int
	month time.Month
	day   int
}

// NYSE full-day closures. Source: NYSE published holiday calendar.
var nyseHolidays = []day{
	{2026, time.January, 1},   // New Year's Day
	{2026, time.January, 19},  // Martin Luther King Jr. Day
	{2026, time.February, 16}, // Washington's Birthday
	{2026, time.April, 3},     // Good Friday
	{2026, time.May, 25},      // Memorial Day
	{2026, time.June, 19},     // Juneteenth
	{2026, time.July, 3},      // Independence Day (observed)
	{2026, time.September, 7}, // Labor Day
	{2026, time.November, 26}, // Thanksgiving
	{2026, time.December, 25}, // Christmas
	{2027, time.January, 1},   // New Year's Day
	{2027, time.January, 18},  // Martin Luther King Jr. Day
	{2027, time.February, 15}, // Washington's Birthday
	{2027, time.March, 26},    // Good Friday
	{2027, time.May, 31},      // Memorial Day
	{2027, time.June, 18},     // Juneteenth (observed)
	{2027, time.July, 5},      // Independence Day (observed)
	{2027, time.September, 6}, // Labor Day
	{2027, time.November, 25}, // Thanksgiving
	{2027, time.December, 24}, // Christmas (observed)
}

// Sessions that close at 1:00 PM ET.
var nyseEarlyCloses = []day{
	{2026, time.November, 27},
	{2026, time.December, 24},
	{2027, time.November, 26},
}

var (
	holidaySet    map[string]bool
	earlyCloseSet map[string]bool
)

func init() {
	holidaySet = make(map[string]bool, len(nyseHolidays))
	for _, h := range nyseHolidays {
		holidaySet[dateKey(h.year, h.month, h.day)] = true
	}
	earlyCloseSet = make(map[string]bool, len(nyseEarlyCloses))
	for _, h := range nyseEarlyCloses {
		earlyCloseSet[dateKey(h.year, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the date (in ET) is an NYSE holiday.
func IsHoliday(t time.Time) bool {
	et := t.In(ET)
	return holidaySet[dateKey(et.Year(), et.Month(), et.Day())]
}

// IsEarlyClose returns true if the date (in ET) is a 1:00 PM close.
func IsEarlyClose(t time.Time) bool {
	et := t.In(ET)
	return earlyCloseSet[dateKey(et.Year(), et.Month(), et.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
