package gaps

import "time"

// Calendar reports, for a given market kind, which days have no trading
// session at all. It does not model partial/early-close sessions.
type Calendar interface {
	IsTradingDay(t time.Time) bool
}

// weekdayCalendar closes on a configurable set of weekdays plus an explicit
// holiday-date set, matching the shape every equity/FX market calendar needs.
type weekdayCalendar struct {
	closedWeekdays map[time.Weekday]bool
	holidays       map[string]bool // "YYYY-MM-DD" in the calendar's own timezone
}

func (c *weekdayCalendar) IsTradingDay(t time.Time) bool {
	if c.closedWeekdays[t.Weekday()] {
		return false
	}
	key := t.Format("2006-01-02")
	return !c.holidays[key]
}

func dateSet(dates ...string) map[string]bool {
	m := make(map[string]bool, len(dates))
	for _, d := range dates {
		m[d] = true
	}
	return m
}

// usEquityHolidays lists full-day NYSE closures for the current and next
// calendar year. Extend this list annually; it intentionally does not
// compute moving holidays (Good Friday, observed weekend shifts) at runtime
// so the set can be audited against the exchange's published schedule.
var usEquityHolidays = dateSet(
	// 2026
	"2026-01-01", // New Year's Day
	"2026-01-19", // Martin Luther King Jr. Day
	"2026-02-16", // Washington's Birthday
	"2026-04-03", // Good Friday
	"2026-05-25", // Memorial Day
	"2026-06-19", // Juneteenth
	"2026-07-03", // Independence Day (observed, falls on a Saturday)
	"2026-09-07", // Labor Day
	"2026-11-26", // Thanksgiving Day
	"2026-12-25", // Christmas Day
	// 2027
	"2027-01-01", // New Year's Day
	"2027-01-18", // Martin Luther King Jr. Day
	"2027-02-15", // Washington's Birthday
	"2027-03-26", // Good Friday
	"2027-05-31", // Memorial Day
	"2027-06-18", // Juneteenth (observed, falls on a Saturday)
	"2027-07-05", // Independence Day (observed, falls on a Sunday)
	"2027-09-06", // Labor Day
	"2027-11-25", // Thanksgiving Day
	"2027-12-24", // Christmas Day (observed, falls on a Saturday)
)

// NewUSEquityCalendar returns the NYSE/Nasdaq-style calendar: closed
// Saturday/Sunday plus the full-day holiday set above.
func NewUSEquityCalendar() Calendar {
	return &weekdayCalendar{
		closedWeekdays: map[time.Weekday]bool{time.Saturday: true, time.Sunday: true},
		holidays:       usEquityHolidays,
	}
}

// euEquityHolidays lists LSE-style full-day closures for 2026 and 2027,
// with each year's Good Friday and Easter Monday pinned as plain dates.
var euEquityHolidays = dateSet(
	"2026-01-01", "2026-04-03", "2026-04-06", "2026-05-25", "2026-12-25", "2026-12-28",
	"2027-01-01", "2027-03-26", "2027-03-29", "2027-05-31", "2027-12-27", "2027-12-28",
)

// NewEUEquityCalendar returns an LSE-style calendar: closed Saturday/Sunday
// plus a fixed-date-plus-Easter holiday set.
func NewEUEquityCalendar() Calendar {
	return &weekdayCalendar{
		closedWeekdays: map[time.Weekday]bool{time.Saturday: true, time.Sunday: true},
		holidays:       euEquityHolidays,
	}
}

// cryptoCalendar never closes: every day is a trading day.
type cryptoCalendar struct{}

func (cryptoCalendar) IsTradingDay(time.Time) bool { return true }

// NewCryptoCalendar returns a 24/7 calendar.
func NewCryptoCalendar() Calendar { return cryptoCalendar{} }

// NewForexCalendar returns the standard FX week: closed only on Saturday and
// the portion of Sunday before the Sydney open. We approximate this as a
// full-Saturday, full-Sunday closure at the daily-bar granularity the gap
// detector operates on; intraday FX session boundaries are out of scope here.
func NewForexCalendar() Calendar {
	return &weekdayCalendar{
		closedWeekdays: map[time.Weekday]bool{time.Saturday: true, time.Sunday: true},
	}
}
