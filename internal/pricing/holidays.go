package pricing

import "time"

// HolidayCalendar answers whether a calendar date is a listed holiday.
type HolidayCalendar interface {
	IsHoliday(date time.Time) bool
}

// StaticHolidays is a date-set calendar. A missing or empty list means every
// day is treated as a regular day.
type StaticHolidays struct {
	dates map[string]bool
}

// NewStaticHolidays builds a calendar from a list of dates. Time-of-day is
// ignored.
func NewStaticHolidays(dates []time.Time) *StaticHolidays {
	m := make(map[string]bool, len(dates))
	for _, d := range dates {
		m[dayKey(d)] = true
	}
	return &StaticHolidays{dates: m}
}

func (h *StaticHolidays) IsHoliday(date time.Time) bool {
	if h == nil || len(h.dates) == 0 {
		return false
	}
	return h.dates[dayKey(date)]
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
