package domain

import "time"

// DateLayout is the calendar-day format used in every API response.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its own calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar day.
func Today() time.Time {
	return Day(time.Now())
}

// FormatDate renders a calendar day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses YYYY-MM-DD into a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
