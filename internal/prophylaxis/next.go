package prophylaxis

import "time"

// NextWeekly returns the next weekday at hour:minute in loc strictly after now.
// Today qualifies when it is the weekday and the time has not passed yet.
func NextWeekly(now time.Time, weekday time.Weekday, hour, minute int, loc *time.Location) time.Time {
	n := now.In(loc)
	daysAhead := (int(weekday) - int(n.Weekday()) + 7) % 7

	candidate := time.Date(n.Year(), n.Month(), n.Day()+daysAhead, hour, minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = time.Date(n.Year(), n.Month(), n.Day()+daysAhead+7, hour, minute, 0, 0, loc)
	}
	return candidate
}

// NextInterval returns the next period boundary of a rule that fires every
// periodDays calendar days from start. Before start the start itself is returned.
// Days are counted on the calendar in start's location so DST shifts do not
// move the wall clock time.
func NextInterval(now, start time.Time, periodDays int) time.Time {
	if now.Before(start) {
		return start
	}
	if periodDays <= 0 {
		periodDays = 1
	}

	loc := start.Location()
	s := start
	n := now.In(loc)

	elapsed := dayNumber(n) - dayNumber(s)
	periods := elapsed / periodDays

	candidate := time.Date(s.Year(), s.Month(), s.Day()+periods*periodDays, s.Hour(), s.Minute(), 0, 0, loc)
	if !candidate.After(now) {
		candidate = time.Date(s.Year(), s.Month(), s.Day()+(periods+1)*periodDays, s.Hour(), s.Minute(), 0, 0, loc)
	}
	return candidate
}

// dayNumber counts calendar days since the Unix epoch for t's local date
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}
