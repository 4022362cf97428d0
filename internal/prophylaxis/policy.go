package prophylaxis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/store"
)

// Fixed alarm identifiers, one per mode. Scheduling a mode always replaces
// the alarm registered under its ID.
const (
	AlarmIDWeekly   = 1001
	AlarmIDInterval = 1002
)

// AlarmID returns the fixed alarm identifier of mode
func AlarmID(mode string) (int, error) {
	switch mode {
	case store.ModeWeekly:
		return AlarmIDWeekly, nil
	case store.ModeInterval:
		return AlarmIDInterval, nil
	}
	return 0, apperrors.ErrInvalidPolicy.WithMessage("unknown reminder mode %q", mode)
}

// Policy is a validated reminder rule
type Policy struct {
	Mode     string
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Every    int    // interval count
	Unit     string // days or weeks
	Start    time.Time
	Location *time.Location
}

// PolicyFromConfig validates rc and converts it into a Policy evaluated in loc
func PolicyFromConfig(rc *store.ReminderConfig, loc *time.Location) (Policy, error) {
	if loc == nil {
		loc = time.Local
	}
	h, m, err := ParseTimeOfDay(rc.TimeOfDay)
	if err != nil {
		return Policy{}, err
	}

	p := Policy{Mode: rc.Mode, Hour: h, Minute: m, Location: loc}

	switch rc.Mode {
	case store.ModeWeekly:
		if rc.Weekday < 0 || rc.Weekday > 6 {
			return Policy{}, apperrors.ErrInvalidPolicy.WithMessage("weekday must be 0-6, got %d", rc.Weekday)
		}
		p.Weekday = time.Weekday(rc.Weekday)

	case store.ModeInterval:
		if rc.IntervalCount <= 0 {
			return Policy{}, apperrors.ErrInvalidPolicy.WithMessage("interval count must be positive")
		}
		if rc.IntervalUnit != store.UnitDays && rc.IntervalUnit != store.UnitWeeks {
			return Policy{}, apperrors.ErrInvalidPolicy.WithMessage("interval unit must be days or weeks, got %q", rc.IntervalUnit)
		}
		if rc.StartDate.IsZero() {
			return Policy{}, apperrors.ErrInvalidPolicy.WithMessage("interval reminders need a start date")
		}
		p.Every = rc.IntervalCount
		p.Unit = rc.IntervalUnit
		// only the calendar date of StartDate counts; the time comes from TimeOfDay
		y, mo, d := rc.StartDate.In(loc).Date()
		p.Start = time.Date(y, mo, d, h, m, 0, 0, loc)

	default:
		return Policy{}, apperrors.ErrInvalidPolicy.WithMessage("unknown reminder mode %q", rc.Mode)
	}

	return p, nil
}

// ParseTimeOfDay parses "HH:MM" in 24 hour form
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, apperrors.ErrInvalidPolicy.WithMessage("time of day must be HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, apperrors.ErrInvalidPolicy.WithMessage("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, apperrors.ErrInvalidPolicy.WithMessage("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// PeriodDays is the length of one interval period in days
func (p Policy) PeriodDays() int {
	if p.Unit == store.UnitWeeks {
		return p.Every * 7
	}
	return p.Every
}

// Next returns the first trigger instant strictly after now
func (p Policy) Next(now time.Time) time.Time {
	if p.Mode == store.ModeWeekly {
		return NextWeekly(now, p.Weekday, p.Hour, p.Minute, p.Location)
	}
	return NextInterval(now, p.Start, p.PeriodDays())
}

func (p Policy) String() string {
	if p.Mode == store.ModeWeekly {
		return fmt.Sprintf("every %s at %02d:%02d", p.Weekday, p.Hour, p.Minute)
	}
	return fmt.Sprintf("every %d %s from %s at %02d:%02d", p.Every, p.Unit, p.Start.Format("2006-01-02"), p.Hour, p.Minute)
}
