package domain

import (
	"fmt"
	"time"
)

// ServiceDay is the calendar date under which quota is tracked.
type ServiceDay struct {
	Year  int
	Month time.Month
	Day   int
}

// ServiceDayOf returns the calendar date of t in loc.
func ServiceDayOf(t time.Time, loc *time.Location) ServiceDay {
	y, m, d := t.In(loc).Date()
	return ServiceDay{Year: y, Month: m, Day: d}
}

// Time returns midnight UTC of the day, the representation used for DATE columns.
func (d ServiceDay) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d ServiceDay) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d ServiceDay) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *ServiceDay) UnmarshalText(b []byte) error {
	parsed, err := ParseServiceDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseServiceDay reads a YYYY-MM-DD date.
func ParseServiceDay(s string) (ServiceDay, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return ServiceDay{}, fmt.Errorf("%w: service day %q", ErrInvalidInput, s)
	}
	y, m, d := t.Date()
	return ServiceDay{Year: y, Month: m, Day: d}, nil
}

type DailyQuota struct {
	UserID     int64
	ServiceDay ServiceDay
	PaidCount  int
}
