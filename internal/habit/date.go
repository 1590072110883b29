package habit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format for calendar dates ("YYYY-MM-DD").
const DateLayout = "2006-01-02"

// DefaultOffsetMinutes is the timezone offset assumed for users who never
// configured one (UTC+3).
const DefaultOffsetMinutes = 180

// Offsets outside this window don't exist on the real timezone map.
const (
	MinOffsetMinutes = -12 * 60
	MaxOffsetMinutes = 14 * 60
)

var ErrOffsetRange = fmt.Errorf("timezone offset must be between %d and %d minutes", MinOffsetMinutes, MaxOffsetMinutes)

// Date is a calendar date in a fixed proleptic Gregorian calendar.
// It carries no time-of-day and no zone; two Dates compare by calendar
// position only. The zero value means "unset".
type Date struct {
	t time.Time // always midnight UTC
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustDate is a test/constant helper; it panics on malformed input.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool   { return d.t.IsZero() }
func (d Date) String() string { return d.t.Format(DateLayout) }

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Weekday returns the day of week, 0=Sunday .. 6=Saturday.
func (d Date) Weekday() int { return int(d.t.Weekday()) }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }

// DaysBetween returns the whole calendar-day difference to-from.
// Both dates sit at midnight UTC, so the division is exact (no DST drift).
func DaysBetween(from, to Date) int {
	return int(to.t.Sub(from.t) / (24 * time.Hour))
}

// LocalDate converts a UTC instant into a user's local calendar date by
// applying their fixed offset. No DST, no IANA rules.
func LocalDate(now time.Time, offsetMinutes int) Date {
	lt := now.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
	return NewDate(lt.Year(), lt.Month(), lt.Day())
}

// LocalMinutes returns the user's local minute-of-day [0,1439] for the
// given instant.
func LocalMinutes(now time.Time, offsetMinutes int) int {
	lt := now.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
	return lt.Hour()*60 + lt.Minute()
}

// ValidateOffset checks a user-supplied timezone offset in minutes.
func ValidateOffset(offsetMinutes int) error {
	if offsetMinutes < MinOffsetMinutes || offsetMinutes > MaxOffsetMinutes {
		return ErrOffsetRange
	}
	return nil
}

// ParseClock parses a 24-hour "HH:MM" string into minutes after local
// midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return 0, errors.New("invalid time: want HH:MM")
	}
	h, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, fmt.Errorf("invalid hour %q", s[:i])
	}
	m, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return 0, fmt.Errorf("invalid minute %q", s[i+1:])
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range", h)
	}
	if m < 0 || m > 59 {
		return 0, fmt.Errorf("minute %d out of range", m)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
