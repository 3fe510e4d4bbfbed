package legacy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date and time fields come out of the legacy store as strings in several
// formats, sometimes with a fractional-seconds suffix. Everything here
// parses defensively and never panics on feed garbage.

var dateFormats = []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05"}

// ParseDate extracts the civil date from a legacy date value.
func ParseDate(value string) (time.Time, error) {
	s := stripFraction(value)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	for _, fmtStr := range dateFormats {
		if t, err := time.Parse(fmtStr, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	// Last resort: loose YYYY-M-D.
	parts := strings.Split(s, "-")
	if len(parts) == 3 {
		y, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		d, err3 := strconv.Atoi(parts[2])
		if err1 == nil && err2 == nil && err3 == nil {
			return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable legacy date %q", value)
}

// Clock is a time of day without a date.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight, for ordering comparisons.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// ParseClock extracts the time of day from a legacy time value. Values like
// "2024-03-01 08:00:00.000" keep only the clock part.
func ParseClock(value string) (Clock, error) {
	s := stripFraction(value)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[i+1:]
	}
	for _, fmtStr := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(fmtStr, s); err == nil {
			return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return Clock{}, fmt.Errorf("unparseable legacy time %q", value)
}

// ParseTimestamp parses a full legacy change timestamp.
func ParseTimestamp(value string) (time.Time, error) {
	s := stripFraction(value)
	for _, fmtStr := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(fmtStr, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable legacy timestamp %q", value)
}

// DisplayDate renders a legacy date value the way patients read it,
// DD-MM-YYYY. Unparseable values fall back to the raw literal.
func DisplayDate(value string) string {
	if t, err := ParseDate(value); err == nil {
		return t.Format("02-01-2006")
	}
	return DateLiteral(value)
}

// DisplayClock renders a legacy time value as HH:MM, falling back to the
// raw literal.
func DisplayClock(value string) string {
	if c, err := ParseClock(value); err == nil {
		return c.String()
	}
	return TimeLiteral(value)
}

// DateLiteral keeps the date part of a raw legacy value verbatim.
func DateLiteral(value string) string {
	s := strings.TrimSpace(value)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	return s
}

// TimeLiteral keeps the clock part of a raw legacy value verbatim.
func TimeLiteral(value string) string {
	s := stripFraction(value)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func stripFraction(value string) string {
	s := strings.TrimSpace(value)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return s
}
