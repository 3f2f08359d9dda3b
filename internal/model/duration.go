package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration carried on the wire as an xs:duration such as
// "PT5S" or "P1DT2H".
type Duration time.Duration

var errBadDuration = errors.New("invalid xs:duration")

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(FormatDuration(time.Duration(d))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// FormatDuration renders d as an xs:duration. Days are the largest unit
// emitted because months and years have no fixed length.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if d == 0 {
		return b.String()
	}
	b.WriteByte('T')
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if d > 0 {
		secs := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
		fmt.Fprintf(&b, "%sS", secs)
	}
	return b.String()
}

// ParseDuration parses an xs:duration. Years count as 365 days and months
// as 30 days.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errBadDuration
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if len(s) < 2 || s[0] != 'P' {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}
	s = s[1:]
	var (
		total   time.Duration
		inTime  bool
		sawUnit bool
	)
	for len(s) > 0 {
		if s[0] == 'T' {
			if inTime {
				return 0, fmt.Errorf("%w: repeated T", errBadDuration)
			}
			inTime = true
			s = s[1:]
			if s == "" {
				return 0, fmt.Errorf("%w: empty time part", errBadDuration)
			}
			continue
		}
		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("%w: %q", errBadDuration, s)
		}
		num, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", errBadDuration, err)
		}
		var unit time.Duration
		switch c := s[i]; {
		case !inTime && c == 'Y':
			unit = 365 * 24 * time.Hour
		case !inTime && c == 'M':
			unit = 30 * 24 * time.Hour
		case !inTime && c == 'D':
			unit = 24 * time.Hour
		case inTime && c == 'H':
			unit = time.Hour
		case inTime && c == 'M':
			unit = time.Minute
		case inTime && c == 'S':
			unit = time.Second
		default:
			return 0, fmt.Errorf("%w: unexpected designator %q", errBadDuration, c)
		}
		total += time.Duration(num * float64(unit))
		sawUnit = true
		s = s[i+1:]
	}
	if !sawUnit {
		return 0, fmt.Errorf("%w: no components", errBadDuration)
	}
	if neg {
		total = -total
	}
	return total, nil
}
