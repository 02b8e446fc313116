// Package duration parses and formats human-readable durations. It accepts
// everything time.ParseDuration does plus calendar-style units: days (d),
// weeks (w), months (mo, 30 days) and years (y, 365 days). Units may be
// spelled out ("30 days", "2 weeks") and whitespace between value and unit
// is optional.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Calendar units, fixed-width by convention.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

// units maps every accepted spelling, lowercased, to its length.
var units = map[string]time.Duration{
	"y": Year, "yr": Year, "yrs": Year, "year": Year, "years": Year,
	"mo": Month, "mos": Month, "month": Month, "months": Month,
	"w": Week, "wk": Week, "wks": Week, "week": Week, "weeks": Week,
	"d": Day, "day": Day, "days": Day,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"ms": time.Millisecond, "milli": time.Millisecond, "millis": time.Millisecond,
	"millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"us": time.Microsecond, "µs": time.Microsecond, "micro": time.Microsecond, "micros": time.Microsecond,
	"microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ns": time.Nanosecond, "nano": time.Nanosecond, "nanos": time.Nanosecond,
	"nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
}

// tokenPattern matches one value-unit pair; longest unit spelling wins.
var tokenPattern = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*([a-zµ]+)`)

// Parse converts a human-readable duration string into a time.Duration.
// A leading "-" negates the whole value.
func Parse(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(trimmed, "-")
	trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
	if trimmed == "0" {
		return 0, nil
	}

	var total time.Duration
	var badToken string
	leftover := tokenPattern.ReplaceAllStringFunc(trimmed, func(token string) string {
		parts := tokenPattern.FindStringSubmatch(token)
		unit, ok := units[strings.ToLower(parts[2])]
		if !ok {
			badToken = token
			return ""
		}
		if strings.Contains(parts[1], ".") {
			value, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				badToken = token
				return ""
			}
			total += time.Duration(value * float64(unit))
		} else {
			value, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				badToken = token
				return ""
			}
			total += time.Duration(value) * unit
		}
		return ""
	})
	if badToken != "" {
		return 0, fmt.Errorf("duration: unknown unit in %q", badToken)
	}
	if strings.TrimSpace(leftover) != "" {
		return 0, fmt.Errorf("duration: cannot parse %q", s)
	}

	if negative {
		total = -total
	}
	return total, nil
}

// MustParse is like Parse but panics on invalid input. For constants only.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// formatSteps is the decomposition order for Format, largest unit first.
var formatSteps = []struct {
	unit   time.Duration
	suffix string
}{
	{Year, "y"},
	{Month, "mo"},
	{Week, "w"},
	{Day, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
	{time.Nanosecond, "ns"},
}

// Format renders a duration with the largest fitting units, omitting zero
// components: 90 minutes is "1h30m", 9 days is "1w2d".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, step := range formatSteps {
		if n := d / step.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, step.suffix)
			d -= n * step.unit
		}
	}
	return b.String()
}
