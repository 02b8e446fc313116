// Package bytesize parses and formats byte counts with binary (1024-base)
// units. "5MB", "1.5 GB", "500 KiB" and bare numbers ("1024") are all
// accepted; unit names are case-insensitive and the IEC "i" infix is
// tolerated but does not change the base.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
	TB Size = 1 << 40
	PB Size = 1 << 50
)

// unitOf resolves a unit name to its size. The name is normalized by
// lowercasing and stripping a trailing "b"/"ib", so "K", "kb" and "KiB"
// all resolve to KB.
func unitOf(name string) (Size, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, "ib")
	n = strings.TrimSuffix(n, "b")
	switch n {
	case "", "byte", "bytes":
		return B, true
	case "k":
		return KB, true
	case "m":
		return MB, true
	case "g":
		return GB, true
	case "t":
		return TB, true
	case "p":
		return PB, true
	}
	return 0, false
}

// Parse converts a human-readable size string into a Size. A missing unit
// means bytes.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	// Split at the first non-numeric rune; everything after is the unit.
	split := len(trimmed)
	for i, r := range trimmed {
		if (r < '0' || r > '9') && r != '.' {
			split = i
			break
		}
	}
	valueStr := strings.TrimSpace(trimmed[:split])
	unitStr := strings.TrimSpace(trimmed[split:])
	if valueStr == "" {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	unit, ok := unitOf(unitStr)
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unitStr)
	}

	// Integer values stay exact; floats only when a decimal point appears.
	if !strings.Contains(valueStr, ".") {
		value, err := strconv.ParseInt(valueStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bytesize: invalid number %q: %w", valueStr, err)
		}
		return Size(value) * unit, nil
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", valueStr, err)
	}
	return Size(value * float64(unit)), nil
}

// MustParse is like Parse but panics on invalid input. For constants only.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// formatUnits is the lookup order for Format, largest first.
var formatUnits = []struct {
	size   Size
	suffix string
}{
	{PB, "PB"},
	{TB, "TB"},
	{GB, "GB"},
	{MB, "MB"},
	{KB, "KB"},
}

// Format renders a size with the largest unit it fills at least once,
// keeping up to two decimals: Format(1536*KB) is "1.5MB".
func Format(s Size) string {
	var sign string
	if s < 0 {
		sign = "-"
		s = -s
	}

	for _, u := range formatUnits {
		if s < u.size {
			continue
		}
		value := float64(s) / float64(u.size)
		if value == float64(int64(value)) {
			return fmt.Sprintf("%s%d%s", sign, int64(value), u.suffix)
		}
		text := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", value), "0"), ".")
		return sign + text + u.suffix
	}
	return fmt.Sprintf("%s%dB", sign, s)
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 { return int64(s) }

// Int64 is an alias for Bytes.
func (s Size) Int64() int64 { return int64(s) }

func (s Size) String() string { return Format(s) }
