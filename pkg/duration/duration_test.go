package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Duration
	}{
		{"zero", "0", 0},
		{"seconds", "45s", 45 * time.Second},
		{"minutes", "30m", 30 * time.Minute},
		{"hours", "12h", 12 * time.Hour},
		{"days", "7d", 7 * Day},
		{"weeks", "2w", 2 * Week},
		{"months", "3mo", 3 * Month},
		{"years", "1y", Year},
		{"compound", "1h30m", 90 * time.Minute},
		{"compound calendar", "1w2d12h", Week + 2*Day + 12*time.Hour},
		{"spelled out", "30 days", 30 * Day},
		{"spelled out plural", "2 weeks", 2 * Week},
		{"mixed spelling", "1 day 6 hours", Day + 6*time.Hour},
		{"uppercase", "7D", 7 * Day},
		{"fractional", "1.5h", 90 * time.Minute},
		{"milliseconds", "250ms", 250 * time.Millisecond},
		{"negative", "-2d", -2 * Day},
		{"surrounding whitespace", "  3d  ", 3 * Day},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"unit only", "d"},
		{"unknown unit", "5fortnights"},
		{"garbage", "not a duration"},
		{"trailing garbage", "5d extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParse_LargeValuesExact(t *testing.T) {
	// Integer inputs must not round through float64.
	got, err := Parse("2562047h")
	require.NoError(t, err)
	assert.Equal(t, 2562047*time.Hour, got)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		input time.Duration
		want  string
	}{
		{"zero", 0, "0s"},
		{"seconds", 45 * time.Second, "45s"},
		{"minutes", 30 * time.Minute, "30m"},
		{"hours", 12 * time.Hour, "12h"},
		{"days", 3 * Day, "3d"},
		{"weeks", 2 * Week, "2w"},
		{"hours minutes", 90 * time.Minute, "1h30m"},
		{"weeks days", 9 * Day, "1w2d"},
		{"weeks days hours", 9*Day + 12*time.Hour, "1w2d12h"},
		{"year", Year, "1y"},
		{"milliseconds", 250 * time.Millisecond, "250ms"},
		{"negative", -2 * Day, "-2d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.input))
		})
	}
}

func TestFormat_RoundTrips(t *testing.T) {
	for _, d := range []time.Duration{0, time.Second, 90 * time.Minute, 9 * Day, Year + Month + Week} {
		got, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}

func TestMustParse_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustParse("bogus") })
	assert.Equal(t, 7*Day, MustParse("7d"))
}
