// Package tod implements the fixed-point time-of-day arithmetic used
// throughout the timing engine: a signed second count with millisecond
// resolution, supporting truncation, rounding, and comparison.
package tod

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TOD is a time-of-day value stored as whole milliseconds. Using an
// integer rather than a float keeps addition/subtraction exact, which
// matters for the choke/isolate windows in internal/engine.
type TOD struct {
	ms int64
}

// ZERO is the distinguished zero value.
var ZERO = TOD{}

// New builds a TOD from a count of seconds.
func New(seconds float64) TOD {
	return TOD{ms: int64(math.Round(seconds * 1000))}
}

// FromMillis builds a TOD directly from a millisecond count.
func FromMillis(ms int64) TOD {
	return TOD{ms: ms}
}

// Now returns the current wall-clock time of day, seconds since midnight.
func Now() TOD {
	t := time.Now()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return TOD{ms: t.Sub(midnight).Milliseconds()}
}

// Parse reads a "HH:MM:SS.fff" or "SS.fff" or "S.fff" clock string, as
// emitted by the decoder protocol's passing/status frames. A bare
// numeric string is taken as a seconds count.
func Parse(s string) (TOD, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ZERO, fmt.Errorf("tod: empty string")
	}
	parts := strings.Split(s, ":")
	var secs float64
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return ZERO, fmt.Errorf("tod: %w", err)
		}
		secs = v
	case 2, 3:
		var h, m float64
		var err error
		idx := 0
		if len(parts) == 3 {
			h, err = strconv.ParseFloat(parts[0], 64)
			if err != nil {
				return ZERO, fmt.Errorf("tod: %w", err)
			}
			idx = 1
		}
		m, err = strconv.ParseFloat(parts[idx], 64)
		if err != nil {
			return ZERO, fmt.Errorf("tod: %w", err)
		}
		sv, err := strconv.ParseFloat(parts[idx+1], 64)
		if err != nil {
			return ZERO, fmt.Errorf("tod: %w", err)
		}
		secs = h*3600 + m*60 + sv
	default:
		return ZERO, fmt.Errorf("tod: invalid format %q", s)
	}
	return New(secs), nil
}

// Seconds returns the value as a float64 second count.
func (t TOD) Seconds() float64 { return float64(t.ms) / 1000.0 }

// Millis returns the raw millisecond count.
func (t TOD) Millis() int64 { return t.ms }

// Add returns t+o.
func (t TOD) Add(o TOD) TOD { return TOD{ms: t.ms + o.ms} }

// Sub returns t-o.
func (t TOD) Sub(o TOD) TOD { return TOD{ms: t.ms - o.ms} }

// Before reports whether t < o.
func (t TOD) Before(o TOD) bool { return t.ms < o.ms }

// After reports whether t > o.
func (t TOD) After(o TOD) bool { return t.ms > o.ms }

// Equal reports whether t == o.
func (t TOD) Equal(o TOD) bool { return t.ms == o.ms }

// Cmp returns -1, 0 or 1 as t is less than, equal to, or greater than o.
func (t TOD) Cmp(o TOD) int {
	switch {
	case t.ms < o.ms:
		return -1
	case t.ms > o.ms:
		return 1
	default:
		return 0
	}
}

// Truncate drops all but the given number of decimal places (0-3).
func (t TOD) Truncate(places int) TOD {
	factor := placeFactor(places)
	return TOD{ms: (t.ms / factor) * factor}
}

// Round rounds to the given number of decimal places (0-3).
func (t TOD) Round(places int) TOD {
	factor := placeFactor(places)
	half := factor / 2
	if t.ms >= 0 {
		return TOD{ms: ((t.ms + half) / factor) * factor}
	}
	return TOD{ms: -(((-t.ms + half) / factor) * factor)}
}

func placeFactor(places int) int64 {
	switch {
	case places <= 0:
		return 1000
	case places == 1:
		return 100
	case places == 2:
		return 10
	default:
		return 1
	}
}

// RoundToMinute snaps to the nearest whole minute, used by the drift
// computation in the System-Pass Handler.
func (t TOD) RoundToMinute() TOD {
	const minuteMs int64 = 60_000
	half := minuteMs / 2
	var ms int64
	if t.ms >= 0 {
		ms = ((t.ms + half) / minuteMs) * minuteMs
	} else {
		ms = -(((-t.ms + half) / minuteMs) * minuteMs)
	}
	return TOD{ms: ms}
}

// Raw formats the value as HH:MM:SS with the given number of decimal
// places, always zero padded - the wire/log format used across the
// engine ("HH:MM:SS.fff").
func (t TOD) Raw(places int) string {
	neg := t.ms < 0
	ms := t.ms
	if neg {
		ms = -ms
	}
	whole := ms / 1000
	frac := ms % 1000
	h := whole / 3600
	m := (whole / 60) % 60
	s := whole % 60

	var fracStr string
	switch {
	case places <= 0:
		fracStr = ""
	case places == 1:
		fracStr = fmt.Sprintf(".%01d", frac/100)
	case places == 2:
		fracStr = fmt.Sprintf(".%02d", frac/10)
	default:
		fracStr = fmt.Sprintf(".%03d", frac)
	}
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%02d:%02d:%02d%s", sign, h, m, s, fracStr)
}

// AsSeconds formats the value as a bare seconds count with the given
// number of decimal places, as used in elapsed/split records.
func (t TOD) AsSeconds(places int) string {
	return strconv.FormatFloat(t.Seconds(), 'f', places, 64)
}

// String implements fmt.Stringer.
func (t TOD) String() string { return t.Raw(3) }
