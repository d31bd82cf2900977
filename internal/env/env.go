// Package env models the environment readings pushed to the DHI
// scoreboard, and a two-tier primary/fallback combinator: a primary
// sensor source wins whenever it reports a valid reading; a secondary
// source is used only when the primary is unavailable, and
// disagreement between live sources is logged. Concrete sensor drivers
// are external collaborators - only the combinator logic lives here.
package env

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Reading is one environmental sample: temperature (C), relative
// humidity (%) and barometric pressure (hPa).
type Reading struct {
	Temp     float64
	Humidity float64
	Pressure float64
}

// disagreeTemp is the temperature delta, in degrees C, above which two
// simultaneously valid sources are logged as disagreeing.
const disagreeTemp = 2.0

// Source is any sensor that can report a Reading, and whether it is
// currently valid.
type Source interface {
	Read() (Reading, bool)
}

// CombinedSource wraps a primary and a fallback Source, preferring the
// primary whenever it is valid.
type CombinedSource struct {
	Primary  Source
	Fallback Source
}

// NewCombined builds a CombinedSource. Either argument may be nil.
func NewCombined(primary, fallback Source) *CombinedSource {
	return &CombinedSource{Primary: primary, Fallback: fallback}
}

// Read implements Source, returning the primary reading when valid,
// else the fallback's, else (false) when neither is available.
func (c *CombinedSource) Read() (Reading, bool) {
	var (
		pr  Reading
		pok bool
		fr  Reading
		fok bool
	)
	if c.Primary != nil {
		pr, pok = c.Primary.Read()
	}
	if c.Fallback != nil {
		fr, fok = c.Fallback.Read()
	}

	if pok && fok && math.Abs(pr.Temp-fr.Temp) > disagreeTemp {
		logrus.Warnf("env: primary/fallback disagree: primary=%.1fC fallback=%.1fC", pr.Temp, fr.Temp)
	}

	if pok {
		return pr, true
	}
	if fok {
		return fr, true
	}
	return Reading{}, false
}
