// Package sector builds the pairwise sector-length table and split
// windows used by the passing engine: a ring of configured measurement
// points with plausible transit-time bounds on every arc.
package sector

import (
	"fmt"

	"github.com/mjolnir42/velotrain/internal/config"
)

// MP is one ring entry: its neighbours, the sector arriving at it from
// Prev, and the splits it reports on arrival.
type MP struct {
	ID      string
	Prev    string
	Next    string
	SLen    float64 // length of the sector ending at this MP
	SID     string  // sector identifier, "<prev>-<id>"
	MinTime float64
	MaxTime float64
	Splits  []Split
}

// Split is one qualifying split distance reported when a passing lands
// on MP.ID, measured back to Split.Src.
type Split struct {
	Name string // "lap", "half", "qtr", "200", "100", "50"
	Src  string
	Min  float64
	Max  float64
	Len  float64
}

// GateSector is the synthetic entrance sector from the start-gate loop
// to the first configured MP after it, with its own min/max window
// derived from mingate/maxgate rather than minspeed/maxspeed.
type GateSector struct {
	Src     string
	Next    string
	Len     float64
	MinTime float64
	MaxTime float64
}

// Map is the built sector ring plus the synthetic gate entry.
type Map struct {
	LapLen float64
	MPs    map[string]*MP
	Gate   *GateSector // nil unless gatesrc is configured
	order  []string
}

// pairLength returns the on-track distance from src to dst given their
// lap offsets, wrapping through the start/finish line when dst lies
// behind src.
func pairLength(lapLen, offsSrc, offsDst float64) float64 {
	if offsSrc < offsDst {
		return offsDst - offsSrc
	}
	return lapLen - offsSrc + offsDst
}

// dr2t converts a distance in metres and a rate in km/h to a duration
// in seconds.
func dr2t(distM, rateKmh float64) float64 {
	if rateKmh <= 0 {
		return 0
	}
	return distM / (rateKmh / 3.6)
}

// Build constructs the sector ring from the configured MP sequence,
// filtering out MPs that aren't active, and computes every declared
// split's length.
func Build(cfg *config.Config) (*Map, error) {
	if cfg.LapLen <= 0 {
		return nil, fmt.Errorf("sector: lap length must be positive, got %v", cfg.LapLen)
	}

	m := &Map{LapLen: cfg.LapLen, MPs: map[string]*MP{}}
	for _, id := range cfg.MPSeq {
		mc, ok := cfg.MPs[id]
		if !ok || !mc.Active {
			continue
		}
		m.order = append(m.order, id)
		m.MPs[id] = &MP{ID: id}
	}
	if len(m.order) == 0 {
		return nil, fmt.Errorf("sector: no active measurement points configured")
	}

	offsets := make(map[string]float64, len(m.order))
	for _, id := range m.order {
		if off := cfg.MPs[id].Offset; off != nil {
			offsets[id] = *off
		}
	}

	n := len(m.order)
	for i, id := range m.order {
		prev := m.order[(i-1+n)%n]
		next := m.order[(i+1)%n]
		mp := m.MPs[id]
		mp.Prev = prev
		mp.Next = next

		var slen float64
		if prev == id {
			slen = cfg.LapLen
		} else {
			slen = pairLength(cfg.LapLen, offsets[prev], offsets[id])
		}
		mp.SLen = slen
		mp.SID = prev + "-" + id
		mp.MinTime = minSectorTime(slen, cfg)
		mp.MaxTime = maxSectorTime(slen, cfg)

		mc := cfg.MPs[id]
		mp.Splits = buildSplits(id, mc, offsets, cfg)
	}

	if cfg.GateSrc != "" {
		if gmp, ok := m.MPs[cfg.GateSrc]; ok {
			next := gmp.Next
			var seclen float64
			if nmp, ok := m.MPs[next]; ok && nmp.Prev == cfg.GateSrc {
				seclen = nmp.SLen
			} else {
				seclen = pairLength(cfg.LapLen, offsets[cfg.GateSrc], offsets[next])
			}
			m.Gate = &GateSector{
				Src:     cfg.GateSrc,
				Next:    next,
				Len:     seclen,
				MinTime: dr2t(seclen, cfg.MaxGate),
				MaxTime: dr2t(seclen, cfg.MinGate),
			}
		}
	}

	return m, nil
}

// buildSplits computes the lap/half/qtr/200/100/50 split windows this
// MP (id) reports on arrival, one per declared source in mc.
func buildSplits(id string, mc config.MPConfig, offsets map[string]float64, cfg *config.Config) []Split {
	type decl struct {
		name string
		src  string
	}
	decls := []decl{
		{"lap", mc.Lap}, {"half", mc.Half}, {"qtr", mc.Qtr},
		{"200", mc.Split200}, {"100", mc.Split100}, {"50", mc.Split50},
	}

	var splits []Split
	for _, d := range decls {
		if d.src == "" {
			continue
		}
		if _, ok := offsets[d.src]; !ok {
			continue
		}
		var length float64
		if d.src == id {
			length = cfg.LapLen
		} else {
			length = pairLength(cfg.LapLen, offsets[d.src], offsets[id])
		}
		splits = append(splits, Split{
			Name: d.name,
			Src:  d.src,
			Min:  dr2t(length, cfg.MaxSpeed),
			Max:  dr2t(length, cfg.MinSpeed),
			Len:  length,
		})
	}
	return splits
}

// minSectorTime/maxSectorTime derive the plausible dwell window for a
// sector of the given length from the configured speed envelope,
// expressed in km/h.
func minSectorTime(slen float64, cfg *config.Config) float64 {
	return dr2t(slen, cfg.MaxSpeed)
}

func maxSectorTime(slen float64, cfg *config.Config) float64 {
	return dr2t(slen, cfg.MinSpeed)
}

// Prev returns the predecessor MP id in the ring, or "" if id is unknown.
func (m *Map) Prev(id string) string {
	if mp, ok := m.MPs[id]; ok {
		return mp.Prev
	}
	return ""
}

// Window returns the (min, max) plausible dwell time for a sector
// ending at id.
func (m *Map) Window(id string) (float64, float64) {
	if mp, ok := m.MPs[id]; ok {
		return mp.MinTime, mp.MaxTime
	}
	return 0, 0
}
