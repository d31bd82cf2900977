// Package session defines the session-log entry type shared by the
// passing engine (which appends to it) and replay queries (which
// filter it), kept in its own leaf package so neither of those needs
// to import the other for this one shared shape.
package session

import (
	"strconv"

	"github.com/mjolnir42/velotrain/internal/tod"
)

// Record is one entry in the append-only session log: a processed
// passing, an isolated match, a marker, or a synthetic gate/system
// event. Field layout mirrors the wire "processed passing" payload
// directly so publishing and replaying don't need a separate
// marshalling step.
type Record struct {
	Index    int       `json:"index"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	MPID     int       `json:"mpid"`
	RefID    string    `json:"refid"`
	Env      []float64 `json:"env,omitempty"`
	Moto     string    `json:"moto,omitempty"`
	Elap     string    `json:"elap,omitempty"`
	Lap      string    `json:"lap,omitempty"`
	Half     string    `json:"half,omitempty"`
	Qtr      string    `json:"qtr,omitempty"`
	Split200 string    `json:"200,omitempty"`
	Split100 string    `json:"100,omitempty"`
	Split50  string    `json:"50,omitempty"`
	Text     string    `json:"text,omitempty"`
	MP       string    `json:"-"` // channel id ("C1".."C9"), internal only
	TOD      tod.TOD   `json:"-"` // precise emission time, for filtering
}

// IsMarker reports whether r is a manual marker record.
func (r Record) IsMarker() bool { return r.RefID == "marker" }

// ChanID extracts the numeric measurement-point id from a "C<n>"
// channel name, returning 0 for anything else - the synthetic
// gate/marker records carry mpid 0.
func ChanID(mp string) int {
	if len(mp) < 2 || mp[0] != 'C' {
		return 0
	}
	n, err := strconv.Atoi(mp[1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
