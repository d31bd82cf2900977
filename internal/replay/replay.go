// Package replay implements the replay/query filter pipeline over the
// passing engine's session log: parsing a JSON request into a set of
// filters, then applying those filters in a fixed order - marker
// brackets, index range, time range, then mpid or refid.
package replay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mjolnir42/velotrain/internal/session"
)

// Filters is a parsed replay request: nil fields mean "no filter on
// that axis".
type Filters struct {
	Serial   string
	RefID    map[string]bool
	Marker   map[string]bool
	MPID     map[int]bool
	Time     [2]*string // [start, end], either may be nil
	Index    [2]*int    // [start, end], either may be nil
	hasTime  bool
	hasIndex bool
}

// ParseRequest decodes a request payload into Filters. A malformed or
// non-object payload yields a zero Filters (replay everything): a bad
// request still gets a replay, never a silent drop.
func ParseRequest(payload []byte) Filters {
	var f Filters
	var req map[string]interface{}
	if err := json.Unmarshal(payload, &req); err != nil {
		return f
	}

	if v, ok := req["serial"]; ok {
		f.Serial = fmt.Sprintf("%v", v)
	}
	if v, ok := req["refid"]; ok {
		f.RefID = val2strset(v)
	}
	if v, ok := req["marker"]; ok {
		f.Marker = val2strset(v)
	}
	if v, ok := req["mpid"]; ok {
		f.MPID = val2mpidset(v)
	}
	if v, ok := req["time"]; ok {
		if t0, t1, ok := val2timerange(v); ok {
			f.Time = [2]*string{t0, t1}
			f.hasTime = true
		}
	}
	if v, ok := req["index"]; ok {
		if i0, i1, ok := val2indexrange(v); ok {
			f.Index = [2]*int{i0, i1}
			f.hasIndex = true
		}
	}
	return f
}

// val2strset coerces a JSON value (string or array of strings) into a
// non-empty set of strings, or nil when the result would be empty.
func val2strset(v interface{}) map[string]bool {
	set := map[string]bool{}
	add := func(x interface{}) {
		s := fmt.Sprintf("%v", x)
		if s != "" {
			set[s] = true
		}
	}
	if arr, ok := v.([]interface{}); ok {
		for _, x := range arr {
			add(x)
		}
	} else {
		add(v)
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// val2mpidset coerces a JSON value into a set of numeric measurement-
// point ids, accepting either bare numbers or "C<n>" channel names.
func val2mpidset(v interface{}) map[int]bool {
	set := map[int]bool{}
	add := func(x interface{}) {
		if id, ok := toMPID(x); ok {
			set[id] = true
		}
	}
	if arr, ok := v.([]interface{}); ok {
		for _, x := range arr {
			add(x)
		}
	} else {
		add(v)
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func toMPID(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		if id := session.ChanID(x); id > 0 {
			return id, true
		}
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// val2timerange coerces a single value or a two-element array into a
// (start, end) time-string range, swapping the endpoints if given in
// reverse order. Values are expected already in the "HH:MM:SS.fff" wire
// format session.Record.Time uses, so range comparison stays a plain
// string comparison.
func val2timerange(v interface{}) (start, end *string, ok bool) {
	switch x := v.(type) {
	case []interface{}:
		switch len(x) {
		case 1:
			if s, ok2 := toTimeStr(x[0]); ok2 {
				start = &s
			}
		case 2:
			s0, ok0 := toTimeStr(x[0])
			s1, ok1 := toTimeStr(x[1])
			if ok0 {
				start = &s0
			}
			if ok1 {
				end = &s1
			}
			if start != nil && end != nil && *start > *end {
				start, end = end, start
			}
		}
	default:
		if s, ok2 := toTimeStr(x); ok2 {
			start = &s
		}
	}
	return start, end, start != nil || end != nil
}

func toTimeStr(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// val2indexrange coerces a single value or a two-element array into an
// inclusive (start, end) index range, swapping endpoints given in
// reverse order.
func val2indexrange(v interface{}) (start, end *int, ok bool) {
	switch x := v.(type) {
	case []interface{}:
		switch len(x) {
		case 1:
			if n, ok2 := toPosInt(x[0]); ok2 {
				start = &n
			}
		case 2:
			n0, ok0 := toPosInt(x[0])
			n1, ok1 := toPosInt(x[1])
			if ok0 {
				start = &n0
			}
			if ok1 {
				end = &n1
			}
			if start != nil && end != nil && *start > *end {
				start, end = end, start
			}
		}
	default:
		if n, ok2 := toPosInt(x); ok2 {
			start = &n
			end = &n
		}
	}
	return start, end, start != nil || end != nil
}

func toPosInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		if x >= 0 {
			return int(x), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil && n >= 0 {
			return n, true
		}
	}
	return 0, false
}

// Apply filters log in a fixed order: marker bracket pairs first
// (each matching run delimited by a marker record whose text is in the
// marker filter), then the index range, then the time range, then the
// MP-id set, then (only if no MP-id filter was given) the refid set.
func Apply(log []session.Record, f Filters) []session.Record {
	var out []session.Record
	plen := len(log)
	i := 0
	for i < plen {
		sid := i
		fid := plen

		if f.Marker != nil {
			for i < plen {
				r := log[i]
				i++
				// sid tracks the first record after the opening marker,
				// so the marker itself is not replayed.
				sid = i
				if r.IsMarker() && f.Marker[r.Text] {
					break
				}
			}
			fid = plen
			for i < plen {
				r := log[i]
				if r.IsMarker() {
					fid = i
					break
				}
				i++
				fid = i
			}
		}

		if sid < fid {
			rs, rf := sid, fid
			if f.hasIndex {
				if f.Index[0] != nil && *f.Index[0] > rs {
					rs = minInt(*f.Index[0], plen)
				}
				if f.Index[1] != nil && *f.Index[1] < rf {
					rf = minInt(*f.Index[1]+1, plen)
				}
			}
			for j := rs; j < rf; j++ {
				r := log[j]
				if matches(r, f) {
					out = append(out, r)
				}
			}
		}
		i = fid
	}
	return out
}

func matches(r session.Record, f Filters) bool {
	if f.hasTime {
		if f.Time[0] != nil && r.Time < *f.Time[0] {
			return false
		} else if f.Time[1] != nil && r.Time > *f.Time[1] {
			return false
		}
	}
	if f.MPID != nil {
		if !f.MPID[r.MPID] {
			return false
		}
	} else if f.RefID != nil {
		if !f.RefID[r.RefID] {
			return false
		}
	}
	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
