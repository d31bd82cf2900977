package replay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjolnir42/velotrain/internal/session"
)

// tenRecordLog builds a session log of 10 records with marker "A" at
// index 3 and marker "B" at index 7, the fixture from the marker
// filtering example.
func tenRecordLog() []session.Record {
	var log []session.Record
	for i := 0; i < 10; i++ {
		r := session.Record{
			Index: i,
			Time:  fmt.Sprintf("10:00:%02d.000", i),
			MPID:  1 + i%3,
			RefID: fmt.Sprintf("9100%d", i),
		}
		switch i {
		case 3:
			r.RefID = "marker"
			r.Text = "A"
		case 7:
			r.RefID = "marker"
			r.Text = "B"
		}
		log = append(log, r)
	}
	return log
}

func indices(recs []session.Record) []int {
	var out []int
	for _, r := range recs {
		out = append(out, r.Index)
	}
	return out
}

func TestApplyNoFiltersReplaysEverything(t *testing.T) {
	log := tenRecordLog()
	rep := Apply(log, Filters{})
	assert.Len(t, rep, 10)
}

func TestApplyMarkerBracket(t *testing.T) {
	log := tenRecordLog()
	rep := Apply(log, Filters{Marker: map[string]bool{"A": true}})
	assert.Equal(t, []int{4, 5, 6}, indices(rep))
}

func TestApplyMarkerBracketSecondRun(t *testing.T) {
	log := tenRecordLog()
	rep := Apply(log, Filters{Marker: map[string]bool{"B": true}})
	assert.Equal(t, []int{8, 9}, indices(rep))
}

func TestApplyMarkerNoMatchReplaysNothing(t *testing.T) {
	log := tenRecordLog()
	rep := Apply(log, Filters{Marker: map[string]bool{"C": true}})
	assert.Empty(t, rep)
}

func TestApplyIndexRangeInclusive(t *testing.T) {
	log := tenRecordLog()
	f := ParseRequest([]byte(`{"index": [2, 5]}`))
	rep := Apply(log, f)
	assert.Equal(t, []int{2, 3, 4, 5}, indices(rep))
}

func TestApplySingleIndex(t *testing.T) {
	log := tenRecordLog()
	f := ParseRequest([]byte(`{"index": 4}`))
	rep := Apply(log, f)
	assert.Equal(t, []int{4}, indices(rep))
}

func TestApplyTimeRange(t *testing.T) {
	log := tenRecordLog()
	f := ParseRequest([]byte(`{"time": ["10:00:02.000", "10:00:04.000"]}`))
	rep := Apply(log, f)
	assert.Equal(t, []int{2, 3, 4}, indices(rep))
}

func TestApplyRefidFilter(t *testing.T) {
	log := tenRecordLog()
	f := ParseRequest([]byte(`{"refid": "91001"}`))
	rep := Apply(log, f)
	assert.Equal(t, []int{1}, indices(rep))
}

func TestApplyMPIDFilterOverridesRefid(t *testing.T) {
	log := tenRecordLog()
	// when an mpid filter is present the refid filter is not consulted
	f := ParseRequest([]byte(`{"mpid": [2], "refid": "no-such"}`))
	rep := Apply(log, f)
	require.NotEmpty(t, rep)
	for _, r := range rep {
		assert.Equal(t, 2, r.MPID)
	}
}

func TestParseRequestMalformedReplaysEverything(t *testing.T) {
	f := ParseRequest([]byte(`{not json`))
	rep := Apply(tenRecordLog(), f)
	assert.Len(t, rep, 10)
}

func TestParseRequestReversedRangesSwap(t *testing.T) {
	f := ParseRequest([]byte(`{"index": [5, 2], "time": ["10:00:04.000", "10:00:02.000"]}`))
	require.True(t, f.hasIndex)
	assert.Equal(t, 2, *f.Index[0])
	assert.Equal(t, 5, *f.Index[1])
	require.True(t, f.hasTime)
	assert.Equal(t, "10:00:02.000", *f.Time[0])
}

func TestParseRequestSerialAndChannelNames(t *testing.T) {
	f := ParseRequest([]byte(`{"serial": "d1", "mpid": ["C2", 3]}`))
	assert.Equal(t, "d1", f.Serial)
	assert.True(t, f.MPID[2])
	assert.True(t, f.MPID[3])
}
