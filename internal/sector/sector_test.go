package sector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjolnir42/velotrain/internal/config"
)

func off(v float64) *float64 { return &v }

func testConfig() *config.Config {
	return &config.Config{
		LapLen:   250.0,
		MinSpeed: 30.0,
		MaxSpeed: 90.0,
		GateSrc:  "C1",
		MPSeq:    []string{"C1", "C2", "C3"},
		MPs: map[string]config.MPConfig{
			"C1": {Active: true, Offset: off(0), Lap: "C1"},
			"C2": {Active: true, Offset: off(100)},
			"C3": {Active: true, Offset: off(200), Half: "C1"},
		},
	}
}

func TestBuildRingAndLengths(t *testing.T) {
	m, err := Build(testConfig())
	require.NoError(t, err)

	c1, c2, c3 := m.MPs["C1"], m.MPs["C2"], m.MPs["C3"]
	require.NotNil(t, c1)
	require.NotNil(t, c2)
	require.NotNil(t, c3)

	assert.Equal(t, "C3", c1.Prev)
	assert.Equal(t, "C2", c1.Next)
	assert.Equal(t, "C1", c2.Prev)
	assert.Equal(t, "C3", c2.Next)
	assert.Equal(t, "C2", c3.Prev)
	assert.Equal(t, "C1", c3.Next)

	// C2's sector comes from C1 at offset 0 to C2 at offset 100.
	assert.Equal(t, 100.0, c2.SLen)
	// C3's sector comes from C2 at offset 100 to C3 at offset 200.
	assert.Equal(t, 100.0, c3.SLen)
	// C1's sector wraps: laplen - 200 + 0.
	assert.Equal(t, 50.0, c1.SLen)

	require.Len(t, c1.Splits, 1)
	assert.Equal(t, "lap", c1.Splits[0].Name)
	assert.Equal(t, 250.0, c1.Splits[0].Len)

	require.Len(t, c3.Splits, 1)
	assert.Equal(t, "half", c3.Splits[0].Name)
	assert.Equal(t, 200.0, c3.Splits[0].Len)
}

func TestPairLengthInvariant(t *testing.T) {
	lapLen := 250.0
	pairs := [][2]float64{{0, 100}, {100, 200}, {200, 0}, {50, 50}}
	for _, p := range pairs {
		fwd := pairLength(lapLen, p[0], p[1])
		back := pairLength(lapLen, p[1], p[0])
		if p[0] == p[1] {
			continue // a zero-length pair has no meaningful forward/back split
		}
		assert.Equal(t, lapLen, fwd+back, "offsets %v", p)
	}
}

func TestGateSynthesised(t *testing.T) {
	m, err := Build(testConfig())
	require.NoError(t, err)
	require.NotNil(t, m.Gate)
	assert.Equal(t, "C1", m.Gate.Src)
}

func TestBuildRejectsZeroLapLen(t *testing.T) {
	cfg := testConfig()
	cfg.LapLen = 0
	_, err := Build(cfg)
	assert.Error(t, err)
}

func TestNineLoopSectorWindow(t *testing.T) {
	// MP sequence [C1,C4,C6,C3,C5,C7,C8,C2,C9], laplen 250m, minspeed
	// 30km/h, maxspeed 90km/h. C4->C6 is 62.5m, giving a (2.5s, 7.5s)
	// window.
	cfg := &config.Config{
		LapLen:   250.0,
		MinSpeed: 30.0,
		MaxSpeed: 90.0,
		MPSeq:    []string{"C1", "C4", "C6", "C3", "C5", "C7", "C8", "C2", "C9"},
		MPs: map[string]config.MPConfig{
			"C1": {Active: true, Offset: off(0)},
			"C4": {Active: true, Offset: off(62.5)},
			"C6": {Active: true, Offset: off(125)},
			"C3": {Active: true, Offset: off(156.25)},
			"C5": {Active: true, Offset: off(187.5)},
			"C7": {Active: true, Offset: off(200)},
			"C8": {Active: true, Offset: off(212.5)},
			"C2": {Active: true, Offset: off(225)},
			"C9": {Active: true, Offset: off(237.5)},
		},
	}
	m, err := Build(cfg)
	require.NoError(t, err)
	c6 := m.MPs["C6"]
	require.NotNil(t, c6)
	assert.Equal(t, "C4", c6.Prev)
	assert.Equal(t, 62.5, c6.SLen)
	assert.InDelta(t, 2.5, c6.MinTime, 1e-9)
	assert.InDelta(t, 7.5, c6.MaxTime, 1e-9)
}

func TestBuildRejectsNoActiveMPs(t *testing.T) {
	cfg := testConfig()
	for k, v := range cfg.MPs {
		v.Active = false
		cfg.MPs[k] = v
	}
	_, err := Build(cfg)
	assert.Error(t, err)
}
