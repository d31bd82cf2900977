package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjolnir42/velotrain/internal/config"
	"github.com/mjolnir42/velotrain/internal/decoder"
	"github.com/mjolnir42/velotrain/internal/ingest"
	"github.com/mjolnir42/velotrain/internal/metrics"
	"github.com/mjolnir42/velotrain/internal/sector"
	"github.com/mjolnir42/velotrain/internal/tod"
)

// fakeHub is a no-op HubClient for tests that don't drive real decoder
// traffic, counting AllStat calls so the idle-tick path is observable.
type fakeHub struct {
	allStat int
}

func (f *fakeHub) Add(ip, name string)                   {}
func (f *fakeHub) Remove(ip string)                      {}
func (f *fakeHub) Stop(ip string)                        {}
func (f *fakeHub) Start(ip string)                       {}
func (f *fakeHub) FetchConfig(ip string)                 {}
func (f *fakeHub) Config(ip string, flags decoder.Flags) {}
func (f *fakeHub) Sync(ip string)                        {}
func (f *fakeHub) AllStat()                              { f.allStat++ }
func (f *fakeHub) Wait()                                 {}
func (f *fakeHub) IPFor(name string) (string, bool)      { return "", false }

// fakePublisher captures the last published topic/payload.
type fakePublisher struct {
	topic   string
	payload []byte
	retain  bool
	n       int
}

func (p *fakePublisher) Publish(topic string, payload []byte, retain bool) error {
	p.topic, p.payload, p.retain = topic, payload, retain
	p.n++
	return nil
}

func offsetPtr(v float64) *float64 { return &v }

func singleLoopConfig() *config.Config {
	return &config.Config{
		Trig:      "255",
		BaseTopic: "velotrain",
		LapLen:    250,
		MinSpeed:  30,
		MaxSpeed:  90,
		MinGate:   9,
		MaxGate:   22.5,
		MPSeq:     []string{"C1"},
		MPs: map[string]config.MPConfig{
			"C1": {Active: true, Offset: offsetPtr(0), Lap: "C1"},
		},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, hub HubClient, pub *fakePublisher) *Engine {
	t.Helper()
	smap, err := sector.Build(cfg)
	require.NoError(t, err)
	return New(cfg, smap, hub, pub, nil, nil, metrics.New())
}

// A lone sector on a single-MP loop spans the whole lap: the Build in
// singleLoopConfig gives a (10s, 30s) dwell window (90km/h fastest, 30km/h
// slowest over 250m).
func TestRawPassingIsolatedThenSectorMatch(t *testing.T) {
	pub := &fakePublisher{}
	eng := newTestEngine(t, singleLoopConfig(), &fakeHub{}, pub)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "7", TOD: tod.New(0)})
	require.Len(t, eng.Log(), 1)
	assert.Equal(t, "7", eng.Log()[0].RefID)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "7", TOD: tod.New(15)})
	log := eng.Log()
	require.Len(t, log, 2)
	assert.Equal(t, "15.00", log[1].Lap)
}

func TestRawPassingChokesThenIsolatesAfterIdleClock(t *testing.T) {
	pub := &fakePublisher{}
	eng := newTestEngine(t, singleLoopConfig(), &fakeHub{}, pub)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "7", TOD: tod.New(0)})
	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "7", TOD: tod.New(15)})
	require.Len(t, eng.Log(), 2)

	// 5s later: too soon for a sector match (window starts at 10s) and
	// not old enough yet to force an isolated match, so it chokes.
	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "7", TOD: tod.New(20)})
	assert.Len(t, eng.Log(), 2)
	assert.Equal(t, "C1", eng.queues["7"].choke)

	orig := now
	defer func() { now = orig }()
	now = func() tod.TOD { return tod.New(26) } // 6s past the choked entry, over isoMaxAge

	eng.process("7")
	assert.Len(t, eng.Log(), 3)
}

func TestRawPassingSpuriousRefidDefaultedToOne(t *testing.T) {
	pub := &fakePublisher{}
	eng := newTestEngine(t, singleLoopConfig(), &fakeHub{}, pub)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "", TOD: tod.New(0)})
	require.Len(t, eng.Log(), 1)
	assert.Equal(t, "1", eng.Log()[0].RefID)
}

func TestRawPassingIdleTickFlushesQueuesAndPolls(t *testing.T) {
	hub := &fakeHub{}
	pub := &fakePublisher{}
	eng := newTestEngine(t, singleLoopConfig(), hub, pub)

	eng.rawPassing(ingest.RawPassing{MP: ""})
	assert.Equal(t, 1, hub.allStat)
}

func TestHandleGateSeedsRunstartAndPublishesRecord(t *testing.T) {
	cfg := singleLoopConfig()
	cfg.Gate = "1"
	cfg.GateSrc = "G1"
	cfg.GateDelay = "0.075"

	pub := &fakePublisher{}
	eng := newTestEngine(t, cfg, &fakeHub{}, pub)

	eng.handleGate("G1", tod.New(10))
	require.Len(t, eng.Log(), 1)
	rec := eng.Log()[0]
	assert.Equal(t, "gate", rec.RefID)
	assert.Equal(t, "0.00", rec.Elap)

	require.NotNil(t, eng.runstart)
	assert.Equal(t, tod.New(10).Sub(tod.New(0.075)), *eng.runstart)
}

func TestRawStatusBatteryWarningSurfacesInStatusPayload(t *testing.T) {
	cfg := singleLoopConfig()
	pub := &fakePublisher{}
	eng := newTestEngine(t, cfg, &fakeHub{}, pub)

	for i := 0; i < 11; i++ {
		eng.rawStatus(ingest.StatusFrame{MP: "C1", Channel: string(decoder.ChanBATT), RefID: "9", TOD: tod.New(0)})
	}

	eng.reqStatus()
	require.Equal(t, "velotrain/status", pub.topic)

	var payload statusPayload
	require.NoError(t, json.Unmarshal(pub.payload, &payload))
	assert.Contains(t, payload.Battery, "9")
}

// velodromeConfig is the nine-loop track layout used by the sector and
// gate tests: laplen 250m, one MP every quarter lap from C1 to C6 and
// closer spacing after, giving C4->C6 a 62.5m sector.
func velodromeConfig() *config.Config {
	return &config.Config{
		Trig:      "255",
		BaseTopic: "velotrain",
		LapLen:    250,
		MinSpeed:  30,
		MaxSpeed:  90,
		MinGate:   9,
		MaxGate:   90,
		MPSeq:     []string{"C1", "C4", "C6", "C3", "C5", "C7", "C8", "C2", "C9"},
		MPs: map[string]config.MPConfig{
			"C1": {Active: true, Offset: offsetPtr(0)},
			"C4": {Active: true, Offset: offsetPtr(62.5)},
			"C6": {Active: true, Offset: offsetPtr(125)},
			"C3": {Active: true, Offset: offsetPtr(156.25)},
			"C5": {Active: true, Offset: offsetPtr(187.5)},
			"C7": {Active: true, Offset: offsetPtr(200)},
			"C8": {Active: true, Offset: offsetPtr(212.5)},
			"C2": {Active: true, Offset: offsetPtr(225)},
			"C9": {Active: true, Offset: offsetPtr(237.5)},
		},
	}
}

// An inter-arrival exactly on the sector's minimum time is not a sector
// match: the window is open, so C4@10.00 -> C6@12.50 over a 62.5m
// sector with a (2.5s, 7.5s) window chokes, then releases as isolated.
func TestRawPassingExactMinTimeIsNotASectorMatch(t *testing.T) {
	pub := &fakePublisher{}
	eng := newTestEngine(t, velodromeConfig(), &fakeHub{}, pub)

	eng.rawPassing(ingest.RawPassing{MP: "C4", RefID: "12345", TOD: tod.New(10)})
	require.Len(t, eng.Log(), 1)

	eng.rawPassing(ingest.RawPassing{MP: "C6", RefID: "12345", TOD: tod.New(12.5)})
	require.Len(t, eng.Log(), 1)
	assert.Equal(t, "C6", eng.queues["12345"].choke)

	orig := now
	defer func() { now = orig }()
	now = func() tod.TOD { return tod.New(18) }

	eng.process("12345")
	log := eng.Log()
	require.Len(t, log, 2)
	assert.Equal(t, 6, log[1].MPID)
	// isolated release, not a sector match: the run restarts here
	require.NotNil(t, eng.queues["12345"].rs)
}

// Gate start: gate trigger at C1@0.000 with 0.075s transponder delay,
// rider over the gate loop at 0.100 and into C4 at 3.000. The C4
// passing closes the C1->C4 sector and its elapsed time is measured
// from the delay-adjusted gate time: 3.000 - (0 - 0.075) = 3.075.
func TestGateStartElapsedFromAdjustedGateTime(t *testing.T) {
	cfg := velodromeConfig()
	cfg.Gate = "125"
	cfg.GateSrc = "C1"
	cfg.GateDelay = "0.075"

	pub := &fakePublisher{}
	eng := newTestEngine(t, cfg, &fakeHub{}, pub)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "125", TOD: tod.New(0)})
	require.Len(t, eng.Log(), 1)
	assert.Equal(t, "gate", eng.Log()[0].RefID)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "12345", TOD: tod.New(0.1)})
	eng.rawPassing(ingest.RawPassing{MP: "C4", RefID: "12345", TOD: tod.New(3)})

	log := eng.Log()
	require.Len(t, log, 3)
	assert.Equal(t, 4, log[2].MPID)
	assert.Equal(t, "3.08", log[2].Elap)
}

// A rider with no passing history arriving inside the gate window is
// matched as a sector from the gate trigger, and the queue history is
// rewritten as if the rider had crossed the gate loop at the trigger
// time. This pins the current override semantics for the
// rider-already-on-track case.
func TestGateOverrideWithoutHistoryRewritesQueue(t *testing.T) {
	cfg := velodromeConfig()
	cfg.Gate = "125"
	cfg.GateSrc = "C1"
	cfg.GateDelay = "0.075"

	pub := &fakePublisher{}
	eng := newTestEngine(t, cfg, &fakeHub{}, pub)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "125", TOD: tod.New(0)})
	eng.rawPassing(ingest.RawPassing{MP: "C4", RefID: "77777", TOD: tod.New(3)})

	log := eng.Log()
	require.Len(t, log, 2)
	assert.Equal(t, 4, log[1].MPID)

	q := eng.queues["77777"]
	require.NotNil(t, q)
	// sector match, not isolated: the run start was not reseeded
	assert.Nil(t, q.rs)
	gate := tod.New(0).Sub(tod.New(0.075))
	assert.Equal(t, gate, q.lastAt["C1"])
}

// Sync drift: a trig at C9 reading 11:59:59.920 yields +0.080s of
// drift, and a later rider passing at C9 is shifted by that amount
// before matching.
func TestTrigDriftAdjustsSubsequentPassings(t *testing.T) {
	cfg := velodromeConfig()
	pub := &fakePublisher{}
	eng := newTestEngine(t, cfg, &fakeHub{}, pub)

	trig, err := tod.Parse("11:59:59.920")
	require.NoError(t, err)
	eng.rawPassing(ingest.RawPassing{MP: "C9", RefID: "255", TOD: trig})

	eng.mu.Lock()
	drift := eng.drift["C9"]
	eng.mu.Unlock()
	assert.InDelta(t, 0.080, drift, 1e-9)

	pass, err := tod.Parse("12:00:05.000")
	require.NoError(t, err)
	eng.rawPassing(ingest.RawPassing{MP: "C9", RefID: "12345", TOD: pass})

	log := eng.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "12:00:05.080", log[0].Time)
}

// Split membership is decided on the 2dp-rounded elapsed value, not the
// raw millisecond delta: a delta of 10.006s against an exclusive upper
// bound of 10.01 rounds up to 10.01 and must be dropped, while 10.004s
// rounds down to 10.00 and is reported.
func TestSplitWindowComparesRoundedElapsed(t *testing.T) {
	pub := &fakePublisher{}
	eng := newTestEngine(t, singleLoopConfig(), &fakeHub{}, pub)
	require.Len(t, eng.smap.MPs["C1"].Splits, 1)
	eng.smap.MPs["C1"].Splits[0].Min = 2
	eng.smap.MPs["C1"].Splits[0].Max = 10.01

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "7", TOD: tod.New(0)})
	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "7", TOD: tod.New(10.006)})
	log := eng.Log()
	require.Len(t, log, 2)
	assert.Empty(t, log[1].Lap)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "8", TOD: tod.New(0)})
	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "8", TOD: tod.New(10.004)})
	log = eng.Log()
	require.Len(t, log, 4)
	assert.Equal(t, "10.00", log[3].Lap)
}

// A rider passing the same loop within the proximity window of a moto
// passing carries the gap as an annotation; outside the window it does
// not.
func TestMotoProximityAnnotation(t *testing.T) {
	cfg := singleLoopConfig()
	cfg.Moto = []string{"93456"}
	pub := &fakePublisher{}
	eng := newTestEngine(t, cfg, &fakeHub{}, pub)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "93456", TOD: tod.New(10)})
	log := eng.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "moto", log[0].RefID)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "91234", TOD: tod.New(10.5)})
	log = eng.Log()
	require.Len(t, log, 2)
	assert.Equal(t, "0.50", log[1].Moto)

	eng.rawPassing(ingest.RawPassing{MP: "C1", RefID: "91235", TOD: tod.New(12)})
	log = eng.Log()
	require.Len(t, log, 3)
	assert.Empty(t, log[2].Moto)
}

func TestRawStatusBatteryIgnoresTrigRefid(t *testing.T) {
	cfg := singleLoopConfig()
	pub := &fakePublisher{}
	eng := newTestEngine(t, cfg, &fakeHub{}, pub)

	for i := 0; i < 20; i++ {
		eng.rawStatus(ingest.StatusFrame{MP: "C1", Channel: string(decoder.ChanBATT), RefID: cfg.Trig, TOD: tod.New(0)})
	}

	eng.mu.Lock()
	n := eng.batteries[cfg.Trig]
	eng.mu.Unlock()
	assert.Zero(t, n)
}
