// Package engine implements the passing engine, the system-pass
// handler and the reset/sync controller: the core per-refid state
// machine, drift/top-of-minute handling, and the guarded reset
// procedure.
package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/config"
	"github.com/mjolnir42/velotrain/internal/decoder"
	"github.com/mjolnir42/velotrain/internal/dhi"
	"github.com/mjolnir42/velotrain/internal/env"
	"github.com/mjolnir42/velotrain/internal/ingest"
	"github.com/mjolnir42/velotrain/internal/metrics"
	"github.com/mjolnir42/velotrain/internal/pubsub"
	"github.com/mjolnir42/velotrain/internal/sector"
	"github.com/mjolnir42/velotrain/internal/session"
	"github.com/mjolnir42/velotrain/internal/tod"
)

// Timing policy constants.
const (
	isoThresh   = 30.0  // ISOTHRESH: auto-isolate newer-than-last-processed threshold
	isoMaxAge   = 5.0   // ISOMAXAGE: choke clock before forcing isolation
	runIdle     = 120.0 // RUNIDLE: expire runstart after this much idle time
	motoProx    = 1.0   // MOTOPROX: moto-proximity annotation window
	logDrift    = 0.10  // LOGDRIFT: warn threshold for per-unit clock drift
	lowBattWarn = 10    // LOWBATTWARN: battery fault count before status flags it
)

// HubClient is the subset of internal/hub.Hub the engine needs to
// drive the decoder network, kept as a local interface so this package
// never imports internal/hub.
type HubClient interface {
	Add(ip, name string)
	Remove(ip string)
	Stop(ip string)
	Start(ip string)
	FetchConfig(ip string)
	Config(ip string, flags decoder.Flags)
	Sync(ip string)
	AllStat()
	Wait()
	IPFor(name string) (string, bool)
}

// Engine is the passing engine, system-pass handler and reset/sync
// controller in one long-lived worker consuming a single input queue
// of ingest.Events, with Start/InputChannel/ShutdownChannel lifecycle
// methods.
type Engine struct {
	cfg  *config.Config
	smap *sector.Map
	hub  HubClient
	pub  pubsub.Publisher
	envS env.Source
	dhiC *dhi.Client
	mtr  *metrics.Registry

	gateSrc   string
	gateDelay float64
	syncMstr  string
	tomSrc    string

	queues map[string]*refidQueue

	mu        sync.Mutex // guards the fields below
	drift     map[string]float64
	motos     map[string]tod.TOD
	dstat     map[string]string
	batteries map[string]int
	resetting bool
	gate      *tod.TOD
	runstart  *tod.TOD
	lastpass  *tod.TOD
	offset    float64

	logMu sync.Mutex
	log   []session.Record

	rlock sync.Mutex // non-reentrant guard for Reset/Clear

	input    chan ingest.Event
	shutdown chan struct{}
}

// New constructs an Engine over the given sector map and collaborators.
// hub/pub/envS/dhiC may be nil in tests that don't exercise those paths.
func New(cfg *config.Config, smap *sector.Map, hub HubClient, pub pubsub.Publisher, envS env.Source, dhiC *dhi.Client, mtr *metrics.Registry) *Engine {
	gateDelay := 0.0
	if gd, err := tod.Parse(cfg.GateDelay); err == nil {
		gateDelay = gd.Seconds()
	}

	tomSrc := ""
	for _, mp := range cfg.MPSeq {
		mc, ok := cfg.MPs[mp]
		if !ok || !mc.Active {
			continue
		}
		if mp != cfg.Sync {
			tomSrc = mp
			break
		}
	}
	if tomSrc == "" {
		logrus.Warn("engine: no top-of-minute source available, status/env triggers disabled")
	}

	return &Engine{
		cfg:       cfg,
		smap:      smap,
		hub:       hub,
		pub:       pub,
		envS:      envS,
		dhiC:      dhiC,
		mtr:       mtr,
		gateSrc:   cfg.GateSrc,
		gateDelay: gateDelay,
		syncMstr:  cfg.Sync,
		tomSrc:    tomSrc,
		queues:    map[string]*refidQueue{},
		drift:     map[string]float64{},
		motos:     map[string]tod.TOD{},
		dstat:     map[string]string{},
		batteries: map[string]int{},
		input:     make(chan ingest.Event, 1024),
		shutdown:  make(chan struct{}),
	}
}

// InputChannel returns the channel callers feed ingest.Events into.
func (e *Engine) InputChannel() chan<- ingest.Event { return e.input }

// ShutdownChannel returns the channel Start closes when it exits.
func (e *Engine) ShutdownChannel() chan struct{} { return e.shutdown }

// Start runs the engine's event loop until Stop is called, consuming
// ingest.Events from InputChannel(). Intended to run on its own
// goroutine.
func (e *Engine) Start() {
	defer close(e.shutdown)

runloop:
	for {
		select {
		case <-e.shutdown:
			break runloop
		case ev, ok := <-e.input:
			if !ok {
				break runloop
			}
			e.handle(ev)
			if ev.Kind == ingest.Shutdown {
				break runloop
			}
		}
	}
}

// Stop requests the event loop to exit after draining anything already
// queued.
func (e *Engine) Stop() {
	select {
	case <-e.shutdown:
	default:
		e.input <- ingest.Event{Kind: ingest.Shutdown}
	}
}

func (e *Engine) handle(ev ingest.Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("engine: recovered panic handling event: %v", r)
		}
	}()

	switch ev.Kind {
	case ingest.RawPass:
		e.rawPassing(ev.RawPassing)
	case ingest.Status:
		e.rawStatus(ev.Status)
	case ingest.Command:
		e.command(ev.CommandTopic, ev.CommandMsg)
	case ingest.Shutdown:
		// handled by Start's loop, which breaks and closes e.shutdown
		// exactly once via its deferred close.
	}
}

// now is a seam so tests can't be broken by wall-clock flakiness in
// anything that truly needs real time (drift age comparisons).
var now = func() tod.TOD { return tod.Now() }

// publishJSON is a small helper that no-ops when pub is nil, so an
// Engine built for unit tests without a Publisher doesn't have to guard
// every call site.
func (e *Engine) publishJSON(topic string, v interface{}, retain bool) {
	if e.pub == nil {
		return
	}
	if err := pubsub.PublishJSON(e.pub, topic, v, retain); err != nil {
		logrus.Warnf("engine: publish %s: %v", topic, err)
	}
}

func (e *Engine) topic(suffix string) string { return e.cfg.BaseTopic + "/" + suffix }

func (e *Engine) appendLog(r session.Record) session.Record {
	e.logMu.Lock()
	r.Index = len(e.log)
	e.log = append(e.log, r)
	e.logMu.Unlock()
	return r
}

// Log returns a snapshot of the session log for replay queries.
func (e *Engine) Log() []session.Record {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	out := make([]session.Record, len(e.log))
	copy(out, e.log)
	return out
}

// clearLog empties the session log and battery-warning counters.
func (e *Engine) clearLog() {
	e.logMu.Lock()
	e.log = nil
	e.logMu.Unlock()
	e.mu.Lock()
	e.batteries = map[string]int{}
	e.mu.Unlock()
}

// envVals returns the current environment reading as the [t, h, p]
// triple embedded in passing/status records, or nil when no reading is
// available.
func (e *Engine) envVals() []float64 {
	if e.envS == nil {
		return nil
	}
	r, ok := e.envS.Read()
	if !ok {
		return nil
	}
	return []float64{r.Temp, r.Humidity, r.Pressure}
}

func today() string { return time.Now().Format("2006-01-02") }
