package engine

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/metrics"
	"github.com/mjolnir42/velotrain/internal/session"
	"github.com/mjolnir42/velotrain/internal/tod"
)

// handleTrig records the per-channel clock drift against the nearest
// whole minute and, for the designated top-of-minute source channel,
// drives the periodic status/env cycle.
func (e *Engine) handleTrig(cid string, t tod.TOD) {
	tom := t.RoundToMinute()
	drift := tom.Sub(t).Seconds()

	e.mu.Lock()
	e.drift[cid] = drift
	e.mu.Unlock()

	if math.Abs(drift) > logDrift {
		logrus.Infof("engine: offset %s@%s > %.2f", cid, tod.New(drift).Raw(3), logDrift)
	}

	if cid == e.tomSrc {
		e.cleanQueues()
		e.hub.AllStat()
		e.reqStatus()
		e.emitEnv()
	}
}

// handleMoto records a motorcycle/derny passing time for later
// proximity annotation of nearby rider passings.
func (e *Engine) handleMoto(cid string, t tod.TOD) {
	logrus.Debugf("engine: moto: %s@%s", cid, t.Raw(2))
	e.mu.Lock()
	e.motos[cid] = t.Truncate(3)
	e.mu.Unlock()
}

// handleGate processes a start-gate trigger: it runs the queue cleanup
// over every pending sector-match queue, records the delay-corrected gate time as the new
// run start, and emits a synthetic "Start Gate" passing. Triggers from
// any channel other than the
// configured gate source are logged and otherwise ignored.
func (e *Engine) handleGate(cid string, t tod.TOD) {
	if cid != e.gateSrc {
		logrus.Warnf("engine: spurious gate trigger: %s@%s", cid, t.Raw(2))
		return
	}
	e.cleanQueues()
	logrus.Debugf("engine: gate trigger: %s@%s", cid, t.Raw(2))

	gate := t.Sub(tod.New(e.gateDelay))

	e.mu.Lock()
	e.gate = &gate
	e.runstart = &gate
	if e.lastpass == nil || gate.After(*e.lastpass) {
		gg := gate
		e.lastpass = &gg
	}
	e.mu.Unlock()

	rec := session.Record{
		Date:  today(),
		Time:  gate.Raw(3),
		MPID:  0,
		RefID: "gate",
		Env:   e.envVals(),
		Elap:  "0.00",
		Text:  "Start Gate",
		TOD:   gate,
	}
	rec = e.appendLog(rec)
	e.mtr.Mark(metrics.PassingsProcessed)
	e.publishJSON(e.topic("passing"), rec, false)
}
