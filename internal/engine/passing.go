package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/ingest"
	"github.com/mjolnir42/velotrain/internal/metrics"
	"github.com/mjolnir42/velotrain/internal/session"
	"github.com/mjolnir42/velotrain/internal/tod"
)

// rawPassing is the passing pre-processing pipeline: idle-tick
// handling, the reset gate, sync-master offset capture, the
// unconfigured-MP drop, drift correction, and dispatch to the
// system-pass handlers or the per-refid sector-match queue.
func (e *Engine) rawPassing(rp ingest.RawPassing) {
	if rp.MP == "" {
		e.mu.Lock()
		resetting := e.resetting
		e.mu.Unlock()
		if !resetting {
			e.cleanQueues()
			e.hub.AllStat()
		}
		return
	}

	e.mu.Lock()
	resetting := e.resetting
	e.mu.Unlock()
	if resetting {
		if rp.MP == e.tomSrc && rp.RefID == e.cfg.Trig {
			e.mu.Lock()
			e.resetting = false
			e.mu.Unlock()
			logrus.Info("engine: reset complete, resuming normal operation")
		} else {
			logrus.Debugf("engine: ignored passing during reset: %s@%s", rp.MP, rp.TOD.Raw(2))
		}
		return
	}

	t := rp.TOD

	if e.syncMstr != "" && rp.MP == e.syncMstr {
		e.mu.Lock()
		e.offset = now().Sub(t).Seconds()
		e.mu.Unlock()
		return
	}

	if _, ok := e.cfg.MPs[rp.MP]; !ok {
		logrus.Infof("engine: spurious passing from unconfigured mp %s@%s", rp.MP, t.Raw(2))
		return
	}

	refid := rp.RefID
	if refid == "" {
		logrus.Infof("engine: altered empty refid to \"1\" at %s", rp.MP)
		refid = "1"
	}

	e.publishRaw(rp.MP, refid, t, rp.Index)

	if refid != e.cfg.Trig {
		e.mu.Lock()
		d := e.drift[rp.MP]
		e.mu.Unlock()
		if d != 0 {
			t = t.Add(tod.New(d))
		}
	}

	if refid == e.cfg.Trig {
		e.handleTrig(rp.MP, t)
		return
	}
	if e.cfg.Gate != "" && refid == e.cfg.Gate {
		e.handleGate(rp.MP, t)
		return
	}
	if isMoto(e.cfg.Moto, refid) {
		e.handleMoto(rp.MP, t)
		refid = "moto"
	}

	q, ok := e.queues[refid]
	if !ok {
		q = newRefidQueue()
		e.queues[refid] = q
	}
	q.insert(t, rp.MP)
	e.process(refid)
}

// isMoto reports whether refid is configured as a motorcycle/derny refid.
func isMoto(list []string, refid string) bool {
	for _, m := range list {
		if m == refid {
			return true
		}
	}
	return false
}

// cleanQueues drains every refid's pending queue as far as sector/isolate
// matching allows, leaving only genuinely choked entries behind.
// Driven off the idle tick and every system-pass trigger.
func (e *Engine) cleanQueues() {
	for refid := range e.queues {
		e.process(refid)
	}
}

// process drains refid's pending queue in TOD order, matching each
// head entry as a sector match, an isolated match, or leaving it
// choked. It stops at the first choke: the entries behind the head are
// later in time and wait until the head is matched or released.
func (e *Engine) process(refid string) {
	q := e.queues[refid]
	if q == nil {
		return
	}
	for {
		ent, ok := q.peek()
		if !ok {
			return
		}
		cid, j := ent.mp, ent.t

		switch {
		case e.sectorMatch(cid, j, q):
			q.pop()
			e.mtr.Mark(metrics.SectorMatches)
			e.emitMatch(refid, cid, j, q, false)
			q.choke = ""
			q.lt, q.lc = j, cid
			q.lastAt[cid] = j
			e.bumpLastpass(j)

		case e.isolatedMatch(cid, j, q):
			q.pop()
			e.mtr.Mark(metrics.IsolatedMatches)
			e.emitMatch(refid, cid, j, q, true)
			// choke stays set: there may be multiple stale passings
			// behind this one, all due for release this run.
			q.lt, q.lc = j, cid
			q.lastAt[cid] = j
			jj := j
			q.rs = &jj
			e.bumpRunstart(j)
			e.bumpLastpass(j)

		default:
			if q.choke != cid {
				q.choke = cid
				e.mtr.Mark(metrics.Chokes)
				logrus.Debugf("engine: choked %s@%s refid=%s", cid, j.Raw(2), refid)
			}
			return
		}
	}
}

// sectorMatch reports whether the pending arrival at cid/j closes a
// plausible sector from refid's last confirmed MP, or - when cid is the
// gate's downstream neighbour - from the recorded start-gate time.
func (e *Engine) sectorMatch(cid string, j tod.TOD, q *refidQueue) bool {
	mp, ok := e.smap.MPs[cid]
	if !ok {
		return false
	}

	if gs := e.smap.Gate; gs != nil && mp.Prev == e.gateSrc {
		e.mu.Lock()
		gate := e.gate
		e.mu.Unlock()
		if gate != nil {
			proceed := true
			if q.lc != "" && q.lc == mp.Prev {
				proceed = gate.After(q.lt)
			}
			if proceed {
				secelap := j.Sub(*gate).Seconds()
				if secelap > gs.MinTime && secelap < gs.MaxTime {
					// overwrite is safe: rewrite history as if the rider
					// had passed the gate loop at the trigger time, so
					// splits sourced there measure from the gate.
					q.lc = mp.Prev
					q.lt = *gate
					q.lastAt[mp.Prev] = *gate
					return true
				}
			}
		}
	}

	if q.lc != "" && q.lc == mp.Prev {
		secelap := j.Sub(q.lt).Seconds()
		if secelap > mp.MinTime && secelap < mp.MaxTime {
			return true
		}
	}
	return false
}

// isolatedMatch reports whether the pending arrival should be accepted
// as a standalone (non-consecutive-sector) passing: either there is no
// prior confirmed MP, the gap since it is implausibly large, or the
// entry has been choked long enough that the clock should move on
// regardless.
func (e *Engine) isolatedMatch(cid string, j tod.TOD, q *refidQueue) bool {
	if q.lc == "" {
		return true
	}
	if j.Sub(q.lt).Seconds() > isoThresh {
		return true
	}
	if q.choke != "" && now().Sub(j).Seconds() > isoMaxAge {
		return true
	}
	return false
}

func (e *Engine) bumpLastpass(j tod.TOD) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastpass == nil || j.After(*e.lastpass) {
		jj := j
		e.lastpass = &jj
	}
}

func (e *Engine) bumpRunstart(j tod.TOD) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runstart != nil {
		if e.lastpass == nil || (j.After(*e.lastpass) && j.Sub(*e.lastpass).Seconds() >= runIdle) {
			e.runstart = nil
		}
	}
	if e.runstart == nil {
		jj := j
		e.runstart = &jj
	}
}

// emitMatch appends and publishes one processed passing for a matched
// (sector or isolated) arrival, computing its elapsed time, qualifying
// splits and moto proximity; the record assembly is shared by both
// match kinds.
func (e *Engine) emitMatch(refid, cid string, j tod.TOD, q *refidQueue, isolated bool) {
	mp := e.smap.MPs[cid]

	rec := session.Record{
		Date:  today(),
		Time:  j.Raw(3),
		MPID:  session.ChanID(cid),
		RefID: refid,
		Env:   e.envVals(),
		Moto:  e.motoProximity(cid, j),
		Elap:  e.elapsed(j),
		Text:  e.mpName(cid),
		MP:    cid,
		TOD:   j,
	}

	for _, sp := range mp.Splits {
		srcT, ok := q.lastAt[sp.Src]
		if !ok {
			continue
		}
		d := j.Sub(srcT).Round(2)
		sec := d.Seconds()
		if sec <= sp.Min || sec >= sp.Max {
			continue
		}
		val := d.AsSeconds(2)
		switch sp.Name {
		case "lap":
			rec.Lap = val
		case "half":
			rec.Half = val
		case "qtr":
			rec.Qtr = val
		case "200":
			rec.Split200 = val
		case "100":
			rec.Split100 = val
		case "50":
			rec.Split50 = val
		}
	}

	rec = e.appendLog(rec)
	e.mtr.Mark(metrics.PassingsProcessed)
	kind := "sector"
	if isolated {
		kind = "isolated"
	}
	logrus.Infof("engine: %s#%d %s match %s refid=%s elap=%s", kind, rec.Index, cid, rec.Time, refid, rec.Elap)
	e.publishJSON(e.topic("passing"), rec, false)
}

// elapsed renders the time since the current run start, blank unless a
// run is in progress and the gap since the previous passing hasn't
// exceeded the idle threshold.
func (e *Engine) elapsed(j tod.TOD) string {
	e.mu.Lock()
	rs, lp := e.runstart, e.lastpass
	e.mu.Unlock()

	if rs == nil || j.Before(*rs) {
		return ""
	}
	if lp == nil || j.Before(*lp) {
		return ""
	}
	if j.Sub(*lp).Seconds() >= runIdle {
		return ""
	}
	return j.Sub(*rs).Round(2).AsSeconds(2)
}

// motoProximity annotates a passing with how closely a motorcycle/derny
// preceded it at the same MP, within the configured proximity window.
func (e *Engine) motoProximity(cid string, j tod.TOD) string {
	e.mu.Lock()
	mt, ok := e.motos[cid]
	e.mu.Unlock()
	if !ok {
		return ""
	}
	dt := j.Sub(mt).Seconds()
	if dt < -0.1 || dt >= motoProx {
		return ""
	}
	return tod.New(dt).Round(2).AsSeconds(2)
}

func (e *Engine) mpName(mp string) string {
	if mc, ok := e.cfg.MPs[mp]; ok && mc.Name != "" {
		return mc.Name
	}
	return mp
}

// publishRaw emits the unprocessed passing exactly as received, before
// drift correction or match processing.
func (e *Engine) publishRaw(mp, refid string, t tod.TOD, index string) {
	rec := struct {
		Date  string    `json:"date"`
		Env   []float64 `json:"env,omitempty"`
		RefID string    `json:"refid"`
		MPID  int       `json:"mpid"`
		Name  string    `json:"name,omitempty"`
		Info  string    `json:"info,omitempty"`
		Time  string    `json:"time"`
		Rcv   string    `json:"rcv"`
	}{
		Date:  today(),
		Env:   e.envVals(),
		RefID: refid,
		MPID:  session.ChanID(mp),
		Name:  e.mpName(mp),
		Info:  index,
		Time:  t.Raw(3),
		Rcv:   now().Raw(3),
	}
	e.publishJSON(e.topic("rawpass"), rec, false)
}
