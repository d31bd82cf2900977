package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/decoder"
	"github.com/mjolnir42/velotrain/internal/sector"
)

// resetPace is the settle delay between successive hub commands during
// a reset procedure.
const resetPace = 100 * time.Millisecond

// Reset runs the full reset/sync procedure: stop and sanitize every
// decoder, rebuild the sector map, then re-synchronise every unit to
// the next top-of-minute boundary. Guarded by a non-reentrant lock; a
// concurrent caller gets false immediately.
func (e *Engine) Reset() bool {
	if !e.rlock.TryLock() {
		logrus.Info("engine: clear/reset already in progress")
		return false
	}
	defer e.rlock.Unlock()

	logrus.Info("engine: starting reset procedure, operation paused")
	e.mu.Lock()
	e.resetting = true
	e.mu.Unlock()

	for _, mp := range e.configuredMPs() {
		ip, ok := e.hub.IPFor(mp)
		if !ok {
			continue
		}
		e.hub.Stop(ip)
		e.hub.Wait()
		time.Sleep(resetPace)
		e.hub.FetchConfig(ip)
		e.hub.Wait()
		time.Sleep(resetPace)
		e.hub.Config(ip, decoder.SaneConfig)
		e.hub.Wait()
		time.Sleep(resetPace)
	}

	e.clearLog()
	if smap, err := sector.Build(e.cfg); err == nil {
		e.smap = smap
	} else {
		logrus.Errorf("engine: rebuilding sector map: %v", err)
	}

	tom := e.waitForResetWindow()
	hr, mn := tom.Hour(), tom.Minute()
	logrus.Infof("engine: reset sync time: %02d:%02d", hr, mn)

	for _, mp := range e.configuredMPs() {
		if mp == e.syncMstr {
			continue
		}
		ip, ok := e.hub.IPFor(mp)
		if !ok {
			continue
		}
		flags := decoder.Flags{
			decoder.FlagSyncPulse:    false,
			decoder.FlagActiveLoop:   e.cfg.MPs[mp].Active,
			decoder.FlagCellSyncHour: hr,
			decoder.FlagCellSyncMin:  mn,
			decoder.FlagCellSync:     true,
		}
		e.hub.Config(ip, flags)
	}

	if e.syncMstr != "" {
		if ip, ok := e.hub.IPFor(e.syncMstr); ok {
			logrus.Debugf("engine: starting sync master %s:%s", e.syncMstr, ip)
			e.hub.Start(ip)
			e.hub.Wait()
			e.hub.Sync("")
			e.hub.Wait()
			e.hub.Config(ip, decoder.Flags{
				decoder.FlagSyncPulse:  true,
				decoder.FlagActiveLoop: false,
			})
			e.hub.Wait()
		}
		return true
	}

	logrus.Warn("engine: no sync master set, using rough sync")
	for _, mp := range e.configuredMPs() {
		if ip, ok := e.hub.IPFor(mp); ok {
			e.hub.Start(ip)
		}
	}
	e.hub.Wait()
	time.Sleep(resetPace)
	e.hub.Sync("")
	e.hub.Wait()
	return false
}

// waitForResetWindow busy-waits until the real-time second-of-minute
// is at most 40, then returns the next whole-minute boundary.
func (e *Engine) waitForResetWindow() time.Time {
	for {
		t := time.Now()
		resid := t.Second()
		if resid <= 40 {
			next := t.Truncate(time.Minute).Add(time.Minute)
			return next
		}
		logrus.Debugf("engine: reset waiting [%d]", resid)
		time.Sleep(time.Duration(62-resid) * time.Second)
	}
}

// ResetUnit stops, sanitises, restarts and syncs a single non-master
// MP without re-running top-of-minute sequencing. Unlike Reset and
// Clear it runs without the non-reentrant lock: it never touches
// shared session/sector state, only one decoder's own session.
func (e *Engine) ResetUnit(mpid string) bool {
	if mpid == "" || mpid == e.syncMstr {
		logrus.Infof("engine: unable to reset %q", mpid)
		return false
	}
	ip, ok := e.hub.IPFor(mpid)
	if !ok {
		logrus.Infof("engine: unable to reset %q", mpid)
		return false
	}

	logrus.Debugf("engine: stop and reset %s:%s", mpid, ip)
	e.hub.FetchConfig(ip)
	e.hub.Wait()
	e.hub.Config(ip, decoder.SaneConfig)
	e.hub.Stop(ip)
	e.hub.Start(ip)
	e.hub.Wait()
	time.Sleep(resetPace)
	e.hub.Sync(ip)
	logrus.Debugf("engine: unit restarted: %s:%s", mpid, ip)
	return true
}

// Clear empties the session log and battery counters and rebuilds the
// sector map, without touching any decoder hardware - a lighter
// operation than Reset, guarded by the same non-reentrant lock.
func (e *Engine) Clear() bool {
	if !e.rlock.TryLock() {
		logrus.Info("engine: clear/reset already in progress")
		return false
	}
	defer e.rlock.Unlock()

	logrus.Info("engine: clear passing history")
	e.mu.Lock()
	e.resetting = true
	e.mu.Unlock()

	e.clearLog()
	smap, err := sector.Build(e.cfg)
	ok := err == nil
	if ok {
		e.smap = smap
	} else {
		logrus.Errorf("engine: clear: rebuilding sector map: %v", err)
	}

	e.mu.Lock()
	e.resetting = false
	e.mu.Unlock()
	return ok
}
