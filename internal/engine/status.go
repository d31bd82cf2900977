package engine

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/decoder"
	"github.com/mjolnir42/velotrain/internal/ingest"
	"github.com/mjolnir42/velotrain/internal/metrics"
	"github.com/mjolnir42/velotrain/internal/session"
	"github.com/mjolnir42/velotrain/internal/tod"
)

// rawStatus handles a decoded status/battery frame from a decoder
// link: STS frames update the per-unit noise reading, BATT frames
// (also synthesised by the hub from a flagged passing) bump the
// low-battery counter.
func (e *Engine) rawStatus(sf ingest.StatusFrame) {
	switch sf.Channel {
	case string(decoder.ChanSTS):
		if _, ok := e.cfg.MPs[sf.MP]; !ok {
			logrus.Debugf("engine: status from unconfigured mp %s", sf.MP)
			return
		}
		noise := strings.SplitN(sf.RefID, ":", 2)[0]
		e.mu.Lock()
		e.dstat[sf.MP] = noise
		e.mu.Unlock()
		logrus.Debugf("engine: mp %s noise=%s@%s", sf.MP, noise, sf.TOD.Raw(0))

	case string(decoder.ChanBATT):
		if sf.RefID == e.cfg.Trig || (e.cfg.Gate != "" && sf.RefID == e.cfg.Gate) {
			return
		}
		e.mu.Lock()
		e.batteries[sf.RefID]++
		n := e.batteries[sf.RefID]
		e.mu.Unlock()
		e.mtr.Mark(metrics.BatteryWarnings)
		logrus.Debugf("engine: low battery on %s, count=%d", sf.RefID, n)
	}
}

type unitStatus struct {
	MPID   int    `json:"mpid"`
	Name   string `json:"name,omitempty"`
	Noise  string `json:"noise,omitempty"`
	Offset string `json:"offset,omitempty"`
}

type statusPayload struct {
	Date    string       `json:"date"`
	Time    string       `json:"time"`
	Offset  string       `json:"offset"`
	Env     []float64    `json:"env,omitempty"`
	Count   int          `json:"count"`
	Gate    string       `json:"gate,omitempty"`
	Battery []string     `json:"battery"`
	Units   []unitStatus `json:"units"`
	Info    string       `json:"info"`
}

// configuredMPs returns the active measurement-point ids in configured
// sequence order.
func (e *Engine) configuredMPs() []string {
	var out []string
	for _, id := range e.cfg.MPSeq {
		if mc, ok := e.cfg.MPs[id]; ok && mc.Active {
			out = append(out, id)
		}
	}
	return out
}

// reqStatus publishes a retained status snapshot.
func (e *Engine) reqStatus() {
	e.mu.Lock()
	gate := e.gate
	resetting := e.resetting
	offset := e.offset
	drift := make(map[string]float64, len(e.drift))
	for k, v := range e.drift {
		drift[k] = v
	}
	batteries := make(map[string]int, len(e.batteries))
	for k, v := range e.batteries {
		batteries[k] = v
	}
	dstat := make(map[string]string, len(e.dstat))
	for k, v := range e.dstat {
		dstat[k] = v
	}
	e.mu.Unlock()

	var gateStr string
	if gate != nil {
		gateStr = gate.Raw(2)
	}

	var battery []string
	for refid, n := range batteries {
		if n > lowBattWarn {
			battery = append(battery, refid)
		}
	}
	sort.Strings(battery)

	units := make([]unitStatus, 0, len(e.cfg.MPs))
	for _, mp := range e.configuredMPs() {
		var off string
		if d, ok := drift[mp]; ok {
			off = tod.New(d).Raw(3)
		}
		units = append(units, unitStatus{
			MPID:   session.ChanID(mp),
			Name:   e.mpName(mp),
			Noise:  dstat[mp],
			Offset: off,
		})
	}

	info := "running"
	if resetting {
		info = "resetting"
	}

	payload := statusPayload{
		Date:    today(),
		Time:    now().Raw(2),
		Offset:  strconv.FormatFloat(offset, 'f', -1, 64),
		Env:     e.envVals(),
		Count:   len(e.Log()),
		Gate:    gateStr,
		Battery: battery,
		Units:   units,
		Info:    info,
	}
	logrus.Infof("engine: status count=%d offset=%s", payload.Count, payload.Offset)
	e.publishJSON(e.topic("status"), payload, true)
}

// emitEnv pushes the current environment reading to the DHI scoreboard,
// a no-op when no source or client is configured.
func (e *Engine) emitEnv() {
	if e.dhiC == nil || e.envS == nil {
		return
	}
	r, ok := e.envS.Read()
	if !ok {
		return
	}
	e.dhiC.PushEnv(r.Temp, r.Humidity, r.Pressure)
}

// ShutdownStatus publishes the retained offline status used on exit,
// called from internal/cli's shutdown sequence before the transport
// connection is closed.
func (e *Engine) ShutdownStatus() {
	payload := struct {
		Date string `json:"date"`
		Time string `json:"time"`
		Info string `json:"info"`
	}{
		Date: time.Now().Format("2006-01-02"),
		Time: now().Raw(2),
		Info: "offline",
	}
	e.publishJSON(e.topic("status"), payload, true)
}
