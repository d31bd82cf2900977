package engine

import (
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/ingest"
	"github.com/mjolnir42/velotrain/internal/metrics"
	"github.com/mjolnir42/velotrain/internal/replay"
	"github.com/mjolnir42/velotrain/internal/session"
	"github.com/mjolnir42/velotrain/internal/tod"
)

// command dispatches one inbound control message by its topic's final
// path segment.
func (e *Engine) command(topic string, msg []byte) {
	parts := strings.Split(topic, "/")
	req := strings.ToLower(parts[len(parts)-1])
	logrus.Debugf("engine: command %q", topic)

	switch req {
	case "request":
		e.checkRequest(msg)
	case "marker":
		text := "Manual Marker"
		if s := sanitizeText(string(msg)); s != "" {
			text = s
		}
		e.marker(text)
	case "reset":
		if e.cfg.AuthKey != "" && string(msg) != e.cfg.AuthKey {
			logrus.Warn("engine: invalid reset authorisation key")
			return
		}
		e.ack(req, e.Reset())
	case "resetunit":
		e.ack(req, e.ResetUnit(string(msg)))
	case "timer":
		e.foreignTimer(string(msg))
	default:
		logrus.Debugf("engine: ignored invalid command %q", req)
	}
}

// ack reports the outcome of an inbound reset/resetunit command back
// on the ack topic.
func (e *Engine) ack(req string, ok bool) {
	e.publishJSON(e.topic("ack"), struct {
		Req string `json:"req"`
		OK  bool   `json:"ok"`
	}{Req: req, OK: ok}, false)
}

// sanitizeText strips control characters and surrounding whitespace
// from an inbound marker text.
func sanitizeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// checkRequest parses a replay request and serves it: malformed input
// still triggers an (unfiltered) replay, it never silently drops the
// request.
func (e *Engine) checkRequest(msg []byte) {
	f := replay.ParseRequest(msg)
	logrus.Debugf("engine: request filter: %+v", f)
	e.doReplay(f)
}

// doReplay applies f over the session log and publishes the result.
func (e *Engine) doReplay(f replay.Filters) {
	rep := replay.Apply(e.Log(), f)
	topic := e.topic("replay")
	if f.Serial != "" {
		topic += "/" + f.Serial
	}
	logrus.Infof("engine: replaying %d passings to %s", len(rep), topic)
	e.publishJSON(topic, rep, false)
}

// marker inserts a manual marker record into the session log. Its
// elapsed time is computed the same way a real passing's is, but a
// marker never updates runstart/lastpass.
func (e *Engine) marker(text string) {
	e.cleanQueues()
	j := now()
	rec := session.Record{
		Date:  today(),
		Time:  j.Raw(3),
		MPID:  0,
		RefID: "marker",
		Env:   e.envVals(),
		Elap:  e.elapsed(j),
		Text:  text,
		TOD:   j,
	}
	rec = e.appendLog(rec)
	e.mtr.Mark(metrics.PassingsProcessed)
	logrus.Infof("engine: marker#%d %q", rec.Index, text)
	e.publishJSON(e.topic("passing"), rec, false)
}

// foreignTimer accepts a telegraphed passing in
// "INDEX;SOURCE;CHANNEL;REFID;TOD" form and feeds it into the raw-
// passing path as if it had arrived from the network hub.
func (e *Engine) foreignTimer(msg string) {
	parts := strings.Split(msg, ";")
	if len(parts) != 5 {
		logrus.Warnf("engine: ignored invalid foreign timer: %q", msg)
		return
	}
	t, err := tod.Parse(parts[4])
	if err != nil {
		logrus.Warnf("engine: ignored invalid foreign timer: %q: %v", msg, err)
		return
	}
	e.rawPassing(ingest.RawPassing{
		Index:   parts[0],
		MP:      parts[1],
		Channel: parts[2],
		RefID:   parts[3],
		TOD:     t,
	})
}
