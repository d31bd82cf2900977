package decoder

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/tod"
)

// BatteryState describes the low-battery flag carried in a passing
// frame's index field.
type BatteryState int

const (
	BatteryOK BatteryState = iota
	BatteryLow
	BatteryFaulty
)

// PassingEvent is a decoded passing frame.
type PassingEvent struct {
	Channel Channel
	RefID   string
	TOD     tod.TOD
	Index   string
	Battery BatteryState
}

// StatusEvent is a decoded status frame.
type StatusEvent struct {
	RefID string
	TOD   tod.TOD
}

// FrameKind discriminates the parsed-frame union returned by Link.Feed.
type FrameKind int

const (
	FramePassing  FrameKind = iota
	FrameStatus
	FrameConfig
	FrameSpurious // a frame with a refid outside the accepted ranges
	FrameNone     // nothing to forward, but Ack may still be set (e.g. the 3-strikes nudge)
)

// Frame is one parsed protocol message from a decoder link. Ack
// indicates the hub should send an ACK back to this unit.
type Frame struct {
	Kind    FrameKind
	Passing PassingEvent
	Status  StatusEvent
	Config  *DecoderState
	Ack     bool
}

// Link accumulates and parses the byte stream from one decoder unit
// (one remote IP). It holds no socket of its own - the Network Hub (C2)
// owns the UDP connection and feeds bytes in as datagrams arrive.
type Link struct {
	IP   string
	Name string // measurement-point id assigned when the link was added

	buf      []byte
	state    DecoderState
	cksumErr int
}

// NewLink constructs a Link for the given remote IP / MP name.
func NewLink(ip, name string) *Link {
	return &Link{IP: ip, Name: name, state: DecoderState{PassLevel: 40}}
}

// State returns the link's current decoder state (read-only snapshot).
func (l *Link) State() DecoderState { return l.state }

// Feed appends a datagram to the link's read buffer and parses every
// complete CR-LF terminated frame found in it, returning the decoded
// frames in arrival order.
func (l *Link) Feed(data []byte) []Frame {
	l.buf = append(l.buf, data...)
	var frames []Frame
	for bytes.IndexByte(l.buf, LF) >= 0 {
		idx := bytes.Index(l.buf, []byte{CR, LF})
		var pkt []byte
		if idx >= 0 {
			pkt = l.buf[:idx+2]
			l.buf = l.buf[idx+2:]
		} else {
			// LF without a preceding CR: still consume up to and
			// including the LF so the buffer keeps making progress.
			nl := bytes.IndexByte(l.buf, LF)
			pkt = l.buf[:nl+1]
			l.buf = l.buf[nl+1:]
		}

		start := firstStartChar(pkt)
		if start < 0 {
			logrus.Debugf("decoder[%s]: no start char in %q", l.IP, pkt)
			continue
		}
		if f, ok := l.parseMessage(pkt[start:]); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// firstStartChar returns the earliest index of '<', '[' or '+' in pkt,
// or -1 if none of them occur.
func firstStartChar(pkt []byte) int {
	best := -1
	for _, c := range []byte{PassStart, StatStart, CfgStart0} {
		if idx := bytes.IndexByte(pkt, c); idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	return best
}

func (l *Link) parseMessage(msg []byte) (Frame, bool) {
	if len(msg) <= 4 {
		logrus.Debugf("decoder[%s]: short message %q", l.IP, msg)
		return Frame{}, false
	}

	switch {
	case msg[0] == PassStart:
		return l.parsePassing(msg)
	case msg[0] == StatStart:
		return l.parseStatus(msg)
	case len(msg) > 53 && bytes.HasPrefix(msg, []byte("+++")):
		st, err := ParseConfig(msg[3:])
		if err != nil {
			logrus.Warnf("decoder[%s]: config parse: %v", l.IP, err)
			return Frame{}, false
		}
		l.state.UnitID = st.UnitID
		l.state.Version = st.Version
		l.state.Flags = st.Flags
		l.state.Net = st.Net
		return Frame{Kind: FrameConfig, Config: st}, true
	default:
		logrus.Debugf("decoder[%s]: unrecognised frame %q", l.IP, msg)
		return Frame{}, false
	}
}

func (l *Link) parsePassing(msg []byte) (Frame, bool) {
	idx := bytes.IndexByte(msg, '>')
	if idx != 37 {
		logrus.Debugf("decoder[%s]: invalid passing length %q", l.IP, msg)
		return Frame{}, false
	}
	data := msg[1:33]
	msum := string(msg[33:37])
	tsum := thbcSum(data)
	if tsum != msum {
		l.cksumErr++
		logrus.Warnf("decoder[%s]: invalid checksum %s != %s: %q", l.IP, tsum, msum, msg)
		if l.cksumErr > 3 {
			logrus.Errorf("decoder[%s]: erroneous message from decoder", l.IP)
			l.cksumErr = 0
			return Frame{Kind: FrameNone, Ack: true}, true
		}
		return Frame{}, false
	}
	l.cksumErr = 0

	pvec := strings.Fields(string(data))
	if len(pvec) < 6 {
		logrus.Debugf("decoder[%s]: short passing payload %q", l.IP, data)
		return Frame{}, false
	}
	rawref := pvec[1]
	refint, err := strconv.Atoi(rawref)
	if err != nil {
		logrus.Infof("decoder[%s]: ignored spurious refid %q", l.IP, rawref)
		return Frame{Kind: FrameSpurious, Ack: true}, true
	}
	if !(refint == 255 || (refint > MinRefID && refint < MaxRefID)) {
		logrus.Infof("decoder[%s]: ignored spurious refid %q", l.IP, rawref)
		return Frame{Kind: FrameSpurious, Ack: true}, true
	}

	refid := strings.TrimLeft(rawref, "0")
	if refid == "" {
		refid = "0"
	}
	t, err := tod.Parse(pvec[2])
	if err != nil {
		logrus.Warnf("decoder[%s]: bad tod %q: %v", l.IP, pvec[2], err)
		return Frame{}, false
	}
	idxStr := strings.Join(pvec[3:6], ":")
	battery := BatteryOK
	switch pvec[5] {
	case "2":
		battery = BatteryLow
		logrus.Infof("decoder[%s]: low battery on %s", l.IP, refid)
	case "3":
		battery = BatteryFaulty
		logrus.Warnf("decoder[%s]: faulty battery on %s", l.IP, refid)
	}

	return Frame{
		Kind: FramePassing,
		Ack:  true,
		Passing: PassingEvent{
			Channel: tagToChannel(pvec[0]),
			RefID:   refid,
			TOD:     t,
			Index:   idxStr,
			Battery: battery,
		},
	}, true
}

func (l *Link) parseStatus(msg []byte) (Frame, bool) {
	if len(msg) < 22 {
		logrus.Infof("decoder[%s]: invalid status %q", l.IP, msg)
		return Frame{}, false
	}
	data := msg[1:22]
	pvec := strings.Fields(string(data))
	if len(pvec) != 5 {
		logrus.Infof("decoder[%s]: invalid status %q", l.IP, msg)
		return Frame{}, false
	}
	t, err := tod.Parse(strings.Trim(pvec[0], "\""))
	if err != nil {
		logrus.Infof("decoder[%s]: invalid status time %q: %v", l.IP, pvec[0], err)
		return Frame{}, false
	}
	return Frame{
		Kind: FrameStatus,
		Status: StatusEvent{
			RefID: strings.Join(pvec[1:], ":"),
			TOD:   t,
		},
	}, true
}
