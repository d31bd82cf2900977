// Package dhi sends UNT4-framed environment updates to a scoreboard
// over a short-lived TCP connection: one connect/send/close per push,
// with all errors swallowed to a debug log line since a missing
// scoreboard must never stall the passing engine.
package dhi

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/metrics"
)

const (
	stx = 0x02
	etx = 0x03

	dialTimeout = 500 * time.Millisecond
)

// frame packs one UNT4 message: STX, a two-character header, the
// message text, ETX.
func frame(header, text string) []byte {
	b := make([]byte, 0, len(header)+len(text)+2)
	b = append(b, stx)
	b = append(b, header...)
	b = append(b, text...)
	b = append(b, etx)
	return b
}

// Client pushes environment readings to one DHI scoreboard address.
type Client struct {
	addr     string
	encoding string
	metrics  *metrics.Registry
}

// New constructs a Client. addr is "host:port"; encoding names the
// text encoding used to marshal the frame (default "utf-8"; only
// UTF-8 and ISO-8859-1 are honoured, anything else falls back to
// UTF-8).
func New(addr, encoding string, reg *metrics.Registry) *Client {
	return &Client{addr: addr, encoding: encoding, metrics: reg}
}

// PushEnv sends the temperature/humidity/pressure reading as three
// UNT4 frames (DC/RH/BP headers) over one TCP connection. Errors are
// logged at debug level and otherwise ignored: a down scoreboard must
// not affect timing.
func (c *Client) PushEnv(tempC, humidityPct, pressureHPa float64) {
	if c.addr == "" {
		return
	}
	msg := append(append(
		frame("DC", fmt.Sprintf("%0.1f", tempC)),
		frame("RH", fmt.Sprintf("%0.0f", humidityPct))...),
		frame("BP", fmt.Sprintf("%0.0f", pressureHPa))...)

	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		logrus.Debugf("dhi: connect %s: %v", c.addr, err)
		c.metrics.Mark(metrics.DHIErrors)
		return
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(dialTimeout))

	if _, err := conn.Write(encode(msg, c.encoding)); err != nil {
		logrus.Debugf("dhi: write %s: %v", c.addr, err)
		c.metrics.Mark(metrics.DHIErrors)
		return
	}
	c.metrics.Mark(metrics.DHISends)
}

// encode is a no-op for the byte frames we build: every header/text
// value is restricted to ASCII, so UTF-8 and ISO-8859-1 coincide.
func encode(b []byte, _ string) []byte { return b }
