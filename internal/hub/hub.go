// Package hub implements the decoder network hub: a single UDP socket
// multiplexed across N decoder units, demultiplexing inbound datagrams
// to the owning Link and dispatching a small command queue back out,
// all on one dedicated worker goroutine.
package hub

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/decoder"
	"github.com/mjolnir42/velotrain/internal/ingest"
	"github.com/mjolnir42/velotrain/internal/tod"
)

// idleEvery is the number of consecutive receive timeouts between
// synthetic idle ticks.
const idleEvery = 100

// recvTimeout is the UDP read deadline applied on every recvfrom
// attempt.
const recvTimeout = 200 * time.Millisecond

// syncTolerance is how close to a whole second SYNC busy-waits for
// before emitting the set-time command.
const syncTolerance = 20 * time.Millisecond

// Hub owns the UDP socket and the IP->Link demultiplex table. It knows
// nothing about refids, sectors or matching: decoded frames are handed
// off as ingest.Events to whatever consumes Output().
type Hub struct {
	uaddr string
	uport int
	bcast string

	mu    sync.Mutex
	links map[string]*decoder.Link // ip -> link
	names map[string]string        // mp name -> ip, the inverse index

	conn *net.UDPConn

	cmdq   chan Command
	out    chan ingest.Event
	stopch chan struct{}
	tc     int // consecutive recv-timeout counter
}

// New constructs a Hub bound to uaddr:uport with bcast as the broadcast
// destination for ALLSTAT/SYNC-all. The output channel is sized to
// smooth bursts without imposing extra back-pressure beyond the OS
// socket buffers: the engine's choke mechanism is the only intended
// flow-control point.
func New(uaddr string, uport int, bcast string) *Hub {
	return &Hub{
		uaddr:  uaddr,
		uport:  uport,
		bcast:  bcast,
		links:  map[string]*decoder.Link{},
		names:  map[string]string{},
		cmdq:   make(chan Command, 256),
		out:    make(chan ingest.Event, 1024),
		stopch: make(chan struct{}),
	}
}

// Output returns the channel the app worker reads decoded events from.
func (h *Hub) Output() <-chan ingest.Event { return h.out }

// Run opens the UDP socket and blocks, servicing I/O and the command
// queue until Shutdown is called. It returns early only when the socket
// cannot be opened; read errors other than timeouts are logged and the
// loop continues. Intended to run on its own goroutine.
func (h *Hub) Run() error {
	addr := &net.UDPAddr{Port: h.uport}
	if h.uaddr != "" {
		addr.IP = net.ParseIP(h.uaddr)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("hub: listen %s:%d: %w", h.uaddr, h.uport, err)
	}
	_ = conn.SetReadBuffer(1 << 20)
	h.conn = conn
	logrus.Infof("hub: listening on %s", conn.LocalAddr())

	buf := make([]byte, 2048)
	for {
		select {
		case <-h.stopch:
			h.conn.Close()
			return nil
		default:
		}

		h.conn.SetReadDeadline(time.Now().Add(recvTimeout))
		n, raddr, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				h.tc++
				if h.tc >= idleEvery {
					h.tc = 0
					h.emitIdleTick()
				}
			} else {
				logrus.Warnf("hub: read error: %v", err)
			}
		} else {
			h.tc = 0
			h.handleDatagram(raddr.IP.String(), append([]byte{}, buf[:n]...))
		}

		h.drainCommands()
	}
}

// Shutdown requests Run to stop and closes the socket.
func (h *Hub) Shutdown() {
	select {
	case <-h.stopch:
	default:
		close(h.stopch)
	}
}

// emitIdleTick sends the synthetic MP=="" passing used to drive
// queue-cleanup and a status poll on the app side.
func (h *Hub) emitIdleTick() {
	h.send(ingest.Event{Kind: ingest.RawPass, RawPassing: ingest.RawPassing{MP: "", TOD: tod.Now()}})
}

func (h *Hub) send(ev ingest.Event) {
	h.out <- ev
}

// handleDatagram demultiplexes one datagram to its owning Link (found
// by sender IP) and forwards every decoded frame. Datagrams from an IP
// with no registered Link are dropped.
func (h *Hub) handleDatagram(ip string, data []byte) {
	h.mu.Lock()
	link, ok := h.links[ip]
	h.mu.Unlock()
	if !ok {
		logrus.Debugf("hub: datagram from unregistered %s, dropped", ip)
		return
	}

	for _, f := range link.Feed(data) {
		switch f.Kind {
		case decoder.FramePassing:
			h.send(ingest.Event{Kind: ingest.RawPass, RawPassing: ingest.RawPassing{
				MP:      link.Name,
				RefID:   f.Passing.RefID,
				TOD:     f.Passing.TOD,
				Index:   f.Passing.Index,
				Channel: string(f.Passing.Channel),
			}})
			if f.Passing.Battery != decoder.BatteryOK {
				// A low/faulty battery flag rides in the passing frame
				// but is dispatched to the app as a separate status
				// event alongside the normal passing delivery.
				h.send(ingest.Event{Kind: ingest.Status, Status: ingest.StatusFrame{
					MP:      link.Name,
					Channel: string(decoder.ChanBATT),
					RefID:   f.Passing.RefID,
					TOD:     f.Passing.TOD,
				}})
			}
		case decoder.FrameStatus:
			h.send(ingest.Event{Kind: ingest.Status, Status: ingest.StatusFrame{
				MP:      link.Name,
				Channel: string(decoder.ChanSTS),
				RefID:   f.Status.RefID,
				TOD:     f.Status.TOD,
			}})
		case decoder.FrameConfig:
			logrus.Debugf("hub: config frame from %s (%s)", ip, link.Name)
		}
		if f.Ack {
			h.writeTo(ip, decoder.AckCmd)
		}
	}
}

// drainCommands processes every command currently queued, without
// blocking for more.
func (h *Hub) drainCommands() {
	for {
		select {
		case cmd := <-h.cmdq:
			h.dispatch(cmd)
		default:
			return
		}
	}
}

func (h *Hub) dispatch(cmd Command) {
	switch cmd.Kind {
	case CmdAdd:
		h.mu.Lock()
		delete(h.links, cmd.IP)
		link := decoder.NewLink(cmd.IP, cmd.Name)
		h.links[cmd.IP] = link
		h.names[cmd.Name] = cmd.IP
		h.mu.Unlock()
		h.writeTo(cmd.IP, decoder.QueCmd)
	case CmdRemove:
		h.mu.Lock()
		if link, ok := h.links[cmd.IP]; ok {
			delete(h.names, link.Name)
		}
		delete(h.links, cmd.IP)
		h.mu.Unlock()
	case CmdWrite:
		h.writeTo(cmd.IP, cmd.Bytes)
	case CmdSync:
		h.doSync(cmd.IP)
	case CmdAllStat:
		h.broadcast(decoder.StatCmd)
	case CmdConfig:
		h.doConfig(cmd.IP, cmd.Flags)
	case CmdShutdown:
		h.Shutdown()
	case cmdBarrier:
		close(cmd.done)
	}
}

func (h *Hub) writeTo(ip string, b []byte) {
	if h.conn == nil || len(b) == 0 {
		return
	}
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: h.uport}
	if _, err := h.conn.WriteToUDP(b, addr); err != nil {
		logrus.Warnf("hub: write to %s: %v", ip, err)
	}
}

func (h *Hub) broadcast(b []byte) {
	if h.conn == nil || h.bcast == "" {
		return
	}
	addr := &net.UDPAddr{IP: net.ParseIP(h.bcast), Port: h.uport}
	if _, err := h.conn.WriteToUDP(b, addr); err != nil {
		logrus.Warnf("hub: broadcast: %v", err)
	}
}

// doSync busy-waits until the local clock is within syncTolerance of a
// whole second, then writes the set-time command to ip, or broadcasts
// it when ip is empty.
func (h *Hub) doSync(ip string) {
	for {
		now := time.Now()
		rem := time.Second - time.Duration(now.Nanosecond())
		if rem < 0 {
			rem += time.Second
		}
		if rem <= syncTolerance || rem >= time.Second-syncTolerance {
			break
		}
		time.Sleep(time.Millisecond)
	}
	now := time.Now()
	cmd := decoder.BuildSetTimeCommand(now.Hour(), now.Minute(), now.Second())
	if ip == "" {
		h.broadcast(cmd)
	} else {
		h.writeTo(ip, cmd)
	}
}

// doConfig pushes the link's last-reported flags, overlaid with flags,
// as a serialised config block followed by a level-set. The link's
// stored flags are not changed; they change only when the unit next
// reports its config.
func (h *Hub) doConfig(ip string, flags decoder.Flags) {
	h.mu.Lock()
	link, ok := h.links[ip]
	h.mu.Unlock()
	if !ok {
		logrus.Warnf("hub: config for unknown link %s", ip)
		return
	}

	merged := decoder.Flags{}
	for k, v := range link.State().Flags {
		merged[k] = v
	}
	for k, v := range flags {
		merged[k] = v
	}
	h.writeTo(ip, decoder.BuildSetConfigCommand(merged))

	sta, box := decoder.BuildLevelSetCommands(link.State().PassLevel)
	h.writeTo(ip, sta)
	h.writeTo(ip, box)
}

// --- public command-queue API, called from the app worker / C6 ---

// Add registers a decoder unit at ip under measurement-point name, and
// immediately requests its current config.
func (h *Hub) Add(ip, name string) { h.cmdq <- Command{Kind: CmdAdd, IP: ip, Name: name} }

// Remove deregisters a decoder unit.
func (h *Hub) Remove(ip string) { h.cmdq <- Command{Kind: CmdRemove, IP: ip} }

// Write enqueues a raw outbound write to ip.
func (h *Hub) Write(ip string, b []byte) { h.cmdq <- Command{Kind: CmdWrite, IP: ip, Bytes: b} }

// Sync triggers a SYNC for ip, or every known unit when ip == "".
func (h *Hub) Sync(ip string) { h.cmdq <- Command{Kind: CmdSync, IP: ip} }

// AllStat triggers a broadcast status poll.
func (h *Hub) AllStat() { h.cmdq <- Command{Kind: CmdAllStat} }

// Config pushes a flag-table update to ip.
func (h *Hub) Config(ip string, flags decoder.Flags) {
	h.cmdq <- Command{Kind: CmdConfig, IP: ip, Flags: flags}
}

// Stop issues the decoder STOP command to ip (used by the reset
// controller before fetching/rewriting config).
func (h *Hub) Stop(ip string) { h.Write(ip, decoder.StopCmd) }

// Start issues the HELO/start command to ip.
func (h *Hub) Start(ip string) { h.Write(ip, decoder.HeloCmd) }

// FetchConfig requests a config dump from ip (QueCmd) without
// registering or changing the link.
func (h *Hub) FetchConfig(ip string) { h.Write(ip, decoder.QueCmd) }

// IPFor returns the IP registered under measurement-point name, if any.
func (h *Hub) IPFor(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ip, ok := h.names[name]
	return ip, ok
}

// Wait blocks until every command enqueued before this call has been
// dispatched: it enqueues a barrier behind them and waits for it to
// be processed in turn.
func (h *Hub) Wait() {
	done := make(chan struct{})
	h.cmdq <- Command{Kind: cmdBarrier, done: done}
	<-done
}

// ShutdownCmd enqueues CmdShutdown behind any commands already queued;
// its dispatch calls Shutdown, so callers queueing through cmdq and
// callers stopping Run() directly share one code path.
func (h *Hub) ShutdownCmd() { h.cmdq <- Command{Kind: CmdShutdown} }
