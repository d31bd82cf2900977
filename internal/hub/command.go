package hub

import "github.com/mjolnir42/velotrain/internal/decoder"

// CmdKind discriminates the Hub's internal command queue. Inbound
// passing/status deliveries are folded into direct sends on the output
// channel (see hub.go) rather than round-tripping through this queue,
// since nothing else here needs to observe them in order.
type CmdKind int

const (
	CmdAdd CmdKind = iota
	CmdRemove
	CmdWrite
	CmdSync
	CmdAllStat
	CmdConfig
	CmdShutdown
	cmdBarrier // internal: used by Wait() to flush the queue
)

// Command is one entry on the Hub's command queue.
type Command struct {
	Kind  CmdKind
	IP    string
	Name  string        // CmdAdd
	Bytes []byte        // CmdWrite
	Flags decoder.Flags // CmdConfig
	done  chan struct{}
}
