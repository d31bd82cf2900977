// Package decoder implements the per-unit binary link protocol: frame
// splitting, checksum validation, passing/status/config parsing, and
// outbound command encoding for one networked timing decoder.
package decoder

import "fmt"

// Escape-prefixed single/multi-byte opcodes.
var (
	Escape    = []byte{0x1b}
	HeloCmd   = []byte("MR1")
	StopCmd   = append(append([]byte{}, Escape...), 0x13, 0x5c)
	RepeatCmd = append(append([]byte{}, Escape...), 0x12)
	AckCmd    = append(append([]byte{}, Escape...), 0x11)
	StatCmd   = append(append([]byte{}, Escape...), 0x05)
	ChkCmd    = append(append([]byte{}, Escape...), 0x06)
	StartCmd  = append(append([]byte{}, Escape...), 0x07)
	SetCmd    = append(append([]byte{}, Escape...), 0x08)
	IPCmd     = append(append([]byte{}, Escape...), 0x09)
	QueCmd    = append(append([]byte{}, Escape...), 0x10)
	StaLvl    = append(append([]byte{}, Escape...), 0x1e)
	BoxLvl    = append(append([]byte{}, Escape...), 0x1f)
	SetTime   = append(append([]byte{}, Escape...), 0x48)
)

const (
	CR = 0x0d
	LF = 0x0a

	PassStart = '<'
	StatStart = '['
	CfgStart0 = '+'

	MinRefID = 90000
	MaxRefID = 150000

	// Encoding used by the decoder wire protocol (ISO-8859-1, a.k.a.
	// Latin-1) - all payload bytes round-trip byte-for-byte.
	WireEncoding = "iso8859-1"
)

// Channel identifies which physical loop/port produced a record.
type Channel string

const (
	ChanSTA  Channel = "C1" // station loop
	ChanBOX  Channel = "C2" // box loop
	ChanMAN  Channel = "C0" // manual
	ChanSTS  Channel = "STS"
	ChanBATT Channel = "BATT"
)

func tagToChannel(tag string) Channel {
	switch tag {
	case "BOX":
		return ChanBOX
	case "MAN":
		return ChanMAN
	default:
		return ChanSTA
	}
}

// thbcSum returns the decimal checksum (sum of byte values mod 10000,
// zero padded to 4 digits) used by the passing frame trailer.
func thbcSum(b []byte) string {
	var sum int
	for _, c := range b {
		sum += int(c)
	}
	return fmt.Sprintf("%04d", sum%10000)
}

// val2hexval packs a two-digit decimal value into a single byte with
// each nibble holding one decimal digit (BCD-like encoding used by the
// config block's tone/timezone fields).
func val2hexval(val int) byte {
	return byte(((val/10)&0x0f)<<4 | (val % 10 & 0x0f))
}

// hexval2val is the inverse of val2hexval.
func hexval2val(h byte) int {
	return 10*int(h>>4) + int(h&0x0f)
}
