package decoder

import (
	"fmt"
	"net"
)

// Config block field offsets.
const (
	CfgTOD         = 0
	CfgGPS         = 1
	CfgTZHour      = 2
	CfgTZMin       = 3
	Cfg485         = 4
	CfgFibre       = 5
	CfgPrint       = 6
	CfgMax         = 7
	CfgProt        = 8
	CfgPulse       = 9
	CfgPulseInt    = 10
	CfgCellSync    = 11
	CfgCellTODHour = 12
	CfgCellTODMin  = 13
	CfgActiveLoop  = 14
	CfgToneSTA     = 15
	CfgToneBOX     = 17
	CfgToneMAN     = 19
	CfgToneCEL     = 21
	CfgToneBXX     = 23
	CfgSpare       = 25
	ConfigLen      = 27
	ipConfigLen    = 16
)

// FlagKey names the well-known flags, used as the keys in a Flags map
// and as the names the reset procedure updates config entries by.
type FlagKey string

const (
	FlagTimeOfDay    FlagKey = "Time of Day"
	FlagGPSSync      FlagKey = "GPS Sync"
	FlagTZHour       FlagKey = "Timezone Hour"
	FlagTZMin        FlagKey = "Timezone Min"
	FlagRS485        FlagKey = "Distant rs485"
	FlagFibre        FlagKey = "Distant Fibre"
	FlagSerialPrint  FlagKey = "Serial Print"
	FlagDetectMax    FlagKey = "Detect Max"
	FlagProtocol     FlagKey = "Protocol"
	FlagSyncPulse    FlagKey = "Sync Pulse"
	FlagSyncInterval FlagKey = "Sync Interval"
	FlagCellSync     FlagKey = "CELL Sync"
	FlagCellSyncHour FlagKey = "CELL Sync Hour"
	FlagCellSyncMin  FlagKey = "CELL Sync Min"
	FlagToneSTA      FlagKey = "STA Tone"
	FlagToneBOX      FlagKey = "BOX Tone"
	FlagToneMAN      FlagKey = "MAN Tone"
	FlagToneCEL      FlagKey = "CEL Tone"
	FlagToneBXX      FlagKey = "BXX Tone"
	FlagActiveLoop   FlagKey = "Active Loop"
	FlagSpare        FlagKey = "[spare]"
)

// flagOffsets maps every named flag to its byte offset in the block.
var flagOffsets = map[FlagKey]int{
	FlagTimeOfDay:    CfgTOD,
	FlagGPSSync:      CfgGPS,
	FlagTZHour:       CfgTZHour,
	FlagTZMin:        CfgTZMin,
	FlagRS485:        Cfg485,
	FlagFibre:        CfgFibre,
	FlagSerialPrint:  CfgPrint,
	FlagDetectMax:    CfgMax,
	FlagProtocol:     CfgProt,
	FlagSyncPulse:    CfgPulse,
	FlagSyncInterval: CfgPulseInt,
	FlagCellSync:     CfgCellSync,
	FlagCellSyncHour: CfgCellTODHour,
	FlagCellSyncMin:  CfgCellTODMin,
	FlagToneSTA:      CfgToneSTA,
	FlagToneBOX:      CfgToneBOX,
	FlagToneMAN:      CfgToneMAN,
	FlagToneCEL:      CfgToneCEL,
	FlagToneBXX:      CfgToneBXX,
	FlagActiveLoop:   CfgActiveLoop,
	FlagSpare:        CfgSpare,
}

var toneFlags = map[FlagKey]bool{
	FlagToneSTA: true, FlagToneBOX: true, FlagToneMAN: true,
	FlagToneCEL: true, FlagToneBXX: true,
}

var byteFlags = map[FlagKey]bool{
	FlagTZHour: true, FlagTZMin: true, FlagProtocol: true,
	FlagSyncInterval: true, FlagCellSyncHour: true, FlagCellSyncMin: true,
}

var boolFlags = map[FlagKey]bool{
	FlagTimeOfDay: true, FlagGPSSync: true, FlagRS485: true, FlagFibre: true,
	FlagSerialPrint: true, FlagDetectMax: true, FlagSyncPulse: true,
	FlagCellSync: true, FlagActiveLoop: true,
}

// NetConfig carries the four IPv4 addresses reported back by the
// decoder in its own config block.
type NetConfig struct {
	IP, Mask, Gateway, Host string
}

// Flags is a loosely-typed flag table: bool or int values keyed by
// flag name.
type Flags map[FlagKey]interface{}

// DecoderState is the per-link decoder state.
type DecoderState struct {
	UnitID    string
	Version   string
	PassLevel int
	Flags     Flags
	Net       NetConfig
	CkSumErr  int
}

// SerialiseConfig packs the current flag table into the 27-byte config
// block sent in a SET command, the exact inverse of ParseConfig.
func SerialiseConfig(f Flags) []byte {
	buf := make([]byte, ConfigLen)
	buf[CfgSpare] = 0x20
	buf[CfgSpare+1] = 0x20

	for key := range toneFlags {
		if v, ok := f[key]; ok {
			iv := toInt(v)
			off := flagOffsets[key]
			buf[off] = val2hexval(iv / 100)
			buf[off+1] = val2hexval(iv % 100)
		}
	}
	for key := range byteFlags {
		if v, ok := f[key]; ok {
			off := flagOffsets[key]
			buf[off] = val2hexval(toInt(v) % 100)
		}
	}
	for key := range boolFlags {
		if v, ok := f[key]; ok {
			if toBool(v) {
				buf[flagOffsets[key]] = 0x01
			}
		}
	}
	return buf
}

// ParseConfig decodes a raw config response body (already stripped of
// the leading "+++") into a DecoderState.
func ParseConfig(msg []byte) (*DecoderState, error) {
	if len(msg) < 48 {
		return nil, fmt.Errorf("decoder: short config block (%d bytes)", len(msg))
	}
	st := &DecoderState{Flags: Flags{}}
	for key, off := range flagOffsets {
		switch {
		case toneFlags[key]:
			st.Flags[key] = 100*hexval2val(msg[off]) + hexval2val(msg[off+1])
		case byteFlags[key]:
			st.Flags[key] = hexval2val(msg[off])
		case boolFlags[key]:
			st.Flags[key] = msg[off] != 0
		}
	}

	unit := make([]byte, 0, 4)
	for _, c := range msg[43:47] {
		unit = append(unit, c+'0')
	}
	st.UnitID = string(unit)
	st.Version = fmt.Sprintf("%d", hexval2val(msg[47]))

	if len(msg) >= 43 {
		st.Net = NetConfig{
			IP:      net.IP(msg[27:31]).String(),
			Mask:    net.IP(msg[31:35]).String(),
			Gateway: net.IP(msg[35:39]).String(),
			Host:    net.IP(msg[39:43]).String(),
		}
	}
	return st, nil
}

func toInt(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func toBool(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	default:
		return false
	}
}

// SaneConfig is the canonical config block written to every unit
// during a reset.
var SaneConfig = Flags{
	FlagTimeOfDay:    true,
	FlagGPSSync:      false,
	FlagActiveLoop:   false,
	FlagDetectMax:    true,
	FlagProtocol:     0,
	FlagCellSync:     false,
	FlagSyncPulse:    false,
	FlagSerialPrint:  false,
	FlagTZHour:       0,
	FlagTZMin:        0,
}
