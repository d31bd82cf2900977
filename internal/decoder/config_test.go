package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialiseParseRoundTrip(t *testing.T) {
	in := Flags{
		FlagTimeOfDay:    true,
		FlagGPSSync:      false,
		FlagRS485:        true,
		FlagFibre:        false,
		FlagActiveLoop:   true,
		FlagDetectMax:    true,
		FlagProtocol:     3,
		FlagCellSync:     true,
		FlagCellSyncHour: 14,
		FlagCellSyncMin:  30,
		FlagSyncPulse:    false,
		FlagSyncInterval: 10,
		FlagSerialPrint:  true,
		FlagTZHour:       2,
		FlagTZMin:        15,
		FlagToneSTA:      123,
		FlagToneBOX:      45,
		FlagToneMAN:      6,
		FlagToneCEL:      0,
		FlagToneBXX:      99,
	}

	block := SerialiseConfig(in)
	require.Len(t, block, ConfigLen)

	padded := append(block, make([]byte, 48-ConfigLen)...)
	for i := 43; i < 47; i++ {
		padded[i] = 0
	}
	padded[47] = val2hexval(3)

	out, err := ParseConfig(padded)
	require.NoError(t, err)

	for key := range toneFlags {
		assert.Equal(t, in[key], out.Flags[key], "tone flag %s", key)
	}
	for key := range byteFlags {
		assert.Equal(t, in[key], out.Flags[key], "byte flag %s", key)
	}
	for key := range boolFlags {
		assert.Equal(t, in[key], out.Flags[key], "bool flag %s", key)
	}
}

func TestVal2HexValRoundTrip(t *testing.T) {
	for v := 0; v < 100; v++ {
		assert.Equal(t, v, hexval2val(val2hexval(v)), "value %d", v)
	}
}

func TestCRC16MCRF4XXKnownVector(t *testing.T) {
	// Empty input leaves the CRC register at its initial value.
	assert.Equal(t, uint16(0xffff), CRC16MCRF4XX(nil))
}

func TestThbcSumWraps(t *testing.T) {
	data := make([]byte, 0, 200)
	for i := 0; i < 200; i++ {
		data = append(data, 0xff)
	}
	sum := thbcSum(data)
	assert.Len(t, sum, 4)
}
