package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetTimeCommandRoundTrip(t *testing.T) {
	cases := [][3]int{{0, 0, 0}, {12, 34, 56}, {23, 59, 59}, {6, 0, 30}}
	for _, c := range cases {
		cmd := BuildSetTimeCommand(c[0], c[1], c[2])
		h, m, s, err := ParseSetTimeCommand(cmd)
		require.NoError(t, err, "case %v", c)
		assert.Equal(t, c[0], h)
		assert.Equal(t, c[1], m)
		assert.Equal(t, c[2], s)
	}
}

func TestParseSetTimeCommandRejectsMalformed(t *testing.T) {
	_, _, _, err := ParseSetTimeCommand([]byte{0x48, 12, 34})
	assert.Error(t, err)

	cmd := BuildSetTimeCommand(1, 2, 3)
	cmd[len(cmd)-1] = 0x00 // clobber the terminator
	_, _, _, err = ParseSetTimeCommand(cmd)
	assert.Error(t, err)
}

func TestBuildLevelSetCommandsZeroPads(t *testing.T) {
	sta, box := BuildLevelSetCommands(7)
	assert.Equal(t, append(append([]byte{}, StaLvl...), '0', '7'), sta)
	assert.Equal(t, append(append([]byte{}, BoxLvl...), '0', '7'), box)
}

func TestBuildV3CommandFraming(t *testing.T) {
	cmd := []byte{0x08, 0x08}
	out := BuildV3Command(cmd)
	require.True(t, len(out) == len(Escape)+len(cmd)+3)
	assert.Equal(t, Escape[0], out[0])
	assert.Equal(t, byte('>'), out[len(out)-1])

	crc := CRC16MCRF4XX(cmd)
	assert.Equal(t, byte(crc>>8), out[len(out)-3])
	assert.Equal(t, byte(crc), out[len(out)-2])
}
