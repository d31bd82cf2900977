package decoder

import "fmt"

// BuildV3Command frames a version-3 command as
// ESCAPE | cmd | CRC16-MCRF4XX(cmd) | '>'.
func BuildV3Command(cmd []byte) []byte {
	crc := CRC16MCRF4XX(cmd)
	out := make([]byte, 0, len(Escape)+len(cmd)+3)
	out = append(out, Escape...)
	out = append(out, cmd...)
	out = append(out, byte(crc>>8), byte(crc))
	out = append(out, '>')
	return out
}

// BuildLevelSetCommands returns the STA and BOX level-set commands for
// the given pass level (0-99), two zero-padded ASCII digits appended to
// each level prefix.
func BuildLevelSetCommands(level int) (sta, box []byte) {
	lvl := []byte(fmt.Sprintf("%02d", level%100))
	sta = append(append([]byte{}, StaLvl...), lvl...)
	box = append(append([]byte{}, BoxLvl...), lvl...)
	return sta, box
}

// BuildSetTimeCommand returns the set-time command for hours/minutes/
// seconds encoded one value per byte, terminated by 0x74.
func BuildSetTimeCommand(hours, minutes, seconds int) []byte {
	body := []byte{byte(hours), byte(minutes), byte(seconds), 0x74}
	return append(append([]byte{}, SetTime...), body...)
}

// ParseSetTimeCommand is the inverse of BuildSetTimeCommand, used to
// verify outbound sync frames.
func ParseSetTimeCommand(b []byte) (hours, minutes, seconds int, err error) {
	want := len(SetTime) + 4
	if len(b) != want || string(b[:len(SetTime)]) != string(SetTime) || b[want-1] != 0x74 {
		return 0, 0, 0, fmt.Errorf("decoder: malformed set-time command %q", b)
	}
	body := b[len(SetTime):]
	return int(body[0]), int(body[1]), int(body[2]), nil
}

// BuildSetConfigCommand wraps a serialised config block in the SET
// opcode.
func BuildSetConfigCommand(flags Flags) []byte {
	cmd := append([]byte{0x08, 0x08}, SerialiseConfig(flags)...)
	return BuildV3Command(cmd)
}
