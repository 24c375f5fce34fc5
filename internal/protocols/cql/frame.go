package cql

import (
	"encoding/binary"

	"github.com/obsplane/core/internal/protocols/common"
)

// headerSize is the fixed native-protocol v3+ frame header: version(1)
// + flags(1) + stream(2) + opcode(1) + length(4).
const headerSize = 9

// ParseFrame decodes exactly one CQL frame from the head of buf. It
// satisfies common.FrameParser.
func ParseFrame(buf []byte, timestampNS int64) (common.Frame, common.ParseState, int) {
	if len(buf) < headerSize {
		return common.Frame{}, common.StateNeedsMoreData, 0
	}

	version := buf[0]
	flags := buf[1]
	stream := int32(int16(binary.BigEndian.Uint16(buf[2:4])))
	opcode := buf[4]
	bodyLen := binary.BigEndian.Uint32(buf[5:9])

	// Reject implausible lengths outright rather than blocking forever
	// on a corrupt header pretending to want gigabytes of body.
	const maxBodyLen = 256 * 1024 * 1024
	if bodyLen > maxBodyLen {
		return common.Frame{}, common.StateInvalid, 0
	}

	total := headerSize + int(bodyLen)
	if len(buf) < total {
		return common.Frame{}, common.StateNeedsMoreData, 0
	}

	body := make([]byte, bodyLen)
	copy(body, buf[headerSize:total])

	return common.Frame{
		Opcode:      int(opcode),
		StreamID:    stream,
		Flags:       flags,
		Version:     version,
		Body:        body,
		TimestampNS: timestampNS,
	}, common.StateComplete, total
}

// FindFrameBoundary scans buf for the next byte offset, at or after
// startPos, whose opcode byte is one CQL actually defines. It's only a
// heuristic — an arbitrary body byte can coincidentally match a valid
// opcode — but it is exactly the kind of best-effort resync the
// original's FindFrameBoundary performs, and it terminates: the caller
// bounds retries via the errorCount it returns alongside.
func FindFrameBoundary(buf []byte, startPos int) int {
	for i := startPos; i+headerSize <= len(buf); i++ {
		op := Opcode(buf[i+4])
		if reqOpcodes[op] || respOpcodes[op] {
			return i
		}
	}
	return len(buf)
}
