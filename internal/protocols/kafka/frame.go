package kafka

import (
	"encoding/binary"

	"github.com/obsplane/core/internal/protocols/common"
)

// Kafka frames are length-prefixed: a 4-byte payload length, then for
// requests api_key(2) + api_version(2) + correlation_id(4), and for
// responses just correlation_id(4). Everything after those headers is
// kept as the frame body.
const (
	lenPrefixSize  = 4
	reqHeaderSize  = lenPrefixSize + 8
	respHeaderSize = lenPrefixSize + 4

	// maxFrameLen rejects corrupt length prefixes pretending to want
	// unbounded body. Matches Kafka's default message.max.bytes order
	// of magnitude with headroom.
	maxFrameLen = 64 * 1024 * 1024
)

// ParseReqFrame decodes one client-side frame. It satisfies
// common.FrameParser. The api key lands in Frame.Opcode, the
// correlation id in Frame.StreamID, and the api version in
// Frame.Version (low byte; no Kafka API version exceeds 255).
func ParseReqFrame(buf []byte, timestampNS int64) (common.Frame, common.ParseState, int) {
	if len(buf) < reqHeaderSize {
		return common.Frame{}, common.StateNeedsMoreData, 0
	}

	payloadLen := int32(binary.BigEndian.Uint32(buf[0:4]))
	if payloadLen < 8 || payloadLen > maxFrameLen {
		return common.Frame{}, common.StateInvalid, 0
	}

	apiKey := APIKey(binary.BigEndian.Uint16(buf[4:6]))
	apiVersion := binary.BigEndian.Uint16(buf[6:8])
	correlationID := int32(binary.BigEndian.Uint32(buf[8:12]))
	if !knownAPIKeys[apiKey] || correlationID < 0 {
		return common.Frame{}, common.StateInvalid, 0
	}

	total := lenPrefixSize + int(payloadLen)
	if len(buf) < total {
		return common.Frame{}, common.StateNeedsMoreData, 0
	}

	body := make([]byte, total-reqHeaderSize)
	copy(body, buf[reqHeaderSize:total])

	return common.Frame{
		Opcode:      int(apiKey),
		StreamID:    correlationID,
		Version:     byte(apiVersion),
		Body:        body,
		TimestampNS: timestampNS,
	}, common.StateComplete, total
}

// ParseRespFrame decodes one server-side frame. Responses carry no
// api key on the wire, so Frame.Opcode is left at -1 until the
// stitcher propagates it from the matched request.
func ParseRespFrame(buf []byte, timestampNS int64) (common.Frame, common.ParseState, int) {
	if len(buf) < respHeaderSize {
		return common.Frame{}, common.StateNeedsMoreData, 0
	}

	payloadLen := int32(binary.BigEndian.Uint32(buf[0:4]))
	if payloadLen < 4 || payloadLen > maxFrameLen {
		return common.Frame{}, common.StateInvalid, 0
	}

	correlationID := int32(binary.BigEndian.Uint32(buf[4:8]))
	if correlationID < 0 {
		return common.Frame{}, common.StateInvalid, 0
	}

	total := lenPrefixSize + int(payloadLen)
	if len(buf) < total {
		return common.Frame{}, common.StateNeedsMoreData, 0
	}

	body := make([]byte, total-respHeaderSize)
	copy(body, buf[respHeaderSize:total])

	return common.Frame{
		Opcode:      -1,
		StreamID:    correlationID,
		Body:        body,
		TimestampNS: timestampNS,
	}, common.StateComplete, total
}

// FindRespFrameBoundary scans for the next offset that could start a
// response frame. Responses carry only a length and correlation id,
// so this is a weaker heuristic than the request-side scan.
func FindRespFrameBoundary(buf []byte, startPos int) int {
	for i := startPos; i+respHeaderSize <= len(buf); i++ {
		payloadLen := int32(binary.BigEndian.Uint32(buf[i : i+4]))
		if payloadLen < 4 || payloadLen > maxFrameLen {
			continue
		}
		correlationID := int32(binary.BigEndian.Uint32(buf[i+4 : i+8]))
		if correlationID >= 0 {
			return i
		}
	}
	return len(buf)
}

// FindReqFrameBoundary scans for the next offset whose bytes look
// like a plausible request header: in-range length, known api key,
// small api version, non-negative correlation id. Like cql's
// recovery scan this is a heuristic; the parse loop bounds retries.
func FindReqFrameBoundary(buf []byte, startPos int) int {
	for i := startPos; i+reqHeaderSize <= len(buf); i++ {
		payloadLen := int32(binary.BigEndian.Uint32(buf[i : i+4]))
		if payloadLen < 8 || payloadLen > maxFrameLen {
			continue
		}
		apiKey := APIKey(binary.BigEndian.Uint16(buf[i+4 : i+6]))
		apiVersion := binary.BigEndian.Uint16(buf[i+6 : i+8])
		correlationID := int32(binary.BigEndian.Uint32(buf[i+8 : i+12]))
		if knownAPIKeys[apiKey] && apiVersion <= 32 && correlationID >= 0 {
			return i
		}
	}
	return len(buf)
}
