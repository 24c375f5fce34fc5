package kafka

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/obsplane/core/internal/protocols/common"
)

var ErrTruncatedBody = errors.New("kafka: truncated frame body")

// readNullableString reads a Kafka nullable string: int16 length (-1
// means null) followed by that many bytes.
func readNullableString(buf []byte) (string, []byte, bool) {
	if len(buf) < 2 {
		return "", nil, false
	}
	n := int16(binary.BigEndian.Uint16(buf[0:2]))
	if n < 0 {
		return "", buf[2:], true
	}
	if len(buf) < 2+int(n) {
		return "", nil, false
	}
	return string(buf[2 : 2+int(n)]), buf[2+int(n):], true
}

// ProcessReq surfaces a request frame at the header level: api key
// name, api version, and the client id that leads every request body.
// Full per-api body decoding is out of scope for this peer; the
// correlation machinery only needs the header fields.
func ProcessReq(f common.Frame) (common.Request, error) {
	clientID, _, ok := readNullableString(f.Body)
	if !ok {
		return common.Request{}, ErrTruncatedBody
	}
	return common.Request{
		Op:          f.Opcode,
		Msg:         fmt.Sprintf("api_key=%s api_version=%d client_id=%s", APIKey(f.Opcode), f.Version, clientID),
		TimestampNS: f.TimestampNS,
	}, nil
}

// ProcessResp surfaces a response frame. apiKey comes from the matched
// request, since responses don't carry one on the wire.
func ProcessResp(f common.Frame, apiKey APIKey) (common.Response, error) {
	return common.Response{
		Op:          int(apiKey),
		Msg:         fmt.Sprintf("api_key=%s payload_bytes=%d", apiKey, len(f.Body)),
		TimestampNS: f.TimestampNS,
	}, nil
}
