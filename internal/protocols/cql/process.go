package cql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/obsplane/core/internal/protocols/common"
)

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func processStartupReq(body []byte) (string, error) {
	c := &cursor{buf: body}
	opts, ok := c.readStringMap()
	if !ok {
		return "", ErrTruncatedBody
	}
	return toJSON(opts), nil
}

func processAuthResponseReq(body []byte) (string, error) {
	c := &cursor{buf: body}
	token, ok := c.readBytes()
	if !ok {
		return "", ErrTruncatedBody
	}
	return bytesToHex(token), nil
}

func processOptionsReq(body []byte) (string, error) {
	return "", nil
}

func processRegisterReq(body []byte) (string, error) {
	c := &cursor{buf: body}
	events, ok := c.readStringList()
	if !ok {
		return "", ErrTruncatedBody
	}
	return toJSON(events), nil
}

// queryParamValues reads the [value]* portion of a [query parameters]
// struct: consistency(short), flags(byte), then, if the values flag is
// set, [short]n followed by n [bytes] values. Only the values are
// surfaced today, matching the original's placeholder hex-dump
// behavior pending real type inference from a preceding Prepare.
func queryParamValues(c *cursor) ([]string, bool) {
	if _, ok := c.readShort(); !ok { // consistency
		return nil, false
	}
	if c.remaining() < 1 {
		return nil, false
	}
	flags := c.buf[c.pos]
	c.pos++
	const flagValues = 0x01
	if flags&flagValues == 0 {
		return nil, true
	}
	n, ok := c.readShort()
	if !ok {
		return nil, false
	}
	hexValues := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		v, ok := c.readBytes()
		if !ok {
			return nil, false
		}
		hexValues = append(hexValues, bytesToHex(v))
	}
	return hexValues, true
}

func processQueryReq(body []byte) (string, error) {
	c := &cursor{buf: body}
	query, ok := c.readLongString()
	if !ok {
		return "", ErrTruncatedBody
	}
	hexValues, ok := queryParamValues(c)
	if !ok {
		return "", ErrTruncatedBody
	}
	msg := query
	if len(hexValues) > 0 {
		msg += "\n" + toJSON(hexValues)
	}
	return msg, nil
}

func processPrepareReq(body []byte) (string, error) {
	c := &cursor{buf: body}
	query, ok := c.readLongString()
	if !ok {
		return "", ErrTruncatedBody
	}
	return query, nil
}

func processExecuteReq(body []byte) (string, error) {
	c := &cursor{buf: body}
	if _, ok := c.readShortBytesLen(); !ok { // prepared statement id
		return "", ErrTruncatedBody
	}
	hexValues, ok := queryParamValues(c)
	if !ok {
		return "", ErrTruncatedBody
	}
	return toJSON(hexValues), nil
}

// readShortBytesLen consumes a [short bytes] value (2-byte length
// prefix + raw bytes), returning only whether the read succeeded; the
// id's contents aren't surfaced, matching the original's placeholder.
func (c *cursor) readShortBytesLen() ([]byte, bool) {
	n, ok := c.readShort()
	if !ok || c.remaining() < int(n) {
		return nil, false
	}
	b := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return b, true
}

func processBatchReq(body []byte) (string, error) {
	c := &cursor{buf: body}
	if c.remaining() < 1 {
		return "", ErrTruncatedBody
	}
	c.pos++ // batch type
	n, ok := c.readShort()
	if !ok {
		return "", ErrTruncatedBody
	}
	type kv struct {
		Kind string `json:"kind"`
		Val  string `json:"val"`
	}
	entries := make([]kv, 0, n)
	for i := 0; i < int(n); i++ {
		if c.remaining() < 1 {
			return "", ErrTruncatedBody
		}
		kind := c.buf[c.pos]
		c.pos++
		switch kind {
		case 0: // query string
			q, ok := c.readLongString()
			if !ok {
				return "", ErrTruncatedBody
			}
			entries = append(entries, kv{Kind: "query", Val: q})
		case 1: // prepared id
			id, ok := c.readShortBytesLen()
			if !ok {
				return "", ErrTruncatedBody
			}
			entries = append(entries, kv{Kind: "id", Val: bytesToHex(id)})
		default:
			return "", errors.Wrapf(ErrTruncatedBody, "unrecognized batch query kind %d", kind)
		}
		if _, ok := queryParamValues(c); !ok {
			return "", ErrTruncatedBody
		}
	}
	return toJSON(entries), nil
}

// ProcessReq decodes a request frame's body into a user-visible
// Request. Unhandled opcodes (anything not in reqOpcodes) are an
// error, matching the original's exhaustive switch with a default
// that reports the unrecognized opcode.
func ProcessReq(f common.Frame) (common.Request, error) {
	op := Opcode(f.Opcode)
	req := common.Request{Op: f.Opcode, TimestampNS: f.TimestampNS}

	var (
		msg string
		err error
	)
	switch op {
	case OpStartup:
		msg, err = processStartupReq(f.Body)
	case OpAuthResponse:
		msg, err = processAuthResponseReq(f.Body)
	case OpOptions:
		msg, err = processOptionsReq(f.Body)
	case OpRegister:
		msg, err = processRegisterReq(f.Body)
	case OpQuery:
		msg, err = processQueryReq(f.Body)
	case OpPrepare:
		msg, err = processPrepareReq(f.Body)
	case OpExecute:
		msg, err = processExecuteReq(f.Body)
	case OpBatch:
		msg, err = processBatchReq(f.Body)
	default:
		return common.Request{}, errors.Wrapf(ErrUnhandledOpcode, "opcode %s", op)
	}
	if err != nil {
		return common.Request{}, err
	}
	req.Msg = msg
	return req, nil
}

func processErrorResp(body []byte) (string, error) {
	c := &cursor{buf: body}
	code, ok := c.readInt()
	if !ok {
		return "", ErrTruncatedBody
	}
	msg, ok := c.readString()
	if !ok {
		return "", ErrTruncatedBody
	}
	return fmt.Sprintf("[%d] %s", code, msg), nil
}

func processSupportedResp(body []byte) (string, error) {
	c := &cursor{buf: body}
	opts, ok := c.readStringMultiMap()
	if !ok {
		return "", ErrTruncatedBody
	}
	return toJSON(opts), nil
}

// readStringMultiMap reads a [string multimap]: short n, then n times
// (string key, [string list] values).
func (c *cursor) readStringMultiMap() (map[string][]string, bool) {
	n, ok := c.readShort()
	if !ok {
		return nil, false
	}
	m := make(map[string][]string, n)
	for i := 0; i < int(n); i++ {
		k, ok := c.readString()
		if !ok {
			return nil, false
		}
		vs, ok := c.readStringList()
		if !ok {
			return nil, false
		}
		m[k] = vs
	}
	return m, true
}

func processAuthenticateResp(body []byte) (string, error) {
	c := &cursor{buf: body}
	name, ok := c.readString()
	if !ok {
		return "", ErrTruncatedBody
	}
	return name, nil
}

func processAuthSuccessResp(body []byte) (string, error) {
	c := &cursor{buf: body}
	token, ok := c.readBytes()
	if !ok {
		return "", ErrTruncatedBody
	}
	return bytesToHex(token), nil
}

func processAuthChallengeResp(body []byte) (string, error) {
	c := &cursor{buf: body}
	token, ok := c.readBytes()
	if !ok {
		return "", ErrTruncatedBody
	}
	return bytesToHex(token), nil
}

const (
	resultKindVoid         = 0x0001
	resultKindRows         = 0x0002
	resultKindSetKeyspace  = 0x0003
	resultKindPrepared     = 0x0004
	resultKindSchemaChange = 0x0005
)

func processResultResp(body []byte) (string, error) {
	c := &cursor{buf: body}
	kind, ok := c.readInt()
	if !ok {
		return "", ErrTruncatedBody
	}
	switch kind {
	case resultKindVoid:
		return "Response type = VOID", nil
	case resultKindRows:
		return processRowsResult(c)
	case resultKindSetKeyspace:
		ks, ok := c.readString()
		if !ok {
			return "", ErrTruncatedBody
		}
		return "Response type = SET_KEYSPACE\nKeyspace = " + ks, nil
	case resultKindPrepared:
		return "Response type = PREPARED", nil
	case resultKindSchemaChange:
		return "Response type = SCHEMA_CHANGE", nil
	default:
		return "", errors.Wrapf(ErrTruncatedBody, "unrecognized result kind %d", kind)
	}
}

// metadataFlagGlobalTableSpec mirrors the wire flag that collapses all
// column specs onto a single (keyspace, table) pair instead of
// repeating it per column.
const metadataFlagGlobalTableSpec = 0x0001

func processRowsResult(c *cursor) (string, error) {
	flags, ok := c.readInt()
	if !ok {
		return "", ErrTruncatedBody
	}
	columnsCount, ok := c.readInt()
	if !ok {
		return "", ErrTruncatedBody
	}
	if flags&metadataFlagGlobalTableSpec != 0 {
		if _, ok := c.readString(); !ok { // keyspace
			return "", ErrTruncatedBody
		}
		if _, ok := c.readString(); !ok { // table
			return "", ErrTruncatedBody
		}
	}
	names := make([]string, 0, columnsCount)
	for i := 0; i < int(columnsCount); i++ {
		if flags&metadataFlagGlobalTableSpec == 0 {
			if _, ok := c.readString(); !ok { // keyspace
				return "", ErrTruncatedBody
			}
			if _, ok := c.readString(); !ok { // table
				return "", ErrTruncatedBody
			}
		}
		name, ok := c.readString()
		if !ok {
			return "", ErrTruncatedBody
		}
		if _, ok := c.readShort(); !ok { // type id, not interpreted
			return "", ErrTruncatedBody
		}
		names = append(names, name)
	}
	rowsCount, ok := c.readInt()
	if !ok {
		return "", ErrTruncatedBody
	}
	return fmt.Sprintf("Response type = ROWS\nNumber of columns = %d\n%s\nNumber of rows = %d",
		columnsCount, toJSON(names), rowsCount), nil
}

func processEventResp(body []byte) (string, error) {
	c := &cursor{buf: body}
	eventType, ok := c.readString()
	if !ok {
		return "", ErrTruncatedBody
	}
	switch eventType {
	case "TOPOLOGY_CHANGE", "STATUS_CHANGE":
		changeType, ok := c.readString()
		if !ok {
			return "", ErrTruncatedBody
		}
		addr, ok := readInetAddr(c)
		if !ok {
			return "", ErrTruncatedBody
		}
		return strings.Join([]string{eventType, changeType, addr}, " "), nil
	case "SCHEMA_CHANGE":
		changeType, ok := c.readString()
		if !ok {
			return "", ErrTruncatedBody
		}
		keyspace, ok := c.readString()
		if !ok {
			return "", ErrTruncatedBody
		}
		name, ok := c.readString()
		if !ok {
			return "", ErrTruncatedBody
		}
		return fmt.Sprintf("%s %s keyspace=%s name=%s", eventType, changeType, keyspace, name), nil
	default:
		return "", errors.Wrapf(ErrTruncatedBody, "unknown event_type %q", eventType)
	}
}

// readInetAddr reads a CQL [inet]: one length byte (4 or 16), that
// many address bytes, then a 4-byte port.
func readInetAddr(c *cursor) (string, bool) {
	if c.remaining() < 1 {
		return "", false
	}
	n := int(c.buf[c.pos])
	c.pos++
	if n != 4 && n != 16 {
		return "", false
	}
	if c.remaining() < n+4 {
		return "", false
	}
	addrBytes := c.buf[c.pos : c.pos+n]
	c.pos += n
	port := int32(0)
	for _, b := range c.buf[c.pos : c.pos+4] {
		port = port<<8 | int32(b)
	}
	c.pos += 4

	parts := make([]string, n)
	for i, b := range addrBytes {
		parts[i] = fmt.Sprintf("%d", b)
	}
	sep := "."
	if n == 16 {
		sep = ":"
	}
	return strings.Join(parts, sep) + fmt.Sprintf(":%d", port), true
}

// ProcessResp decodes a response frame's body into a user-visible
// Response.
func ProcessResp(f common.Frame) (common.Response, error) {
	op := Opcode(f.Opcode)
	resp := common.Response{Op: f.Opcode, TimestampNS: f.TimestampNS}

	var (
		msg string
		err error
	)
	switch op {
	case OpError:
		msg, err = processErrorResp(f.Body)
	case OpReady:
		msg, err = "", nil
	case OpAuthenticate:
		msg, err = processAuthenticateResp(f.Body)
	case OpSupported:
		msg, err = processSupportedResp(f.Body)
	case OpResult:
		msg, err = processResultResp(f.Body)
	case OpEvent:
		msg, err = processEventResp(f.Body)
	case OpAuthChallenge:
		msg, err = processAuthChallengeResp(f.Body)
	case OpAuthSuccess:
		msg, err = processAuthSuccessResp(f.Body)
	default:
		return common.Response{}, errors.Wrapf(ErrUnhandledOpcode, "opcode %s", op)
	}
	if err != nil {
		return common.Response{}, err
	}
	resp.Msg = msg
	return resp, nil
}
