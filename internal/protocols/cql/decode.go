package cql

import (
	"encoding/binary"
	"encoding/hex"
)

// cursor walks a CQL message body, consuming the little set of
// primitive encodings (short, int, string, long string, bytes,
// string map) the request/response decoders below need. It never
// panics on short input; every read reports ok=false instead, which
// the caller turns into a dropped record plus an incremented error
// count, exactly as the original's ProcessXxxReq does via
// PL_ASSIGN_OR_RETURN.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) readShort() (uint16, bool) {
	if c.remaining() < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos : c.pos+2])
	c.pos += 2
	return v, true
}

func (c *cursor) readInt() (int32, bool) {
	if c.remaining() < 4 {
		return 0, false
	}
	v := int32(binary.BigEndian.Uint32(c.buf[c.pos : c.pos+4]))
	c.pos += 4
	return v, true
}

func (c *cursor) readString() (string, bool) {
	n, ok := c.readShort()
	if !ok || c.remaining() < int(n) {
		return "", false
	}
	s := string(c.buf[c.pos : c.pos+int(n)])
	c.pos += int(n)
	return s, true
}

func (c *cursor) readLongString() (string, bool) {
	n, ok := c.readInt()
	if !ok || n < 0 || c.remaining() < int(n) {
		return "", false
	}
	s := string(c.buf[c.pos : c.pos+int(n)])
	c.pos += int(n)
	return s, true
}

// readBytes reads a [bytes] value: a signed int32 length followed by
// that many raw bytes, with -1 meaning "null".
func (c *cursor) readBytes() ([]byte, bool) {
	n, ok := c.readInt()
	if !ok {
		return nil, false
	}
	if n < 0 {
		return nil, true
	}
	if c.remaining() < int(n) {
		return nil, false
	}
	b := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return b, true
}

func (c *cursor) readStringMap() (map[string]string, bool) {
	n, ok := c.readShort()
	if !ok {
		return nil, false
	}
	m := make(map[string]string, n)
	for i := 0; i < int(n); i++ {
		k, ok := c.readString()
		if !ok {
			return nil, false
		}
		v, ok := c.readString()
		if !ok {
			return nil, false
		}
		m[k] = v
	}
	return m, true
}

func (c *cursor) readStringList() ([]string, bool) {
	n, ok := c.readShort()
	if !ok {
		return nil, false
	}
	out := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		s, ok := c.readString()
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// bytesToHex mirrors the original's BytesToString<hex_compact>: bound
// parameter values aren't re-typed without a preceding Prepare, so they
// are surfaced as hex for visibility, not interpretation.
func bytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

