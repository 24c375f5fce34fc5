package cql

import "github.com/cockroachdb/errors"

// ErrTruncatedBody and ErrUnhandledOpcode are the two ways decoding a
// frame body can fail; both degrade to a dropped record plus an
// incremented error count rather than anything fatal — stitcher-level
// errors are never fatal (spec-level NeedsMoreData/ParseError class).
var (
	ErrTruncatedBody   = errors.New("cql: truncated frame body")
	ErrUnhandledOpcode = errors.New("cql: unhandled opcode")
)
