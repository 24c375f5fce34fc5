package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// A dummy comma-separated-value protocol, used only to exercise the
// generic ParseFrames driver independent of any real wire format.

func parseCSVFrame(buf []byte, timestampNS int64) (Frame, ParseState, int) {
	idx := bytes.IndexByte(buf, ',')
	if idx < 0 {
		return Frame{}, StateNeedsMoreData, 0
	}
	return Frame{Body: buf[:idx], TimestampNS: timestampNS}, StateComplete, idx + 1
}

func findCSVBoundary(buf []byte, startPos int) int {
	idx := bytes.IndexByte(buf[startPos:], ',')
	if idx < 0 {
		return startPos
	}
	return startPos + idx
}

func TestParseFramesSplitsOnCommas(t *testing.T) {
	var frames []Frame
	res := ParseFrames([]byte("jupiter,saturn,neptune,"), 0, parseCSVFrame, findCSVBoundary, &frames)

	assert.Equal(t, StateNeedsMoreData, res.State)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Len(t, frames, 3)
	assert.Equal(t, "jupiter", string(frames[0].Body))
	assert.Equal(t, "saturn", string(frames[1].Body))
	assert.Equal(t, "neptune", string(frames[2].Body))
}

func TestParseFramesLeavesPartialTrailingFrameUnconsumed(t *testing.T) {
	var frames []Frame
	res := ParseFrames([]byte("mercury,ven"), 0, parseCSVFrame, findCSVBoundary, &frames)

	assert.Equal(t, StateNeedsMoreData, res.State)
	assert.Equal(t, 8, res.EndPos, "parser must stop before the incomplete trailing frame")
	assert.Len(t, frames, 1)
}

func TestRecordLatencyIsResponseMinusRequest(t *testing.T) {
	r := Record{
		Req:  Request{TimestampNS: 100},
		Resp: Response{TimestampNS: 250},
	}
	assert.Equal(t, int64(150), r.Latency().Nanoseconds())
}
