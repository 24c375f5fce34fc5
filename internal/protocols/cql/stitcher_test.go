package cql

import (
	"sort"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsplane/core/internal/protocols/common"
)

func respFrame(op Opcode, stream int32, body []byte, ts int64) common.Frame {
	return common.Frame{Opcode: int(op), StreamID: stream, Body: body, TimestampNS: ts}
}

func voidResultBody() []byte {
	return appendInt(nil, resultKindVoid)
}

func topologyEventBody() []byte {
	b := appendString(nil, "TOPOLOGY_CHANGE")
	b = appendString(b, "NEW_NODE")
	b = append(b, 4, 127, 0, 0, 1)
	b = append(b, 0, 0, 0x23, 0x52)
	return b
}

// Clients reuse stream ids; responses are FIFO per stream, so the
// first live request with the matching id is always the partner, even
// when responses for different streams arrive out of order.
func TestStitchReusedStreams(t *testing.T) {
	s := NewStitcher(nil, nil)

	reqs := []common.Frame{
		reqFrame(OpQuery, 1, queryBody("q1"), 1),
		reqFrame(OpQuery, 2, queryBody("q2"), 2),
		reqFrame(OpQuery, 1, queryBody("q3"), 3),
	}
	resps := []common.Frame{
		respFrame(OpResult, 2, voidResultBody(), 4),
		respFrame(OpResult, 1, voidResultBody(), 5),
		respFrame(OpResult, 1, voidResultBody(), 6),
	}

	result := s.StitchFrames(&reqs, &resps)

	require.Len(t, result.Records, 3)
	assert.Equal(t, 0, result.ErrorCount)
	assert.Empty(t, reqs)
	assert.Empty(t, resps)

	// FIFO per stream: the first stream-1 response pairs with q1, the
	// second with q3.
	assert.Equal(t, "q2", result.Records[0].Req.Msg)
	assert.Equal(t, "q1", result.Records[1].Req.Msg)
	assert.Equal(t, "q3", result.Records[2].Req.Msg)
}

// Event responses are server-initiated and have no request; the
// stitcher synthesizes a Register request with zero latency.
func TestStitchSolitaryEventResponse(t *testing.T) {
	s := NewStitcher(nil, nil)

	reqs := []common.Frame{}
	resps := []common.Frame{respFrame(OpEvent, -1, topologyEventBody(), 100)}

	result := s.StitchFrames(&reqs, &resps)

	require.Len(t, result.Records, 1)
	assert.Equal(t, 0, result.ErrorCount)

	rec := result.Records[0]
	assert.Equal(t, int(OpRegister), rec.Req.Op)
	assert.Equal(t, "-", rec.Req.Msg)
	assert.Equal(t, time.Duration(0), rec.Latency())
}

func TestStitchUnmatchedResponseCountsError(t *testing.T) {
	s := NewStitcher(nil, nil)

	reqs := []common.Frame{}
	resps := []common.Frame{respFrame(OpResult, 9, voidResultBody(), 1)}

	result := s.StitchFrames(&reqs, &resps)
	assert.Empty(t, result.Records)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Empty(t, resps)
}

// A pair whose body fails to decode is counted as an error but still
// removed from both deques; a bad frame must not poison the stitcher.
func TestStitchTruncatedBodyDropsPair(t *testing.T) {
	s := NewStitcher(nil, nil)

	reqs := []common.Frame{reqFrame(OpQuery, 1, []byte{0x00}, 1)}
	resps := []common.Frame{respFrame(OpResult, 1, voidResultBody(), 2)}

	result := s.StitchFrames(&reqs, &resps)
	assert.Empty(t, result.Records)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Empty(t, reqs)
	assert.Empty(t, resps)
}

func TestStitchEmptyDeques(t *testing.T) {
	s := NewStitcher(nil, nil)

	reqs := []common.Frame{}
	resps := []common.Frame{}
	result := s.StitchFrames(&reqs, &resps)
	assert.Empty(t, result.Records)
	assert.Equal(t, 0, result.ErrorCount)
}

// Requests left live past MaxFrameAge are evicted and counted, so a
// lost response cannot pin its request in the deque forever.
func TestStitchEvictsStaleRequests(t *testing.T) {
	s := NewStitcher(nil, nil)
	s.MaxFrameAge = time.Second

	stale := reqFrame(OpQuery, 1, queryBody("old"), 0)
	live := reqFrame(OpQuery, 2, queryBody("new"), 3*time.Second.Nanoseconds())
	reqs := []common.Frame{stale, live}
	resps := []common.Frame{respFrame(OpResult, 2, voidResultBody(), 3*time.Second.Nanoseconds()+1)}

	result := s.StitchFrames(&reqs, &resps)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "new", result.Records[0].Req.Msg)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Empty(t, reqs)
}

// For any shuffled interleaving of a bijection between N requests and
// N responses with unique stream ids, exactly N records are produced
// and the error count is zero.
func TestStitchShuffledBijection(t *testing.T) {
	const n = 64
	fuzzer := fuzz.NewWithSeed(1)

	for trial := 0; trial < 10; trial++ {
		reqs := make([]common.Frame, 0, n)
		resps := make([]common.Frame, 0, n)
		for i := 0; i < n; i++ {
			reqs = append(reqs, reqFrame(OpQuery, int32(i), queryBody("q"), int64(i)))
			resps = append(resps, respFrame(OpResult, int32(i), voidResultBody(), int64(n+i)))
		}

		// Shuffle responses by fuzzer-assigned sort keys. Requests stay
		// in issue order, as the capture layer delivers them.
		keys := make(map[int32]uint32, n)
		for i := range resps {
			var k uint32
			fuzzer.Fuzz(&k)
			keys[resps[i].StreamID] = k
		}
		sort.Slice(resps, func(i, j int) bool {
			return keys[resps[i].StreamID] < keys[resps[j].StreamID]
		})

		s := NewStitcher(nil, nil)
		result := s.StitchFrames(&reqs, &resps)

		assert.Len(t, result.Records, n)
		assert.Equal(t, 0, result.ErrorCount)
		assert.Empty(t, reqs)
		assert.Empty(t, resps)
	}
}
