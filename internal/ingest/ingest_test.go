package ingest

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsplane/core/internal/protocols/common"
	"github.com/obsplane/core/internal/protocols/cql"
)

func cqlWireFrame(stream int16, op cql.Opcode, body []byte) []byte {
	buf := make([]byte, 9+len(body))
	buf[0] = 0x04
	binary.BigEndian.PutUint16(buf[2:4], uint16(stream))
	buf[4] = byte(op)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(body)))
	copy(buf[9:], body)
	return buf
}

func cqlQueryBody(query string) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(len(query)))
	b = append(b, query...)
	b = binary.BigEndian.AppendUint16(b, 0x0001) // consistency
	b = append(b, 0x00)                          // flags
	return b
}

func cqlVoidResultBody() []byte {
	return binary.BigEndian.AppendUint32(nil, 0x0001)
}

type sinkRecorder struct {
	records []common.Record
	errors  int
}

func (s *sinkRecorder) sink(connID string, result common.RecordsWithErrorCount) {
	s.records = append(s.records, result.Records...)
	s.errors += result.ErrorCount
}

func TestHandleEventStitchesCQLExchange(t *testing.T) {
	rec := &sinkRecorder{}
	in := New(rec.sink, nil)

	reqBytes := cqlWireFrame(1, cql.OpQuery, cqlQueryBody("SELECT 1"))
	respBytes := cqlWireFrame(1, cql.OpResult, cqlVoidResultBody())

	require.NoError(t, in.HandleEvent(Event{
		ConnID: "c1", Direction: "request", Protocol: "cql",
		TimestampNS: 10, Position: 0, Data: reqBytes,
	}))
	require.NoError(t, in.HandleEvent(Event{
		ConnID: "c1", Direction: "response", Protocol: "cql",
		TimestampNS: 20, Position: 0, Data: respBytes,
	}))

	require.Len(t, rec.records, 1)
	assert.Equal(t, 0, rec.errors)
	assert.Equal(t, "SELECT 1", rec.records[0].Req.Msg)
	assert.Equal(t, 10*time.Nanosecond, rec.records[0].Latency())
}

// A frame split across two events parses once the second half lands.
func TestHandleEventReassemblesSplitFrame(t *testing.T) {
	rec := &sinkRecorder{}
	in := New(rec.sink, nil)

	reqBytes := cqlWireFrame(1, cql.OpQuery, cqlQueryBody("SELECT 1"))
	half := len(reqBytes) / 2

	require.NoError(t, in.HandleEvent(Event{
		ConnID: "c1", Direction: "request", Protocol: "cql",
		TimestampNS: 10, Position: 0, Data: reqBytes[:half],
	}))
	assert.Empty(t, rec.records)

	require.NoError(t, in.HandleEvent(Event{
		ConnID: "c1", Direction: "request", Protocol: "cql",
		TimestampNS: 11, Position: uint64(half), Data: reqBytes[half:],
	}))
	require.NoError(t, in.HandleEvent(Event{
		ConnID: "c1", Direction: "response", Protocol: "cql",
		TimestampNS: 20, Position: 0, Data: cqlWireFrame(1, cql.OpResult, cqlVoidResultBody()),
	}))

	require.Len(t, rec.records, 1)
	assert.Equal(t, 0, rec.errors)
}

// A position gap invalidates the buffered partial frame; parsing
// resynchronizes on the post-gap data.
func TestHandleEventPositionGapDropsPartial(t *testing.T) {
	rec := &sinkRecorder{}
	in := New(rec.sink, nil)

	lost := cqlWireFrame(1, cql.OpQuery, cqlQueryBody("SELECT lost"))
	kept := cqlWireFrame(2, cql.OpQuery, cqlQueryBody("SELECT kept"))

	// First half of a frame arrives, then the rest is lost upstream.
	require.NoError(t, in.HandleEvent(Event{
		ConnID: "c1", Direction: "request", Protocol: "cql",
		TimestampNS: 10, Position: 0, Data: lost[:5],
	}))
	// Next event starts past the gap with a fresh frame.
	require.NoError(t, in.HandleEvent(Event{
		ConnID: "c1", Direction: "request", Protocol: "cql",
		TimestampNS: 11, Position: uint64(len(lost)), Data: kept,
	}))
	require.NoError(t, in.HandleEvent(Event{
		ConnID: "c1", Direction: "response", Protocol: "cql",
		TimestampNS: 20, Position: 0, Data: cqlWireFrame(2, cql.OpResult, cqlVoidResultBody()),
	}))

	require.Len(t, rec.records, 1)
	assert.True(t, strings.Contains(rec.records[0].Req.Msg, "SELECT kept"))
}

func TestHandleEventUnknownProtocol(t *testing.T) {
	in := New(func(string, common.RecordsWithErrorCount) {}, nil)
	err := in.HandleEvent(Event{ConnID: "c1", Direction: "request", Protocol: "http9"})
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestRunOverWebsocket(t *testing.T) {
	events := []Event{
		{
			ConnID: "ws1", Direction: "request", Protocol: "cql",
			TimestampNS: 10, Position: 0,
			Data: cqlWireFrame(1, cql.OpQuery, cqlQueryBody("SELECT now()")),
		},
		{
			ConnID: "ws1", Direction: "response", Protocol: "cql",
			TimestampNS: 25, Position: 0,
			Data: cqlWireFrame(1, cql.OpResult, cqlVoidResultBody()),
		},
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, ev := range events {
			data, err := json.Marshal(ev)
			require.NoError(t, err)
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
		}
	}))
	defer srv.Close()

	records := make(chan common.Record, 4)
	in := New(func(_ string, result common.RecordsWithErrorCount) {
		for _, r := range result.Records {
			records <- r
		}
	}, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, in.Dial(url))
	defer in.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		// Returns with an error once the server closes the socket.
		_ = in.Run(ctx)
	}()

	select {
	case rec := <-records:
		assert.Equal(t, "SELECT now()", rec.Req.Msg)
		assert.Equal(t, 15*time.Nanosecond, rec.Latency())
	case <-ctx.Done():
		t.Fatal("timed out waiting for stitched record")
	}
}
