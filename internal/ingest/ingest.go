// Package ingest receives captured socket events over a websocket and
// feeds them through the protocol stitchers, giving the stitching
// layer a runnable producer. The real capture path writes the same
// event tuples from the kernel side; this adapter carries them over
// the wire for remote or replayed captures.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/obsplane/core/internal/protocols/common"
	"github.com/obsplane/core/internal/protocols/cql"
	"github.com/obsplane/core/internal/protocols/kafka"
	"github.com/obsplane/core/internal/ratelog"
)

// Event is one captured socket event tuple. Per-connection ordering
// is guaranteed by Position (a byte offset into the connection's
// stream, one counter per direction); nothing is assumed about
// ordering across connections.
type Event struct {
	ConnID      string `json:"conn_id"`
	Direction   string `json:"direction"` // "request" or "response"
	Protocol    string `json:"protocol"`  // "cql" or "kafka"
	Role        string `json:"role"`
	TimestampNS int64  `json:"timestamp_ns"`
	Position    uint64 `json:"position"`
	Data        []byte `json:"data"`
}

// RecordSink receives each connection's stitched output as it is
// produced.
type RecordSink func(connID string, result common.RecordsWithErrorCount)

// frameStitcher is what the per-protocol stitchers have in common.
type frameStitcher interface {
	StitchFrames(reqFrames, respFrames *[]common.Frame) common.RecordsWithErrorCount
}

var ErrUnknownProtocol = errors.New("ingest: unknown protocol")

// connTracker owns one connection's unparsed bytes, parsed frames,
// and stitcher. Single-threaded: only the ingest loop touches it.
type connTracker struct {
	reqBuf  []byte
	respBuf []byte

	reqNextPos  uint64
	respNextPos uint64

	reqFrames  []common.Frame
	respFrames []common.Frame

	stitcher frameStitcher

	parseReq  common.FrameParser
	parseResp common.FrameParser

	findReqBoundary  common.BoundaryFinder
	findRespBoundary common.BoundaryFinder
}

// Ingestor drives the websocket read loop and routes events to
// per-connection trackers.
type Ingestor struct {
	conns map[string]*connTracker
	gate  *flowGate
	sink  RecordSink

	logger *slog.Logger
	warn   *ratelog.Limiter

	conn *websocket.Conn
}

// DefaultBacklogCapacity is the per-connection unstitched-frame
// capacity; new events are dropped once the backlog exceeds 80% of it.
const DefaultBacklogCapacity = 4096

// New builds an Ingestor delivering stitched records to sink.
func New(sink RecordSink, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		conns:  make(map[string]*connTracker),
		gate:   newFlowGate(DefaultBacklogCapacity),
		sink:   sink,
		logger: logger.With("component", "ingest"),
		warn:   ratelog.New(logger, 1),
	}
}

// Dial connects to the capture layer's event stream.
func (in *Ingestor) Dial(url string) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return errors.Wrapf(err, "ingest: dialing %s", url)
	}
	in.conn = conn
	return nil
}

// Run reads events until the context is cancelled or the connection
// drops. Undecodable messages are counted and skipped, not fatal.
func (in *Ingestor) Run(ctx context.Context) error {
	if in.conn == nil {
		return errors.New("ingest: not connected")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := in.conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			in.warn.Warn("ingest.decode", "undecodable socket event", "error", err)
			continue
		}
		if err := in.HandleEvent(ev); err != nil {
			in.warn.Warn("ingest.event", "dropping socket event", "error", err)
		}
	}
}

func (in *Ingestor) Close() error {
	if in.conn == nil {
		return nil
	}
	err := in.conn.Close()
	in.conn = nil
	return err
}

func (in *Ingestor) newTracker(protocol string) (*connTracker, error) {
	switch protocol {
	case "cql":
		return &connTracker{
			stitcher:         cql.NewStitcher(in.logger, in.warn),
			parseReq:         cql.ParseFrame,
			parseResp:        cql.ParseFrame,
			findReqBoundary:  cql.FindFrameBoundary,
			findRespBoundary: cql.FindFrameBoundary,
		}, nil
	case "kafka":
		return &connTracker{
			stitcher:         kafka.NewStitcher(in.logger, in.warn),
			parseReq:         kafka.ParseReqFrame,
			parseResp:        kafka.ParseRespFrame,
			findReqBoundary:  kafka.FindReqFrameBoundary,
			findRespBoundary: kafka.FindRespFrameBoundary,
		}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownProtocol, "%q", protocol)
	}
}

// HandleEvent routes one event into its connection tracker, parses
// whatever frames the accumulated bytes now hold, and stitches.
// Exported so replay tooling and tests can drive the pipeline without
// a live socket.
func (in *Ingestor) HandleEvent(ev Event) error {
	if !in.gate.CanAccept(ev.ConnID) {
		in.gate.RecordDrop(ev.ConnID)
		return nil
	}

	tracker, ok := in.conns[ev.ConnID]
	if !ok {
		var err error
		tracker, err = in.newTracker(ev.Protocol)
		if err != nil {
			return err
		}
		in.conns[ev.ConnID] = tracker
	}

	switch ev.Direction {
	case "request":
		tracker.reqBuf, tracker.reqNextPos = in.appendData(ev, tracker.reqBuf, tracker.reqNextPos)
		in.parseBuffered(ev.ConnID, &tracker.reqBuf, ev.TimestampNS,
			tracker.parseReq, tracker.findReqBoundary, &tracker.reqFrames)
	case "response":
		tracker.respBuf, tracker.respNextPos = in.appendData(ev, tracker.respBuf, tracker.respNextPos)
		in.parseBuffered(ev.ConnID, &tracker.respBuf, ev.TimestampNS,
			tracker.parseResp, tracker.findRespBoundary, &tracker.respFrames)
	default:
		return errors.Newf("ingest: unknown direction %q", ev.Direction)
	}

	result := tracker.stitcher.StitchFrames(&tracker.reqFrames, &tracker.respFrames)
	if len(result.Records) > 0 || result.ErrorCount > 0 {
		in.sink(ev.ConnID, result)
	}

	in.gate.UpdateDepth(ev.ConnID, len(tracker.reqFrames)+len(tracker.respFrames))
	return nil
}

// appendData applies one event's bytes to a direction buffer,
// handling position gaps: bytes lost upstream invalidate any partial
// frame already buffered, so the remainder is discarded and parsing
// resynchronizes from the new data.
func (in *Ingestor) appendData(ev Event, buf []byte, nextPos uint64) ([]byte, uint64) {
	switch {
	case ev.Position == nextPos || nextPos == 0 && len(buf) == 0:
		buf = append(buf, ev.Data...)
	case ev.Position > nextPos:
		in.logger.Debug("gap in event stream; dropping partial buffer",
			"conn_id", ev.ConnID, "expected", nextPos, "got", ev.Position)
		buf = append(buf[:0], ev.Data...)
	default:
		// Duplicate or overlapping retransmission; ignore.
		return buf, nextPos
	}
	return buf, ev.Position + uint64(len(ev.Data))
}

// parseBuffered decodes as many frames as the buffer holds and keeps
// the unconsumed tail for the next event.
func (in *Ingestor) parseBuffered(connID string, buf *[]byte, timestampNS int64, parse common.FrameParser, findBoundary common.BoundaryFinder, out *[]common.Frame) {
	res := common.ParseFrames(*buf, timestampNS, parse, findBoundary, out)
	if res.ErrorCount > 0 {
		in.warn.Warn("ingest.parse", "skipped unparseable bytes",
			"conn_id", connID, "errors", res.ErrorCount)
	}
	*buf = append((*buf)[:0], (*buf)[res.EndPos:]...)
}
