package cql

import (
	"log/slog"
	"time"

	"github.com/obsplane/core/internal/protocols/common"
	"github.com/obsplane/core/internal/ratelog"
)

// DefaultMaxFrameAge bounds how long an unconsumed request frame may
// wait for its response. A lost response would otherwise pin its
// request in the deque forever.
const DefaultMaxFrameAge = 30 * time.Second

// Stitcher matches CQL request frames to response frames. One
// Stitcher per connection tracker; it is not safe for concurrent use
// and the caller must not alias the deques it passes in.
type Stitcher struct {
	// MaxFrameAge is the stale-request eviction window. Requests older
	// than this relative to the response being processed are evicted
	// and counted as errors.
	MaxFrameAge time.Duration

	logger *slog.Logger
	warn   *ratelog.Limiter
}

// NewStitcher builds a Stitcher with the default eviction window. A
// nil logger falls back to slog.Default().
func NewStitcher(logger *slog.Logger, warn *ratelog.Limiter) *Stitcher {
	if logger == nil {
		logger = slog.Default()
	}
	if warn == nil {
		warn = ratelog.New(logger, 1)
	}
	return &Stitcher{
		MaxFrameAge: DefaultMaxFrameAge,
		logger:      logger.With("component", "cql-stitcher"),
		warn:        warn,
	}
}

// ProcessReqRespPair decodes both sides of a matched pair into a
// Record. Request timestamps never trail their response; the capture
// layer stamps frames in kernel order.
func ProcessReqRespPair(reqFrame, respFrame *common.Frame) (common.Record, error) {
	req, err := ProcessReq(*reqFrame)
	if err != nil {
		return common.Record{}, err
	}
	resp, err := ProcessResp(*respFrame)
	if err != nil {
		return common.Record{}, err
	}
	return common.Record{Req: req, Resp: resp}, nil
}

// ProcessSolitaryResp turns a server-initiated Event response into a
// Record by synthesizing the request half: a Register op (that is
// what set up the event delivery in the first place) with the
// response's own timestamp, so the computed latency is zero.
func ProcessSolitaryResp(respFrame *common.Frame) (common.Record, error) {
	resp, err := ProcessResp(*respFrame)
	if err != nil {
		return common.Record{}, err
	}
	return common.Record{
		Req: common.Request{
			Op:          int(OpRegister),
			Msg:         "-",
			TimestampNS: respFrame.TimestampNS,
		},
		Resp: resp,
	}, nil
}

// StitchFrames drains respFrames against reqFrames using response-led
// matching: responses are always head-processed, and each one
// linear-scans the request deque for the first live frame with the
// same stream id. Matched requests are marked consumed rather than
// erased in place — responses arrive out of order relative to request
// issuance, and erasing from the middle of the deque on every match
// is quadratic — then the consumed prefix is popped after each
// response. Safe to call with empty deques.
func (s *Stitcher) StitchFrames(reqFrames, respFrames *[]common.Frame) common.RecordsWithErrorCount {
	var result common.RecordsWithErrorCount

	for len(*respFrames) > 0 {
		respFrame := &(*respFrames)[0]

		s.evictStaleRequests(reqFrames, respFrame.TimestampNS, &result.ErrorCount)

		// Event responses are special: they have no request.
		if Opcode(respFrame.Opcode) == OpEvent {
			record, err := ProcessSolitaryResp(respFrame)
			if err != nil {
				s.warn.Warn("cql.process", "failed to process event response", "error", err)
				result.ErrorCount++
			} else {
				result.Records = append(result.Records, record)
			}
			*respFrames = (*respFrames)[1:]
			s.popConsumedPrefix(reqFrames)
			continue
		}

		foundMatch := false
		for i := range *reqFrames {
			reqFrame := &(*reqFrames)[i]
			if reqFrame.Consumed || reqFrame.StreamID != respFrame.StreamID {
				continue
			}
			s.logger.Debug("matched request",
				"req_op", Opcode(reqFrame.Opcode).String(),
				"stream", reqFrame.StreamID)

			record, err := ProcessReqRespPair(reqFrame, respFrame)
			if err != nil {
				// The pair is still removed below; a frame that cannot
				// decode must not poison the deque.
				s.warn.Warn("cql.process", "failed to process frame pair", "error", err)
				result.ErrorCount++
			} else {
				result.Records = append(result.Records, record)
			}
			foundMatch = true
			reqFrame.Consumed = true
			break
		}

		if !foundMatch {
			s.logger.Debug("no request matching response", "stream", respFrame.StreamID)
			result.ErrorCount++
		}

		*respFrames = (*respFrames)[1:]

		// Pop consumed frames off the head after every response so the
		// next linear scan starts past them.
		s.popConsumedPrefix(reqFrames)
	}

	return result
}

// evictStaleRequests marks any live request older than MaxFrameAge
// (relative to the response now being processed) as consumed and
// counts it as an error. A lost response would otherwise retain its
// request until the connection tracker itself is torn down.
func (s *Stitcher) evictStaleRequests(reqFrames *[]common.Frame, nowNS int64, errorCount *int) {
	if s.MaxFrameAge <= 0 {
		return
	}
	cutoff := nowNS - s.MaxFrameAge.Nanoseconds()
	for i := range *reqFrames {
		reqFrame := &(*reqFrames)[i]
		if !reqFrame.Consumed && reqFrame.TimestampNS < cutoff {
			s.logger.Debug("evicting stale request",
				"stream", reqFrame.StreamID,
				"age_ns", nowNS-reqFrame.TimestampNS)
			reqFrame.Consumed = true
			*errorCount++
		}
	}
	s.popConsumedPrefix(reqFrames)
}

func (s *Stitcher) popConsumedPrefix(reqFrames *[]common.Frame) {
	n := 0
	for n < len(*reqFrames) && (*reqFrames)[n].Consumed {
		n++
	}
	*reqFrames = (*reqFrames)[n:]
}
