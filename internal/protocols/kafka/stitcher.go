package kafka

import (
	"log/slog"
	"time"

	"github.com/obsplane/core/internal/protocols/common"
	"github.com/obsplane/core/internal/ratelog"
)

// DefaultMaxFrameAge matches the cql stitcher's stale-request window.
const DefaultMaxFrameAge = 30 * time.Second

// Stitcher matches Kafka request frames to response frames by
// correlation id. Correlation ids are unique per connection among
// in-flight requests, so unlike cql there is no stream reuse to worry
// about, but the consumed-mark/prefix-pop discipline is kept: the
// capture layer can still deliver responses out of order relative to
// request issuance.
type Stitcher struct {
	MaxFrameAge time.Duration

	logger *slog.Logger
	warn   *ratelog.Limiter
}

func NewStitcher(logger *slog.Logger, warn *ratelog.Limiter) *Stitcher {
	if logger == nil {
		logger = slog.Default()
	}
	if warn == nil {
		warn = ratelog.New(logger, 1)
	}
	return &Stitcher{
		MaxFrameAge: DefaultMaxFrameAge,
		logger:      logger.With("component", "kafka-stitcher"),
		warn:        warn,
	}
}

// StitchFrames drains respFrames against reqFrames. Responses are
// head-processed; each scans for the first live request with the same
// correlation id. Safe to call with empty deques.
func (s *Stitcher) StitchFrames(reqFrames, respFrames *[]common.Frame) common.RecordsWithErrorCount {
	var result common.RecordsWithErrorCount

	for len(*respFrames) > 0 {
		respFrame := &(*respFrames)[0]

		s.evictStaleRequests(reqFrames, respFrame.TimestampNS, &result.ErrorCount)

		foundMatch := false
		for i := range *reqFrames {
			reqFrame := &(*reqFrames)[i]
			if reqFrame.Consumed || reqFrame.StreamID != respFrame.StreamID {
				continue
			}

			req, reqErr := ProcessReq(*reqFrame)
			resp, respErr := ProcessResp(*respFrame, APIKey(reqFrame.Opcode))
			if reqErr != nil || respErr != nil {
				s.warn.Warn("kafka.process", "failed to process frame pair",
					"req_error", reqErr, "resp_error", respErr)
				result.ErrorCount++
			} else {
				result.Records = append(result.Records, common.Record{Req: req, Resp: resp})
			}
			foundMatch = true
			reqFrame.Consumed = true
			break
		}

		if !foundMatch {
			s.logger.Debug("no request matching response", "correlation_id", respFrame.StreamID)
			result.ErrorCount++
		}

		*respFrames = (*respFrames)[1:]
		s.popConsumedPrefix(reqFrames)
	}

	return result
}

func (s *Stitcher) evictStaleRequests(reqFrames *[]common.Frame, nowNS int64, errorCount *int) {
	if s.MaxFrameAge <= 0 {
		return
	}
	cutoff := nowNS - s.MaxFrameAge.Nanoseconds()
	for i := range *reqFrames {
		reqFrame := &(*reqFrames)[i]
		if !reqFrame.Consumed && reqFrame.TimestampNS < cutoff {
			s.logger.Debug("evicting stale request", "correlation_id", reqFrame.StreamID)
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
