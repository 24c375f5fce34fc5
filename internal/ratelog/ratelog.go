// Package ratelog gates warning-level log output through a token
// bucket, so failure classes that fire at per-frame or per-pid rates
// degrade to a bounded trickle instead of flooding the log.
package ratelog

import (
	"log/slog"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// Limiter wraps a slog.Logger with a per-key token bucket. Keys name
// failure classes ("cql.parse", "uprobe.elf", ...); each class gets
// its own bucket, so a storm in one class doesn't silence the others.
type Limiter struct {
	logger       *slog.Logger
	limiter      *limiter.TokenBucket
	limiterStore store.Store
}

// New builds a Limiter allowing rate warnings per second (with the
// same value as burst) per key. A nil logger falls back to
// slog.Default().
func New(logger *slog.Logger, rate int64) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	st := store.NewMemoryStore(time.Minute)
	tb, _ := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     rate,
			Duration: time.Second,
			Burst:    rate,
		},
		st,
	)
	return &Limiter{
		logger:       logger,
		limiter:      tb,
		limiterStore: st,
	}
}

// Warn logs at warning level if the key's bucket has a token left,
// and silently drops the message otherwise.
func (l *Limiter) Warn(key, msg string, args ...any) {
	if !l.limiter.Allow(key) {
		return
	}
	l.logger.Warn(msg, args...)
}
