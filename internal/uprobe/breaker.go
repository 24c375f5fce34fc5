package uprobe

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// binaryBreakers guards per-binary analysis work with a circuit
// breaker: a binary whose ELF repeatedly fails to parse or whose
// symbols repeatedly fail to resolve will fail the same way every
// time, and the rescan path must not keep re-entering it. This sits
// inside the backoff machinery, not instead of it — the modulus
// decides whether a rescan happens, the breaker decides whether an
// eligible rescan still bothers with a known-bad binary.
type binaryBreakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBinaryBreakers() *binaryBreakers {
	return &binaryBreakers{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *binaryBreakers) get(binary string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[binary]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        binary,
			MaxRequests: 1,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
		b.breakers[binary] = cb
	}
	return cb
}

// Execute runs fn under the binary's breaker, returning the attach
// count. An open breaker returns 0 attachments without running fn;
// like a missing library, that is not an error to the caller.
func (b *binaryBreakers) Execute(binary string, fn func() (int, error)) (int, error) {
	v, err := b.get(binary).Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return 0, nil
		}
		return 0, err
	}
	return v.(int), nil
}
