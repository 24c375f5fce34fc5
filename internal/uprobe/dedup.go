package uprobe

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// binarySet is an insert-once set of binary paths with a bloom filter
// in front of the exact set, both guarded by one mutex. A path the
// filter has definitely never seen skips the exact-map lookup, and
// the exact map stays the source of truth for positives.
type binarySet struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

func newBinarySet() *binarySet {
	return &binarySet{
		filter: bloom.NewWithEstimates(10000, 0.01),
		exact:  make(map[string]struct{}),
	}
}

// Insert returns true if path was not in the set before (i.e. the
// caller should proceed with the probing work).
func (s *binarySet) Insert(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter.Test([]byte(path)) {
		if _, ok := s.exact[path]; ok {
			return false
		}
	}
	s.filter.Add([]byte(path))
	s.exact[path] = struct{}{}
	return true
}

// Contains reports membership without inserting.
func (s *binarySet) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filter.Test([]byte(path)) {
		return false
	}
	_, ok := s.exact[path]
	return ok
}

func (s *binarySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exact)
}

// upidSet is the thread-safe set behind NotifyMMapEvent: the
// mmap-event callback produces from its own thread while the locked
// deployment body drains.
type upidSet struct {
	mu    sync.Mutex
	upids map[UPID]struct{}
}

func newUPIDSet() *upidSet {
	return &upidSet{upids: make(map[UPID]struct{})}
}

func (s *upidSet) Insert(u UPID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upids[u] = struct{}{}
}

// Drain returns the current contents and clears the set. mmap signals
// are edge-triggered per deployment iteration.
func (s *upidSet) Drain() map[UPID]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.upids
	s.upids = make(map[UPID]struct{})
	return out
}
