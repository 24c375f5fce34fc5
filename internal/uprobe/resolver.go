package uprobe

import (
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
)

// ProcReader reads per-process state from the proc filesystem (or a
// test double).
type ProcReader interface {
	// MapPaths returns the file paths mapped into the process's
	// address space.
	MapPaths(pid uint32) ([]string, error)
	// Exe returns the process's main binary path.
	Exe(pid uint32) (string, error)
}

// FilePathResolver translates paths seen inside a process's mount
// namespace to host paths. Refresh must be called before a batch of
// lookups so new mounts are visible.
type FilePathResolver interface {
	SetMountNamespace(pid uint32) error
	ResolvePath(path string) (string, error)
	Refresh() error
}

// pathCache memoizes resolved library paths per (generation, pid,
// lib). The generation bumps on every resolver refresh, so entries
// from before a mount-table change can never be served after it; TTL
// bounds memory for processes that never come back.
type pathCache struct {
	cache      *ristretto.Cache
	generation uint64
}

func newPathCache() (*pathCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &pathCache{cache: c}, nil
}

func (p *pathCache) bumpGeneration() { p.generation++ }

func (p *pathCache) key(pid uint32, lib string) uint64 {
	var d xxhash.Digest
	_, _ = d.WriteString(lib)
	var buf [12]byte
	buf[0] = byte(p.generation)
	buf[1] = byte(p.generation >> 8)
	buf[2] = byte(p.generation >> 16)
	buf[3] = byte(p.generation >> 24)
	buf[4] = byte(p.generation >> 32)
	buf[5] = byte(p.generation >> 40)
	buf[6] = byte(p.generation >> 48)
	buf[7] = byte(p.generation >> 56)
	buf[8] = byte(pid)
	buf[9] = byte(pid >> 8)
	buf[10] = byte(pid >> 16)
	buf[11] = byte(pid >> 24)
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

func (p *pathCache) get(pid uint32, lib string) (string, bool) {
	v, ok := p.cache.Get(p.key(pid, lib))
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (p *pathCache) set(pid uint32, lib, path string) {
	p.cache.SetWithTTL(p.key(pid, lib), path, int64(len(path))+1, 5*time.Minute)
}

// findLibraryPaths returns the resolved host path for each desired
// library suffix mapped by the process, in input order. A library the
// process has not mapped yields an empty string; that is not an
// error, it just means nothing to probe.
func findLibraryPaths(libNames []string, pid uint32, proc ProcReader, resolver FilePathResolver, cache *pathCache) ([]string, error) {
	out := make([]string, len(libNames))

	allCached := true
	for i, lib := range libNames {
		if path, ok := cache.get(pid, lib); ok {
			out[i] = path
		} else {
			allCached = false
		}
	}
	if allCached {
		return out, nil
	}

	if err := resolver.SetMountNamespace(pid); err != nil {
		return nil, err
	}
	mapped, err := proc.MapPaths(pid)
	if err != nil {
		return nil, err
	}

	for i, lib := range libNames {
		if out[i] != "" {
			continue
		}
		for _, mappedPath := range mapped {
			if !strings.HasSuffix(mappedPath, lib) {
				continue
			}
			resolved, err := resolver.ResolvePath(mappedPath)
			if err != nil {
				continue
			}
			out[i] = resolved
			break
		}
		cache.set(pid, lib, out[i])
	}
	return out, nil
}
