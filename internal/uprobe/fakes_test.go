package uprobe

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

type fakeAttacher struct {
	mu       sync.Mutex
	specs    []ProbeSpec
	onAttach func(ProbeSpec)
	failAll  bool
}

func (a *fakeAttacher) AttachUProbe(spec ProbeSpec) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return errors.New("attach failed")
	}
	if a.onAttach != nil {
		a.onAttach(spec)
	}
	a.specs = append(a.specs, spec)
	return nil
}

func (a *fakeAttacher) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.specs)
}

type fakeInspector struct {
	symbols  map[string]uint64
	retAddrs map[string][]uint64
}

func (i *fakeInspector) ListFuncSymbols(pattern string, match SymbolMatchKind) ([]SymbolInfo, error) {
	var out []SymbolInfo
	for name, addr := range i.symbols {
		ok := false
		switch match {
		case MatchExact:
			ok = name == pattern
		case MatchPrefix:
			ok = strings.HasPrefix(name, pattern)
		case MatchSuffix:
			ok = strings.HasSuffix(name, pattern)
		}
		if ok {
			out = append(out, SymbolInfo{Name: name, Address: addr})
		}
	}
	return out, nil
}

func (i *fakeInspector) FuncRetInstAddrs(sym SymbolInfo) ([]uint64, error) {
	return i.retAddrs[sym.Name], nil
}

func (i *fakeInspector) SymbolAddress(name string) (uint64, bool) {
	addr, ok := i.symbols[name]
	return addr, ok
}

func (i *fakeInspector) Close() error { return nil }

// fakeFactory maps binary path to a canned inspector; unknown paths
// fail like an unreadable ELF would.
type fakeFactory struct {
	mu         sync.Mutex
	inspectors map[string]*fakeInspector
	calls      int
}

func (f *fakeFactory) New(binaryPath string) (Inspector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ins, ok := f.inspectors[binaryPath]
	if !ok {
		return nil, errors.Newf("cannot open %s", binaryPath)
	}
	return ins, nil
}

type fakeProc struct {
	maps map[uint32][]string
	exes map[uint32]string
}

func (p *fakeProc) MapPaths(pid uint32) ([]string, error) {
	return p.maps[pid], nil
}

func (p *fakeProc) Exe(pid uint32) (string, error) {
	exe, ok := p.exes[pid]
	if !ok {
		return "", errors.Newf("no exe for pid %d", pid)
	}
	return exe, nil
}

// fakeResolver resolves paths to themselves (host == namespace view).
type fakeResolver struct {
	refreshes int
	nsErr     error
}

func (r *fakeResolver) SetMountNamespace(pid uint32) error { return r.nsErr }
func (r *fakeResolver) ResolvePath(path string) (string, error) {
	return path, nil
}
func (r *fakeResolver) Refresh() error {
	r.refreshes++
	return nil
}

func opensslInspector() *fakeInspector {
	return &fakeInspector{
		symbols: map[string]uint64{"OpenSSL_version_num": 0x1000},
	}
}

func goBinaryInspector() *fakeInspector {
	return &fakeInspector{
		symbols: map[string]uint64{
			"runtime.buildVersion":                             0x100,
			"go.itab.*internal/poll.FD,syscall.Conn":           0x200,
			"go.itab.*crypto/tls.Conn,net.Conn":                0x300,
			"go.itab.*net.TCPConn,net.Conn":                    0x400,
			"crypto/tls.(*Conn).Write":                         0x500,
			"crypto/tls.(*Conn).Read":                          0x600,
			"golang.org/x/net/http2.(*Framer).WriteDataPadded": 0x700,
		},
		retAddrs: map[string][]uint64{
			"crypto/tls.(*Conn).Write": {0x510, 0x520},
			"crypto/tls.(*Conn).Read":  {0x610},
		},
	}
}
