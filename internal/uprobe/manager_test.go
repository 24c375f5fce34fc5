package uprobe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/errors"
)

const (
	libSSLPath    = "/usr/lib/x86_64-linux-gnu/libssl.so.1.1"
	libCryptoPath = "/usr/lib/x86_64-linux-gnu/libcrypto.so.1.1"
)

func newTestManager(t *testing.T, cfg Config, attacher *fakeAttacher, factory *fakeFactory, proc *fakeProc, resolver *fakeResolver) *Manager {
	t.Helper()
	if proc == nil {
		proc = &fakeProc{}
	}
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	m, err := NewManager(cfg, attacher, factory.New, proc, resolver, nil)
	require.NoError(t, err)
	return m
}

func upidSetOf(upids ...UPID) map[UPID]struct{} {
	out := make(map[UPID]struct{}, len(upids))
	for _, u := range upids {
		out[u] = struct{}{}
	}
	return out
}

func TestDeployAttachesOpenSSLProbes(t *testing.T) {
	upid := UPID{ASID: 1, PID: 10, StartTimeTicks: 111}
	proc := &fakeProc{maps: map[uint32][]string{10: {libSSLPath, libCryptoPath}}}
	factory := &fakeFactory{inspectors: map[string]*fakeInspector{libCryptoPath: opensslInspector()}}

	var m *Manager
	attacher := &fakeAttacher{}
	// Symbol-map entries for a pid must be visible before any probe
	// for that pid is attached.
	attacher.onAttach = func(spec ProbeSpec) {
		_, ok := m.OpenSSLSymAddrsMap().Lookup(10)
		assert.True(t, ok, "symaddrs must be written before attach")
	}
	m = newTestManager(t, Config{}, attacher, factory, proc, nil)

	m.DeployUProbes(upidSetOf(upid))

	require.Equal(t, len(openSSLProbeSpecs), attacher.count())
	for _, spec := range attacher.specs {
		assert.Equal(t, libSSLPath, spec.BinaryPath)
	}
	_, ok := m.OpenSSLSymAddrsMap().Lookup(10)
	assert.True(t, ok)
}

// Two processes sharing one libssl attach the probe set once; both
// still get their own symbol-map entries.
func TestOpenSSLPerBinaryDedup(t *testing.T) {
	u1 := UPID{ASID: 1, PID: 10, StartTimeTicks: 1}
	u2 := UPID{ASID: 1, PID: 11, StartTimeTicks: 2}
	proc := &fakeProc{maps: map[uint32][]string{
		10: {libSSLPath, libCryptoPath},
		11: {libSSLPath, libCryptoPath},
	}}
	factory := &fakeFactory{inspectors: map[string]*fakeInspector{libCryptoPath: opensslInspector()}}
	attacher := &fakeAttacher{}
	m := newTestManager(t, Config{}, attacher, factory, proc, nil)

	m.DeployUProbes(upidSetOf(u1, u2))

	assert.Equal(t, len(openSSLProbeSpecs), attacher.count())
	_, ok1 := m.OpenSSLSymAddrsMap().Lookup(10)
	_, ok2 := m.OpenSSLSymAddrsMap().Lookup(11)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestProcessWithoutOpenSSLIsNotAnError(t *testing.T) {
	upid := UPID{ASID: 1, PID: 20, StartTimeTicks: 1}
	proc := &fakeProc{maps: map[uint32][]string{20: {"/usr/lib/libz.so.1"}}}
	attacher := &fakeAttacher{}
	m := newTestManager(t, Config{}, attacher, &fakeFactory{}, proc, nil)

	m.DeployUProbes(upidSetOf(upid))
	assert.Zero(t, attacher.count())
}

func TestDeployGoTLSProbesWithRetInsts(t *testing.T) {
	upid := UPID{ASID: 1, PID: 30, StartTimeTicks: 1}
	proc := &fakeProc{exes: map[uint32]string{30: "/opt/app/server"}}
	factory := &fakeFactory{inspectors: map[string]*fakeInspector{"/opt/app/server": goBinaryInspector()}}
	attacher := &fakeAttacher{}
	m := newTestManager(t, Config{}, attacher, factory, proc, nil)

	m.DeployUProbes(upidSetOf(upid))

	// Write entry + 2 ret-inst probes, Read entry + 1 ret-inst probe.
	require.Equal(t, 5, attacher.count())

	entries, retInsts := 0, 0
	for _, spec := range attacher.specs {
		require.Equal(t, AttachEntry, spec.Attach)
		if spec.Address != 0 {
			// Ret-instruction probes are entry probes at explicit
			// addresses with no symbol.
			assert.Empty(t, spec.Symbol)
			retInsts++
		} else {
			entries++
		}
	}
	assert.Equal(t, 2, entries)
	assert.Equal(t, 3, retInsts)

	_, ok := m.GoCommonSymAddrsMap().Lookup(30)
	assert.True(t, ok)
	_, ok = m.GoTLSSymAddrsMap().Lookup(30)
	assert.True(t, ok)
	// HTTP2 tracing is off by default.
	assert.Zero(t, m.GoHTTP2SymAddrsMap().Len())
}

// A binary scanned once short-circuits all Go work for later
// instances of the same binary.
func TestScannedBinaryShortCircuit(t *testing.T) {
	u1 := UPID{ASID: 1, PID: 30, StartTimeTicks: 1}
	u2 := UPID{ASID: 1, PID: 31, StartTimeTicks: 2}
	proc := &fakeProc{exes: map[uint32]string{30: "/opt/app/server", 31: "/opt/app/server"}}
	factory := &fakeFactory{inspectors: map[string]*fakeInspector{"/opt/app/server": goBinaryInspector()}}
	attacher := &fakeAttacher{}
	m := newTestManager(t, Config{}, attacher, factory, proc, nil)

	m.DeployUProbes(upidSetOf(u1))
	firstCount := attacher.count()

	m.DeployUProbes(upidSetOf(u1, u2))
	assert.Equal(t, firstCount, attacher.count())
}

func TestHTTP2TracingEnabled(t *testing.T) {
	upid := UPID{ASID: 1, PID: 30, StartTimeTicks: 1}
	proc := &fakeProc{exes: map[uint32]string{30: "/opt/app/server"}}
	factory := &fakeFactory{inspectors: map[string]*fakeInspector{"/opt/app/server": goBinaryInspector()}}
	attacher := &fakeAttacher{}
	m := newTestManager(t, Config{EnableHTTP2Tracing: true}, attacher, factory, proc, nil)

	m.DeployUProbes(upidSetOf(upid))

	// 5 Go TLS probes plus the one http2 template whose suffix matches
	// a symbol in the binary.
	assert.Equal(t, 6, attacher.count())
	_, ok := m.GoHTTP2SymAddrsMap().Lookup(30)
	assert.True(t, ok)
}

func TestDisableSelfProbing(t *testing.T) {
	self := UPID{ASID: 1, PID: 99, StartTimeTicks: 1}
	proc := &fakeProc{
		maps: map[uint32][]string{99: {libSSLPath, libCryptoPath}},
		exes: map[uint32]string{99: "/opt/agent"},
	}
	factory := &fakeFactory{inspectors: map[string]*fakeInspector{
		libCryptoPath: opensslInspector(),
		"/opt/agent":  goBinaryInspector(),
	}}
	attacher := &fakeAttacher{}
	m := newTestManager(t, Config{DisableSelfProbing: true, SelfPID: 99}, attacher, factory, proc, nil)

	m.DeployUProbes(upidSetOf(self))
	assert.Zero(t, attacher.count())
}

// Deleting a process is the only cleanup path for the symbol maps.
func TestDeletedUPIDCleansSymAddrMaps(t *testing.T) {
	upid := UPID{ASID: 1, PID: 10, StartTimeTicks: 1}
	proc := &fakeProc{maps: map[uint32][]string{10: {libSSLPath, libCryptoPath}}}
	factory := &fakeFactory{inspectors: map[string]*fakeInspector{libCryptoPath: opensslInspector()}}
	m := newTestManager(t, Config{}, &fakeAttacher{}, factory, proc, nil)

	m.DeployUProbes(upidSetOf(upid))
	require.Equal(t, 1, m.OpenSSLSymAddrsMap().Len())

	m.DeployUProbes(upidSetOf())
	assert.Zero(t, m.OpenSSLSymAddrsMap().Len())
	assert.Zero(t, m.GoCommonSymAddrsMap().Len())
	assert.Zero(t, m.GoTLSSymAddrsMap().Len())
	assert.Zero(t, m.GoHTTP2SymAddrsMap().Len())
}

// A binary whose ELF repeatedly fails to open trips the breaker; the
// factory stops being invoked once it is open.
func TestBreakerStopsRepeatedFailures(t *testing.T) {
	proc := &fakeProc{maps: map[uint32][]string{10: {libSSLPath, libCryptoPath}}}
	factory := &fakeFactory{} // no inspectors: every open fails
	m := newTestManager(t, Config{}, &fakeAttacher{}, factory, proc, nil)

	for i := 0; i < 6; i++ {
		count, err := m.attachOpenSSLUProbes(10)
		assert.Zero(t, count)
		if i < 3 {
			assert.Error(t, err)
		} else {
			// Breaker open: short-circuits to zero attachments, not an
			// error, like a missing library.
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 3, factory.calls)
}

func TestRunDeployUProbesThreadCounter(t *testing.T) {
	m := newTestManager(t, Config{}, &fakeAttacher{}, &fakeFactory{}, nil, nil)

	done := m.RunDeployUProbesThread(upidSetOf())
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitForQuiescence(ctx))
	assert.Zero(t, m.NumDeployThreads())
}

func TestConcurrentDeploysSerialize(t *testing.T) {
	upid := UPID{ASID: 1, PID: 10, StartTimeTicks: 1}
	proc := &fakeProc{maps: map[uint32][]string{10: {libSSLPath, libCryptoPath}}}
	factory := &fakeFactory{inspectors: map[string]*fakeInspector{libCryptoPath: opensslInspector()}}
	attacher := &fakeAttacher{}
	m := newTestManager(t, Config{}, attacher, factory, proc, nil)

	d1 := m.RunDeployUProbesThread(upidSetOf(upid))
	d2 := m.RunDeployUProbesThread(upidSetOf(upid))
	<-d1
	<-d2

	// Whatever the interleaving, dedup guarantees one attach set.
	assert.Equal(t, len(openSSLProbeSpecs), attacher.count())
	assert.Zero(t, m.NumDeployThreads())
}

func TestMissingLibraryPathYieldsZeroAttachments(t *testing.T) {
	// libssl mapped but libcrypto missing: not an error, nothing to do.
	proc := &fakeProc{maps: map[uint32][]string{10: {libSSLPath}}}
	m := newTestManager(t, Config{}, &fakeAttacher{}, &fakeFactory{}, proc, nil)

	count, err := m.attachOpenSSLUProbes(10)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestResolverErrorPropagates(t *testing.T) {
	proc := &fakeProc{maps: map[uint32][]string{10: {libSSLPath, libCryptoPath}}}
	resolver := &fakeResolver{nsErr: errors.New("pid terminated")}
	m := newTestManager(t, Config{}, &fakeAttacher{}, &fakeFactory{}, proc, resolver)

	_, err := m.attachOpenSSLUProbes(10)
	assert.Error(t, err)
}
