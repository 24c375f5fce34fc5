package uprobe

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obsplane/core/internal/ratelog"
)

const (
	libSSLName    = "libssl.so.1.1"
	libCryptoName = "libcrypto.so.1.1"
)

// Manager owns the four kernel symbol-address maps and every piece of
// host-side state needed to decide what to probe: the process
// tracker, the per-binary dedup sets, the rescan backoff table, and
// the mmap-notification set. Deployments serialize on deployMu; the
// mmap callback is the only other producer and writes through a
// thread-safe set.
type Manager struct {
	cfg Config

	attacher     Attacher
	newInspector InspectorFactory
	proc         ProcReader
	resolver     FilePathResolver

	logger *slog.Logger
	warn   *ratelog.Limiter

	deployMu         sync.Mutex
	numDeployThreads atomic.Int64

	procTracker   *procTracker
	upidsWithMmap *upidSet

	opensslSymAddrsMap  *UserManagedMap[OpenSSLSymAddrs]
	goCommonSymAddrsMap *UserManagedMap[GoCommonSymAddrs]
	goTLSSymAddrsMap    *UserManagedMap[GoTLSSymAddrs]
	goHTTP2SymAddrsMap  *UserManagedMap[GoHTTP2SymAddrs]

	opensslProbedBinaries *binarySet
	goTLSProbedBinaries   *binarySet
	goHTTP2ProbedBinaries *binarySet
	scannedBinaries       *binarySet

	breakers  *binaryBreakers
	pathCache *pathCache

	rescanCounter  int
	backoffModulus map[UPID]int

	selfPID uint32
}

// NewManager wires a Manager from its collaborators. A nil logger
// falls back to slog.Default().
func NewManager(cfg Config, attacher Attacher, factory InspectorFactory, proc ProcReader, resolver FilePathResolver, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RescanExpBackoffFactor == 0 {
		cfg.RescanExpBackoffFactor = defaultBackoffFactor
	}
	selfPID := cfg.SelfPID
	if selfPID == 0 {
		selfPID = uint32(os.Getpid())
	}
	cache, err := newPathCache()
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:          cfg,
		attacher:     attacher,
		newInspector: factory,
		proc:         proc,
		resolver:     resolver,
		logger:       logger.With("component", "uprobe-manager"),
		warn:         ratelog.New(logger, 1),

		procTracker:   newProcTracker(),
		upidsWithMmap: newUPIDSet(),

		opensslSymAddrsMap:  NewUserManagedMap[OpenSSLSymAddrs]("openssl_symaddrs_map"),
		goCommonSymAddrsMap: NewUserManagedMap[GoCommonSymAddrs]("go_common_symaddrs_map"),
		goTLSSymAddrsMap:    NewUserManagedMap[GoTLSSymAddrs]("go_tls_symaddrs_map"),
		goHTTP2SymAddrsMap:  NewUserManagedMap[GoHTTP2SymAddrs]("http2_symaddrs_map"),

		opensslProbedBinaries: newBinarySet(),
		goTLSProbedBinaries:   newBinarySet(),
		goHTTP2ProbedBinaries: newBinarySet(),
		scannedBinaries:       newBinarySet(),

		breakers:  newBinaryBreakers(),
		pathCache: cache,

		backoffModulus: make(map[UPID]int),
		selfPID:        selfPID,
	}, nil
}

// NotifyMMapEvent records that an mmap occurred in the process's
// address space. Called from the capture layer's event thread.
func (m *Manager) NotifyMMapEvent(upid UPID) {
	m.upidsWithMmap.Insert(upid)
}

// RunDeployUProbesThread starts a deployment in its own goroutine,
// returning a channel closed when it finishes. The thread counter is
// incremented before the goroutine starts so a shutdown that begins
// immediately after this call still observes the in-flight work.
func (m *Manager) RunDeployUProbesThread(pids map[UPID]struct{}) <-chan struct{} {
	m.numDeployThreads.Add(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer m.numDeployThreads.Add(-1)
		m.DeployUProbes(pids)
	}()
	return done
}

// NumDeployThreads reports in-flight deployments; shutdown waits for
// zero.
func (m *Manager) NumDeployThreads() int64 {
	return m.numDeployThreads.Load()
}

// WaitForQuiescence blocks until no deployment is in flight. Callers
// must have stopped issuing new deploys first; there is no external
// cancellation point inside a deployment.
func (m *Manager) WaitForQuiescence(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for m.numDeployThreads.Load() != 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// DeployUProbes runs one deployment over the given UPID snapshot. At
// most one deployment executes at a time; concurrent calls serialize.
func (m *Manager) DeployUProbes(pids map[UPID]struct{}) {
	m.deployMu.Lock()
	defer m.deployMu.Unlock()

	m.procTracker.Update(pids)

	// Clean up map entries for processes that died; this is the only
	// cleanup path for the symbol maps.
	m.cleanupSymAddrMaps(m.procTracker.DeletedUPIDs())

	// Refresh the path resolver so namespace lookups below see any new
	// mounts, and invalidate the memoized paths from before.
	if err := m.resolver.Refresh(); err != nil {
		m.warn.Warn("uprobe.resolver", "failed to refresh file path resolver", "error", err)
	}
	m.pathCache.bumpGeneration()

	uprobeCount := m.deployOpenSSLUProbes(m.procTracker.NewUPIDs())
	if m.cfg.RescanForDlopen {
		uprobeCount += m.deployOpenSSLUProbes(m.pidsToRescanForUProbes())
	}
	uprobeCount += m.deployGoUProbes(m.procTracker.NewUPIDs())

	if uprobeCount != 0 {
		m.logger.Info("uprobes deployed", "count", uprobeCount)
	}
}

func (m *Manager) cleanupSymAddrMaps(deleted map[UPID]struct{}) {
	for upid := range deleted {
		m.opensslSymAddrsMap.RemoveValue(upid.PID)
		m.goCommonSymAddrsMap.RemoveValue(upid.PID)
		m.goTLSSymAddrsMap.RemoveValue(upid.PID)
		m.goHTTP2SymAddrsMap.RemoveValue(upid.PID)
		delete(m.backoffModulus, upid)
	}
}

// pidsToRescanForUProbes selects which known UPIDs get another
// OpenSSL scan this iteration. Eligibility requires an mmap signal
// since the last iteration and passing the per-UPID modulus check;
// the pid term jitters the phase so many UPIDs entering backoff
// together don't all rescan in the same iteration. The mmap set is
// cleared unconditionally: signals are edge-triggered per iteration.
func (m *Manager) pidsToRescanForUProbes() map[UPID]struct{} {
	m.rescanCounter++

	toRescan := make(map[UPID]struct{})
	known := m.procTracker.UPIDs()
	newUPIDs := m.procTracker.NewUPIDs()

	for upid := range m.upidsWithMmap.Drain() {
		if _, ok := known[upid]; !ok {
			continue
		}
		if _, ok := newUPIDs[upid]; ok {
			// New this iteration: the regular deploy path already
			// scans it.
			continue
		}

		modulus, ok := m.backoffModulus[upid]
		if !ok {
			modulus = initialRescanModulus
		}

		if m.rescanCounter%modulus == int(upid.PID)%modulus {
			toRescan[upid] = struct{}{}
			next := int(float64(modulus) * m.cfg.RescanExpBackoffFactor)
			if next > maxRescanModulus {
				next = maxRescanModulus
			}
			m.backoffModulus[upid] = next
		} else {
			m.backoffModulus[upid] = modulus
		}
	}

	return toRescan
}

func (m *Manager) deployOpenSSLUProbes(upids map[UPID]struct{}) int {
	uprobeCount := 0
	for upid := range upids {
		if m.cfg.DisableSelfProbing && upid.PID == m.selfPID {
			continue
		}
		count, err := m.attachOpenSSLUProbes(upid.PID)
		if err != nil {
			m.logger.Debug("openssl uprobe attach failed", "pid", upid.PID, "error", err)
			continue
		}
		if count > 0 {
			m.logger.Debug("openssl uprobes attached", "pid", upid.PID, "count", count)
		}
		uprobeCount += count
	}
	return uprobeCount
}

// attachOpenSSLUProbes probes one pid's libssl, if mapped. Returns 0
// with no error when the process simply doesn't use OpenSSL.
func (m *Manager) attachOpenSSLUProbes(pid uint32) (int, error) {
	paths, err := findLibraryPaths([]string{libSSLName, libCryptoName}, pid, m.proc, m.resolver, m.pathCache)
	if err != nil {
		return 0, err
	}
	libssl, libcrypto := paths[0], paths[1]
	if libssl == "" || libcrypto == "" {
		// The process did not map both libraries, so it doesn't use
		// OpenSSL. Zero attachments, not an error.
		return 0, nil
	}

	return m.breakers.Execute(libssl, func() (int, error) {
		ins, err := m.newInspector(libcrypto)
		if err != nil {
			return 0, err
		}
		defer ins.Close()

		symaddrs, err := openSSLSymAddrs(ins)
		if err != nil {
			return 0, err
		}

		// Symbols must be visible to the kernel before any probe for
		// this pid fires.
		m.opensslSymAddrsMap.UpdateValue(pid, symaddrs)

		if !m.opensslProbedBinaries.Insert(libssl) {
			return 0, nil
		}

		for _, spec := range openSSLProbeSpecs {
			spec.BinaryPath = libssl
			if err := m.attacher.AttachUProbe(spec); err != nil {
				return 0, err
			}
		}
		return len(openSSLProbeSpecs), nil
	})
}

// convertUPIDsToBinaryMap groups live pids by their resolved main
// binary, so per-binary work (ELF read, symbol resolution, attach)
// happens once per binary regardless of instance count.
func (m *Manager) convertUPIDsToBinaryMap(upids map[UPID]struct{}) map[string][]uint32 {
	binaries := make(map[string][]uint32)
	for upid := range upids {
		exe, err := m.proc.Exe(upid.PID)
		if err != nil {
			m.logger.Debug("could not read process exe", "pid", upid.PID, "error", err)
			continue
		}
		if err := m.resolver.SetMountNamespace(upid.PID); err != nil {
			m.logger.Debug("could not set mount namespace; did the pid terminate?", "pid", upid.PID)
			continue
		}
		hostPath, err := m.resolver.ResolvePath(exe)
		if err != nil {
			continue
		}
		binaries[hostPath] = append(binaries[hostPath], upid.PID)
	}
	return binaries
}

func (m *Manager) deployGoUProbes(upids map[UPID]struct{}) int {
	uprobeCount := 0

	for binary, pids := range m.convertUPIDsToBinaryMap(upids) {
		// Binaries already scanned this lifetime short-circuit all Go
		// work, whatever the outcome was.
		if !m.scannedBinaries.Insert(binary) {
			continue
		}

		if m.cfg.DisableSelfProbing && len(pids) == 1 && pids[0] == m.selfPID {
			continue
		}

		count, err := m.breakers.Execute(binary, func() (int, error) {
			return m.scanGoBinary(binary, pids)
		})
		if err != nil {
			m.warn.Warn("uprobe.scan", "cannot analyze binary for uprobe deployment",
				"binary", binary, "error", err)
			continue
		}
		uprobeCount += count
	}

	return uprobeCount
}

// scanGoBinary reads one binary's symbols and deploys the Go probe
// sets for it. Returns 0 without error for non-Go binaries.
func (m *Manager) scanGoBinary(binary string, pids []uint32) (int, error) {
	ins, err := m.newInspector(binary)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	// Not a Go binary: skip before the expensive symbol work; the
	// remaining probes are all Go specific.
	if _, ok := ins.SymbolAddress("runtime.buildVersion"); !ok {
		return 0, nil
	}

	commonAddrs, err := goCommonSymAddrs(ins)
	if err != nil {
		m.logger.Debug("go binary lacks mandatory symbols", "binary", binary)
		return 0, nil
	}
	for _, pid := range pids {
		m.goCommonSymAddrsMap.UpdateValue(pid, commonAddrs)
	}

	uprobeCount := 0

	count, err := m.attachGoTLSUProbes(binary, ins, pids)
	if err != nil {
		m.warn.Warn("uprobe.gotls", "failed to attach Go TLS uprobes", "binary", binary, "error", err)
	} else {
		uprobeCount += count
	}

	if m.cfg.EnableHTTP2Tracing {
		count, err := m.attachGoHTTP2UProbes(binary, ins, pids)
		if err != nil {
			m.warn.Warn("uprobe.http2", "failed to attach HTTP2 uprobes", "binary", binary, "error", err)
		} else {
			uprobeCount += count
		}
	}

	return uprobeCount, nil
}

func (m *Manager) attachGoTLSUProbes(binary string, ins Inspector, pids []uint32) (int, error) {
	symaddrs, err := goTLSSymAddrs(ins)
	if err != nil {
		// Not a binary with the mandatory symbols; not of interest.
		return 0, nil
	}
	for _, pid := range pids {
		m.goTLSSymAddrsMap.UpdateValue(pid, symaddrs)
	}

	if !m.goTLSProbedBinaries.Insert(binary) {
		return 0, nil
	}
	return m.attachUProbeTemplates(goTLSProbeTemplates, binary, ins)
}

func (m *Manager) attachGoHTTP2UProbes(binary string, ins Inspector, pids []uint32) (int, error) {
	symaddrs, err := goHTTP2SymAddrs(ins)
	if err != nil {
		return 0, nil
	}
	for _, pid := range pids {
		m.goHTTP2SymAddrsMap.UpdateValue(pid, symaddrs)
	}

	if !m.goHTTP2ProbedBinaries.Insert(binary) {
		return 0, nil
	}
	return m.attachUProbeTemplates(goHTTP2ProbeTemplates, binary, ins)
}

// attachUProbeTemplates expands each template against the binary's
// symbol table and attaches the results. ReturnInsts templates expand
// to one entry probe per ret instruction in the function body.
func (m *Manager) attachUProbeTemplates(tmpls []ProbeTemplate, binary string, ins Inspector) (int, error) {
	uprobeCount := 0
	for _, tmpl := range tmpls {
		symbols, err := ins.ListFuncSymbols(tmpl.Symbol, tmpl.Match)
		if err != nil {
			m.logger.Debug("could not list symbols", "pattern", tmpl.Symbol, "error", err)
			continue
		}

		for _, sym := range symbols {
			switch tmpl.Attach {
			case AttachEntry, AttachReturn:
				spec := ProbeSpec{
					BinaryPath: binary,
					Symbol:     sym.Name,
					Attach:     tmpl.Attach,
					ProbeFn:    tmpl.ProbeFn,
				}
				if err := m.attacher.AttachUProbe(spec); err != nil {
					return uprobeCount, err
				}
				uprobeCount++
			case AttachReturnInsts:
				retAddrs, err := ins.FuncRetInstAddrs(sym)
				if err != nil {
					return uprobeCount, err
				}
				for _, addr := range retAddrs {
					spec := ProbeSpec{
						BinaryPath: binary,
						Address:    addr,
						Attach:     AttachEntry,
						ProbeFn:    tmpl.ProbeFn,
					}
					if err := m.attacher.AttachUProbe(spec); err != nil {
						return uprobeCount, err
					}
					uprobeCount++
				}
			}
		}
	}
	return uprobeCount, nil
}

// OpenSSLSymAddrsMap and friends expose the kernel maps for the
// capture layer's BPF wiring and for tests.
func (m *Manager) OpenSSLSymAddrsMap() *UserManagedMap[OpenSSLSymAddrs] {
	return m.opensslSymAddrsMap
}

func (m *Manager) GoCommonSymAddrsMap() *UserManagedMap[GoCommonSymAddrs] {
	return m.goCommonSymAddrsMap
}

func (m *Manager) GoTLSSymAddrsMap() *UserManagedMap[GoTLSSymAddrs] {
	return m.goTLSSymAddrsMap
}

func (m *Manager) GoHTTP2SymAddrsMap() *UserManagedMap[GoHTTP2SymAddrs] {
	return m.goHTTP2SymAddrsMap
}
