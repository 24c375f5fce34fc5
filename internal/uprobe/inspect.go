package uprobe

// SymbolMatchKind selects how a probe template's symbol pattern is
// matched against a binary's symbol table.
type SymbolMatchKind int

const (
	MatchExact SymbolMatchKind = iota
	MatchPrefix
	MatchSuffix
)

// AttachKind selects where a probe lands relative to the matched
// function.
type AttachKind int

const (
	// AttachEntry places the probe on the function entry.
	AttachEntry AttachKind = iota
	// AttachReturn places a uretprobe on the function.
	AttachReturn
	// AttachReturnInsts places an entry-type probe at every address
	// the Inspector's FuncRetInstAddrs reports. Some kernels and
	// architectures cannot attach uretprobes to Go functions reliably,
	// because Go moves stacks under running goroutines.
	AttachReturnInsts
)

// ProbeTemplate binds a symbol pattern to a BPF program and attach
// mode; one template can expand to many attachments (one per matched
// symbol, or one per ret instruction).
type ProbeTemplate struct {
	Symbol  string
	Match   SymbolMatchKind
	Attach  AttachKind
	ProbeFn string
}

// ProbeSpec is one concrete attachment: a resolved binary, symbol (or
// raw address for ret-instruction probes), and BPF function.
type ProbeSpec struct {
	BinaryPath string
	Symbol     string
	Address    uint64
	Attach     AttachKind
	ProbeFn    string
}

// SymbolInfo is one symbol-table entry of interest.
type SymbolInfo struct {
	Name    string
	Address uint64
}

// Inspector reads one binary's symbol and debug information. Created
// per binary via the manager's InspectorFactory, closed when the
// binary's deployment finishes.
type Inspector interface {
	// ListFuncSymbols returns the function symbols matching the
	// pattern under the given match kind.
	ListFuncSymbols(pattern string, match SymbolMatchKind) ([]SymbolInfo, error)
	// FuncRetInstAddrs returns the ret-instruction addresses in the
	// function's body. ELFInspector does not decode instructions: it
	// reports every 0xC3 byte in the body, including one that is part
	// of a longer instruction.
	FuncRetInstAddrs(sym SymbolInfo) ([]uint64, error)
	// SymbolAddress resolves one symbol by exact name.
	SymbolAddress(name string) (uint64, bool)
	Close() error
}

// InspectorFactory opens a binary for inspection. Deployment treats a
// factory error as "cannot analyze binary": logged, counted, skipped.
type InspectorFactory func(binaryPath string) (Inspector, error)

// Attacher installs probes into the kernel. The production
// implementation wraps the BPF toolchain; tests substitute a
// recorder.
type Attacher interface {
	AttachUProbe(spec ProbeSpec) error
}
