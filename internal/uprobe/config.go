package uprobe

// Config carries the uprobe manager's feature flags, mirroring the
// agent's command-line surface.
type Config struct {
	// RescanForDlopen enables mmap-triggered rescans of known
	// processes, catching libssl loaded after the initial scan.
	RescanForDlopen bool
	// RescanExpBackoffFactor multiplies a UPID's rescan modulus after
	// every attempted rescan. Zero means the default of 2.0.
	RescanExpBackoffFactor float64
	// EnableHTTP2Tracing also deploys the Go HTTP/2 probe set.
	EnableHTTP2Tracing bool
	// DisableSelfProbing skips the agent's own process, which speeds
	// up startup noticeably.
	DisableSelfProbing bool
	// SelfPID identifies the agent's own process for self-probing
	// checks. Zero means the current process.
	SelfPID uint32
}

const (
	initialRescanModulus = 1
	maxRescanModulus     = 1 << 12
	defaultBackoffFactor = 2.0
)
