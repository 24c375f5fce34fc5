// obsplaned runs the userspace half of the observability agent: it
// ingests captured socket events, stitches them into records, and
// drives the uprobe deployment pipeline over the local process table.
// The BPF-backed probe attacher belongs to the capture layer; without
// it this binary runs attach decisions in dry-run mode, which is also
// how replayed captures are analyzed offline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obsplane/core/internal/idgen"
	"github.com/obsplane/core/internal/ingest"
	"github.com/obsplane/core/internal/preset"
	"github.com/obsplane/core/internal/protocols/common"
	"github.com/obsplane/core/internal/shutdown"
	"github.com/obsplane/core/internal/uprobe"
)

type dryRunAttacher struct {
	logger *slog.Logger
}

func (a *dryRunAttacher) AttachUProbe(spec uprobe.ProbeSpec) error {
	a.logger.Debug("would attach uprobe",
		"binary", spec.BinaryPath, "symbol", spec.Symbol,
		"address", spec.Address, "probe_fn", spec.ProbeFn)
	return nil
}

func main() {
	var (
		eventStreamURL     = flag.String("event-stream-url", "", "websocket URL of the capture layer's socket event stream")
		presetPath         = flag.String("presets", "", "path to the query preset TOML file")
		procRoot           = flag.String("proc", "/proc", "proc filesystem mount point")
		deployInterval     = flag.Duration("deploy-interval", 10*time.Second, "how often to rescan the process table for uprobe deployment")
		rescanForDlopen    = flag.Bool("rescan-for-dlopen", false, "use mmap tracing to rescan binaries for delay-loaded libraries like OpenSSL")
		rescanBackoff      = flag.Float64("rescan-exp-backoff-factor", 2.0, "exponential backoff factor for dynamic library rescans")
		enableHTTP2        = flag.Bool("enable-http2-tracing", false, "also deploy the Go HTTP/2 probe set")
		disableSelfProbing = flag.Bool("disable-self-probing", true, "never probe this agent's own process")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).
		With("agent_id", idgen.AgentID())
	slog.SetDefault(logger)

	if *presetPath != "" {
		queries, err := preset.Load(*presetPath)
		if err != nil {
			logger.Error("failed to load preset queries", "path", *presetPath, "error", err)
			os.Exit(1)
		}
		logger.Info("preset queries loaded", "count", len(queries))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group := shutdown.New(30*time.Second, logger)

	procfs := uprobe.NewProcFS(*procRoot)
	manager, err := uprobe.NewManager(
		uprobe.Config{
			RescanForDlopen:        *rescanForDlopen,
			RescanExpBackoffFactor: *rescanBackoff,
			EnableHTTP2Tracing:     *enableHTTP2,
			DisableSelfProbing:     *disableSelfProbing,
		},
		&dryRunAttacher{logger: logger},
		uprobe.OpenELF,
		procfs,
		procfs,
		logger,
	)
	if err != nil {
		logger.Error("failed to build uprobe manager", "error", err)
		os.Exit(1)
	}
	group.Register(manager.WaitForQuiescence)

	deployDone := make(chan struct{})
	go func() {
		defer close(deployDone)
		deployLoop(ctx, logger, procfs, manager, *deployInterval)
	}()

	if *eventStreamURL != "" {
		in := ingest.New(func(connID string, result common.RecordsWithErrorCount) {
			logger.Info("stitched records",
				"conn_id", connID,
				"records", len(result.Records),
				"errors", result.ErrorCount)
		}, logger)
		if err := in.Dial(*eventStreamURL); err != nil {
			logger.Error("failed to dial event stream", "error", err)
			os.Exit(1)
		}
		group.Register(func(context.Context) error { return in.Close() })
		go func() {
			if err := in.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("event stream terminated", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("signal received, shutting down")
	<-deployDone
	if err := group.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
}

// deployLoop snapshots the process table on a fixed cadence and hands
// it to the uprobe manager. New deploys stop before shutdown waits on
// quiescence: this loop exits on context cancellation, and the
// shutdown group's wait runs after that.
func deployLoop(ctx context.Context, logger *slog.Logger, procfs *uprobe.ProcFS, manager *uprobe.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	const asid = 1
	for {
		upids, err := procfs.ListUPIDs(asid)
		if err != nil {
			logger.Warn("failed to snapshot process table", "error", err)
		} else {
			manager.RunDeployUProbesThread(upids)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
