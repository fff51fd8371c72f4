// Copyright 2026 The Odd Jobs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command oddjobsd is the supervisor daemon: it owns the write-ahead log,
// the materialized state it projects, the pure engine that reacts to each
// newly-applied event, and the executor that carries out the effects the
// engine asks for. One instance runs per host, guarded by a PID file lock.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/oddjobs/oddjobs/internal/agent"
	"github.com/oddjobs/oddjobs/internal/agent/docker"
	"github.com/oddjobs/oddjobs/internal/clock"
	"github.com/oddjobs/oddjobs/internal/config"
	"github.com/oddjobs/oddjobs/internal/engine"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/executor"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/lifecycle"
	oddlog "github.com/oddjobs/oddjobs/internal/log"
	"github.com/oddjobs/oddjobs/internal/metrics"
	"github.com/oddjobs/oddjobs/internal/reconcile"
	"github.com/oddjobs/oddjobs/internal/runbook"
	"github.com/oddjobs/oddjobs/internal/runbookwatch"
	"github.com/oddjobs/oddjobs/internal/scheduler"
	"github.com/oddjobs/oddjobs/internal/state"
	"github.com/oddjobs/oddjobs/internal/state/sqlitestate"
	"github.com/oddjobs/oddjobs/internal/tracing"
	"github.com/oddjobs/oddjobs/internal/wal"
	"github.com/oddjobs/oddjobs/internal/workspace"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the daemon's YAML config file")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics on")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("oddjobsd %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "oddjobsd: load config:", err)
		os.Exit(1)
	}

	logger := oddlog.New(&oddlog.Config{
		Level:     cfg.Log.Level,
		Format:    oddlog.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger, *metricsAddr); err != nil {
		logger.Error("oddjobsd: fatal", oddlog.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metricsAddr string) error {
	pidfile := lifecycle.NewPIDFileManager(cfg.PIDPath())
	if err := pidfile.Create(os.Getpid()); err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	defer pidfile.Remove()

	clk := clock.NewSystem()

	w, err := wal.Open(cfg.StateDir, wal.Config{
		FlushInterval: cfg.WAL.FlushInterval,
		BatchSize:     cfg.WAL.FlushBatchSize,
	}, clk, logger)
	if err != nil {
		return fmt.Errorf("open write-ahead log: %w", err)
	}
	defer w.Close()

	ms, err := state.Load(cfg.SnapshotPath())
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := replayWAL(w, ms); err != nil {
		return fmt.Errorf("replay write-ahead log: %w", err)
	}

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    "oddjobsd",
		ServiceVersion: version,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("start tracer provider: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runbooks := runbook.NewCache()
	eng := engine.New(runbooks, clk, logger)

	sqliteDB, err := sqlitestate.Open(cfg.SQLiteIndexPath())
	if err != nil {
		return fmt.Errorf("open sqlite index: %w", err)
	}
	defer sqliteDB.Close()
	mirror := sqlitestate.NewMirror(sqliteDB, clk, logger)

	obs := metrics.NewObserver(clk, ms)

	k := newKernel(w, ms, eng, logger)

	local := agent.NewLocalTransport(logger, cfg.Runtimes.Local.Shell)
	var dockerTransport agent.Transport
	if cfg.Runtimes.Docker.Enabled {
		d, err := docker.NewTransport(logger)
		if err != nil {
			logger.Warn("oddjobsd: docker transport unavailable, container-routed agents will fail", oddlog.Error(err))
		} else {
			dockerTransport = d
		}
	}
	logDir := cfg.StateDir + "/logs/agents"
	router := agent.New(logger, logDir, local, dockerTransport, nil, k.ingest)

	wsManager := workspace.New(logger)
	sched := scheduler.New(logger, k.ingest)
	exec := executor.New(logger, clk, router, wsManager, sched, nil, cfg.Runtimes.Local.Shell, stepResolver(ms), k.ingest, otel.Tracer("oddjobsd"))
	k.exec = exec

	recon := reconcile.New(logger, w, router, &recoverer{router: router, logDir: logDir})
	go recon.Run(ctx, ms)

	watcher, err := runbookwatch.New(cfg.RunbookDir, runbooks, k.ingest, logger)
	if err != nil {
		return fmt.Errorf("start runbook watcher: %w", err)
	}
	if err := watcher.LoadExisting(); err != nil {
		logger.Warn("oddjobsd: failed to load existing runbooks", oddlog.Error(err))
	}
	watcher.Start(ctx)

	go k.run(ctx)

	usageWriter, err := metrics.NewUsageWriter(cfg.StateDir + "/usage.jsonl")
	if err != nil {
		return fmt.Errorf("open usage writer: %w", err)
	}
	defer usageWriter.Close()
	collector := metrics.NewCollector(logger, clk, ms, router, usageWriter, 0)
	go collector.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("oddjobsd: metrics server stopped", oddlog.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("oddjobsd: ready", "state_dir", cfg.StateDir, "runbook_dir", cfg.RunbookDir)

	sig := <-sigCh
	logger.Info("oddjobsd: received signal, shutting down", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = metricsSrv.Shutdown(shutdownCtx)
	watcher.Stop()
	sched.Stop()
	exec.Wait()
	_ = obs

	if err := state.Save(ms, cfg.SnapshotPath()); err != nil {
		logger.Error("oddjobsd: failed to save snapshot on shutdown", oddlog.Error(err))
	}
	if err := mirror.Close(); err != nil {
		logger.Warn("oddjobsd: failed to close sqlite mirror", oddlog.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
		logger.Warn("oddjobsd: failed to shut down tracer provider", oddlog.Error(err))
	}

	logger.Info("oddjobsd: shutdown complete")
	return nil
}

// replayWAL rebuilds ms from every WAL entry recorded after the loaded
// snapshot, then marks all of them processed: their effects already ran
// in a previous process lifetime, so the kernel must never hand them to
// the engine a second time.
func replayWAL(w *wal.WAL, ms *state.MaterializedState) error {
	entries, err := w.EntriesAfter(ms.Seq)
	if err != nil {
		return err
	}
	for _, ev := range entries {
		state.ApplyEvent(ms, ev)
	}
	w.MarkProcessed(w.WriteSeq())
	return nil
}

// stepResolver adapts MaterializedState's Job lookup into the executor's
// narrow StepResolver signature.
func stepResolver(ms *state.MaterializedState) executor.StepResolver {
	return func(owner ids.OwnerID) (string, bool) {
		if owner.Kind != ids.OwnerKindJob {
			return "", false
		}
		j, ok := ms.Job(owner.Job)
		if !ok {
			return "", false
		}
		return j.Step, true
	}
}

// recoverer implements reconcile.Recoverer by reattaching the agent
// router's lifecycle monitor to a process that survived the restart,
// using the PID breadcrumb the local transport wrote at spawn time.
type recoverer struct {
	router *agent.Router
	logDir string
}

func (r *recoverer) RecoverJob(ctx context.Context, job state.Job, agentID ids.AgentID) error {
	return r.reattach(agentID, ids.NewJobOwner(job.ID))
}

func (r *recoverer) RecoverCrew(ctx context.Context, crew state.Crew, agentID ids.AgentID) error {
	return r.reattach(agentID, ids.NewCrewOwner(crew.ID))
}

func (r *recoverer) reattach(agentID ids.AgentID, owner ids.OwnerID) error {
	pid, ok := agent.ReadBreadcrumb(r.logDir, agentID)
	if !ok {
		return fmt.Errorf("no PID breadcrumb for agent %s (container-routed agents aren't reconciled by PID)", agentID)
	}
	r.router.Reattach(agentID, owner, pid)
	return nil
}

// kernel is the daemon's event-sourcing pump: it drains the write-ahead
// log's unprocessed tail, folds each entry into materialized state, asks
// the engine what that implies, persists the follow-up events, and hands
// the follow-up effects to the executor. Every external collaborator
// (executor, scheduler, agent router, runbook watcher) durably records
// its own completions through ingest rather than mutating state
// directly, so the pump is the only path that ever calls engine.Handle.
type kernel struct {
	wal    *wal.WAL
	ms     *state.MaterializedState
	engine *engine.Engine
	log    *slog.Logger
	exec   *executor.Executor

	wake chan struct{}
}

func newKernel(w *wal.WAL, ms *state.MaterializedState, eng *engine.Engine, logger *slog.Logger) *kernel {
	return &kernel{wal: w, ms: ms, engine: eng, log: logger, wake: make(chan struct{}, 1)}
}

// ingest is the Sink every collaborator is wired with: append durably,
// then nudge the pump awake.
func (k *kernel) ingest(d events.Data) {
	if _, err := k.wal.Append(d); err != nil {
		k.log.Error("kernel: failed to append event", "kind", d.Kind(), oddlog.Error(err))
		return
	}
	select {
	case k.wake <- struct{}{}:
	default:
	}
}

func (k *kernel) run(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		k.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-k.wake:
		case <-ticker.C:
		}
	}
}

func (k *kernel) drain(ctx context.Context) {
	for {
		ev, ok := k.wal.NextUnprocessed()
		if !ok {
			return
		}
		state.ApplyEvent(k.ms, ev)
		result := k.engine.Handle(k.ms, ev)
		for _, d := range result.Events {
			if _, err := k.wal.Append(d); err != nil {
				k.log.Error("kernel: failed to append follow-up event", "kind", d.Kind(), oddlog.Error(err))
			}
		}
		for _, eff := range result.Effects {
			k.exec.Dispatch(ctx, eff)
		}
		k.wal.MarkProcessed(ev.Seq)
	}
}
