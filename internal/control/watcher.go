// Package control wires the configured components together and manages
// their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/satwatch/satwatch/internal/core/config"
	"github.com/satwatch/satwatch/internal/core/registry"
	"github.com/satwatch/satwatch/internal/indexing/emitter"
	"github.com/satwatch/satwatch/internal/indexing/fees"
	"github.com/satwatch/satwatch/internal/indexing/filter"
	"github.com/satwatch/satwatch/internal/indexing/health"
	"github.com/satwatch/satwatch/internal/indexing/metrics"
	"github.com/satwatch/satwatch/internal/indexing/monitor"
	"github.com/satwatch/satwatch/internal/indexing/runner"
	"github.com/satwatch/satwatch/internal/infra/chain/bitcoin"
	"github.com/satwatch/satwatch/internal/infra/rpc"
	"github.com/satwatch/satwatch/internal/infra/sink"
	"github.com/satwatch/satwatch/internal/infra/storage"
	"github.com/satwatch/satwatch/internal/infra/storage/jsonfile"
	"github.com/satwatch/satwatch/internal/infra/storage/sqlite"
)

// Options are the run-mode switches from the command line.
type Options struct {
	// PreparePSBT lets the fee loop prepare consolidation PSBTs when
	// the bucket policy and cooldown allow it.
	PreparePSBT bool
}

// Watcher owns every long-lived component: the fee stream always, the
// event stream when configured, plus the health server and the durable
// sink they share.
type Watcher struct {
	cfg  *config.AppConfig
	opts Options

	client   *rpc.Client
	node     *bitcoin.Adapter
	out      *sink.Writer
	store    storage.Store
	events   *runner.Runner
	counters *metrics.Metrics
	fees     *fees.Runner

	tracker   *health.Tracker
	healthSrv *health.Server

	wg  sync.WaitGroup
	log *slog.Logger
}

// NewWatcher creates a watcher with all dependencies initialized.
func NewWatcher(cfg *config.AppConfig, opts Options) (*Watcher, error) {
	w := &Watcher{cfg: cfg, opts: opts, log: slog.Default()}

	w.client = rpc.New(cfg.RPC.ClientConfig())
	w.node = bitcoin.New(w.client)

	if cfg.Output.Enabled {
		out, err := sink.Open(cfg.Output.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open structured output: %w", err)
		}
		w.out = out
	}

	w.tracker = health.NewTracker()
	if cfg.Health.Enabled {
		w.healthSrv = health.NewServer(w.tracker, cfg.Health.Port)
	}

	// The fee stream is always on; the sink hookups stay nil interfaces
	// when structured output is disabled.
	var alertRec fees.AlertRecorder
	var snapRec fees.SnapshotRecorder
	if w.out != nil {
		alertRec = w.out
		snapRec = w.out
	}
	alerts := fees.NewAlertManager(cfg.Alerts.WebhookURL, cfg.Alerts.MinChange(), alertRec)
	consolidator := fees.NewConsolidator(w.node, cfg.Consolidation)
	w.fees = fees.New(w.node, alerts, consolidator, snapRec, cfg.FeeConfig())
	w.fees.SetLiveness(w.tracker.Stream(health.StreamFees, cfg.Polling.PollInterval()))

	if cfg.EventWatcher.Enabled {
		if err := w.initEventStream(); err != nil {
			if w.out != nil {
				w.out.Close()
			}
			return nil, err
		}
	}

	return w, nil
}

func (w *Watcher) initEventStream() error {
	ew := w.cfg.EventWatcher

	store, err := openStore(ew.State)
	if err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	w.store = store

	reg := registry.Load(ew.Filters.RegistryConfig())
	fil := filter.New(w.node, reg, ew.Filters.FilterConfig())

	var eventRec emitter.EventRecorder
	var blockRec runner.BlockRecorder
	if w.out != nil {
		eventRec = w.out
		blockRec = w.out
	}
	em := emitter.New(ew.Events, eventRec)
	mon := monitor.New(w.node, store, ew.MaxReorgDepth)
	w.counters = metrics.New()

	logInterval := ew.Metrics.LogInterval()
	if !ew.Metrics.Enabled {
		logInterval = -1
	}
	w.events = runner.New(mon, store, fil, em, w.counters, blockRec, runner.Config{
		PollInterval:       ew.PollInterval(),
		MetricsLogInterval: logInterval,
	})
	w.events.SetLiveness(w.tracker.Stream(health.StreamBlocks, ew.PollInterval()))
	return nil
}

// openStore opens the configured processed-state backend.
func openStore(cfg config.StateConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.Open(cfg.DBPath)
	case "json":
		return jsonfile.Open(cfg.JSONPath)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// EventsEnabled reports whether the event stream was configured in.
func (w *Watcher) EventsEnabled() bool {
	return w.events != nil
}

// Start launches the health server and the enabled streams. The streams
// stop when ctx is canceled; call Stop afterwards to release resources.
func (w *Watcher) Start(ctx context.Context) error {
	if w.healthSrv != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.healthSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.log.Error("health server failed", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.fees.Run(ctx, w.opts.PreparePSBT)
	}()

	if w.events != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.events.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("event stream stopped", "error", err)
			}
		}()
	}

	return nil
}

// Stop shuts the health server down, waits for the streams to wind down
// (bounded by ctx), and releases the store, sink, and RPC client.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("stopping watcher")

	var srvErr error
	if w.healthSrv != nil {
		srvErr = w.healthSrv.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.log.Warn("shutdown deadline reached before streams stopped")
	}

	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.log.Warn("failed to close state store", "error", err)
		}
	}
	if w.out != nil {
		if err := w.out.Close(); err != nil {
			w.log.Warn("failed to close structured output", "error", err)
		}
	}
	w.client.Close()
	return srvErr
}

// FeeOnce runs a single fee iteration, for cron-style invocation.
func (w *Watcher) FeeOnce(ctx context.Context) (fees.Result, error) {
	return w.fees.RunOnce(ctx, w.opts.PreparePSBT)
}

// EventCycle is the one-shot event watching output. Height is null when
// the chain had nothing new.
type EventCycle struct {
	Processed bool             `json:"processed"`
	Height    *int64           `json:"height"`
	Metrics   metrics.Snapshot `json:"metrics"`
	BlockHash string           `json:"block_hash,omitempty"`
	Reorg     bool             `json:"reorg,omitempty"`
}

// EventsOnce runs a single event watching cycle.
func (w *Watcher) EventsOnce(ctx context.Context) (EventCycle, error) {
	if w.events == nil {
		return EventCycle{}, errors.New("event watching is not enabled")
	}
	res, err := w.events.RunOnce(ctx)
	if err != nil {
		return EventCycle{}, err
	}

	out := EventCycle{
		Processed: res.Processed,
		Metrics:   w.counters.Snapshot(),
		BlockHash: res.BlockHash,
		Reorg:     res.Reorg,
	}
	if res.Processed {
		h := res.Height
		out.Height = &h
	}
	return out, nil
}
