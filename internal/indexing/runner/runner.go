// Package runner drives the event watching loop: poll the monitor for
// the next block, filter its transactions, emit matching events, and
// persist progress.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/satwatch/satwatch/internal/clock"
	"github.com/satwatch/satwatch/internal/core/domain"
	"github.com/satwatch/satwatch/internal/indexing/metrics"
	"github.com/satwatch/satwatch/internal/indexing/monitor"
	"github.com/satwatch/satwatch/internal/infra/rpc"
	"github.com/satwatch/satwatch/internal/infra/storage"
)

// Runner states, exposed for health reporting.
const (
	StateIdle       = "idle"
	StateProcessing = "processing"
)

// BlockSource yields blocks to process and records them.
type BlockSource interface {
	GetNewBlocks(ctx context.Context) (*monitor.Next, error)
	ProcessBlock(ctx context.Context, height int64, hash string) (*btcjson.GetBlockVerboseResult, error)
}

// TxFilter evaluates one transaction against the configured detectors.
type TxFilter interface {
	FilterTransaction(ctx context.Context, txid, blockHash string) domain.FilterResult
}

// Events is the outbound event surface the runner drives.
type Events interface {
	EmitBlock(ctx context.Context, height int64, hash string, txCount int, reorg bool) bool
	EmitTreasury(ctx context.Context, result domain.TreasuryResult, txid string, height int64) bool
	EmitOrdinal(ctx context.Context, result domain.OrdinalResult, txid string, height int64) bool
	EmitCovenant(ctx context.Context, result domain.CovenantResult, txid string, height int64) bool
}

// BlockRecorder appends per-block summaries to the durable stream.
type BlockRecorder interface {
	RecordBlockSummary(record any) error
}

// Liveness receives cycle outcomes for health reporting.
type Liveness interface {
	Beat(height int64)
	Fail(err error)
}

// Config holds the loop pacing knobs.
type Config struct {
	PollInterval         time.Duration
	MetricsLogInterval   time.Duration
	ConnectionRetryDelay time.Duration
}

// CycleResult reports what one cycle did.
type CycleResult struct {
	Processed bool
	Height    int64
	BlockHash string
	Reorg     bool
}

// Runner is the event watching state machine. It alternates between
// idle polling and block processing until its context is canceled.
type Runner struct {
	blocks   BlockSource
	store    storage.Store
	filter   TxFilter
	events   Events
	counters *metrics.Metrics
	recorder BlockRecorder
	cfg      Config

	running  atomic.Bool
	state    atomic.Value
	liveness Liveness
	sleep    clock.SleepFunc
}

// New builds a runner. recorder may be nil to skip block summaries.
func New(blocks BlockSource, store storage.Store, filter TxFilter, events Events, counters *metrics.Metrics, recorder BlockRecorder, cfg Config) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	// Negative disables the periodic metrics line.
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
	if cfg.ConnectionRetryDelay <= 0 {
		cfg.ConnectionRetryDelay = 10 * time.Second
	}

	r := &Runner{
		blocks:   blocks,
		store:    store,
		filter:   filter,
		events:   events,
		counters: counters,
		recorder: recorder,
		cfg:      cfg,
		sleep:    clock.SleepWithContext,
	}
	r.state.Store(StateIdle)
	return r
}

// SetLiveness attaches an optional health stream fed by the Run loop.
func (r *Runner) SetLiveness(l Liveness) {
	r.liveness = l
}

// State returns the current loop state for health reporting.
func (r *Runner) State() string {
	return r.state.Load().(string)
}

// Metrics exposes the run counters.
func (r *Runner) Metrics() *metrics.Metrics {
	return r.counters
}

// RunOnce performs one cycle: ask the monitor for the next block and
// process it fully. Returns an unprocessed result when the chain has
// nothing new.
func (r *Runner) RunOnce(ctx context.Context) (CycleResult, error) {
	next, err := r.blocks.GetNewBlocks(ctx)
	if err != nil || next == nil {
		return CycleResult{}, err
	}

	r.state.Store(StateProcessing)
	defer r.state.Store(StateIdle)

	if err := r.processBlock(ctx, next.Height, next.Hash, next.Reorg); err != nil {
		return CycleResult{}, err
	}
	return CycleResult{
		Processed: true,
		Height:    next.Height,
		BlockHash: next.Hash,
		Reorg:     next.Reorg,
	}, nil
}

func (r *Runner) processBlock(ctx context.Context, height int64, hash string, reorg bool) error {
	slog.Info("processing block", "height", height, "hash", shortHash(hash), "reorg", reorg)

	block, err := r.blocks.ProcessBlock(ctx, height, hash)
	if err != nil {
		return err
	}
	txids := block.Tx

	r.events.EmitBlock(ctx, height, hash, len(txids), reorg)

	emitted := 0
	for _, txid := range txids {
		processed, err := r.store.IsTransactionProcessed(ctx, txid)
		if err != nil {
			return err
		}
		if processed {
			slog.Debug("transaction already processed, skipping", "txid", shortHash(txid))
			continue
		}

		result := r.filter.FilterTransaction(ctx, txid, hash)
		r.counters.AddFiltered(1)

		if !result.Matched {
			// Unmatched transactions are still recorded so a future
			// re-scan of this block skips them.
			if err := r.store.MarkTransactionProcessed(ctx, txid, height, hash, ""); err != nil {
				return err
			}
			continue
		}

		if result.Treasury.Matched {
			r.events.EmitTreasury(ctx, result.Treasury, txid, height)
			r.counters.IncMatch("treasury")
			r.counters.IncEmitted()
			emitted++
		}
		if result.Ordinal.Matched {
			r.events.EmitOrdinal(ctx, result.Ordinal, txid, height)
			r.counters.IncMatch("ordinal")
			r.counters.IncEmitted()
			emitted++
		}
		if result.Covenant.Matched {
			r.events.EmitCovenant(ctx, result.Covenant, txid, height)
			r.counters.IncMatch("covenant")
			r.counters.IncEmitted()
			emitted++
		}

		if err := r.store.MarkTransactionProcessed(ctx, txid, height, hash, string(result.EventType())); err != nil {
			return err
		}
	}

	r.counters.IncBlocks()
	if reorg {
		r.counters.IncReorgs()
	}
	metrics.ProcessedHeight.Set(float64(height))

	slog.Info("block processed",
		"height", height,
		"transactions", len(txids),
		"events_emitted", emitted)

	if r.recorder != nil {
		summary := blockSummary{
			Type:          "block_summary",
			Height:        height,
			BlockHash:     hash,
			Reorg:         reorg,
			TxCount:       len(txids),
			EventsEmitted: emitted,
			Metrics:       r.counters.Snapshot(),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.recorder.RecordBlockSummary(summary); err != nil {
			slog.Error("failed to record block summary", "height", height, "error", err)
		}
	}
	return nil
}

// Run loops until ctx is canceled. Node connectivity failures and
// unexpected cycle errors are logged and retried after a delay; no
// state is mutated on those paths, so the next cycle resumes cleanly.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("runner already started")
	}
	defer r.running.Store(false)

	slog.Info("starting continuous event monitoring", "poll_interval", r.cfg.PollInterval)
	lastMetricsLog := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("stopping event monitoring")
			return err
		}

		result, err := r.RunOnce(ctx)

		if r.cfg.MetricsLogInterval > 0 && time.Since(lastMetricsLog) >= r.cfg.MetricsLogInterval {
			r.logMetrics()
			lastMetricsLog = time.Now()
		}

		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			slog.Info("stopping event monitoring")
			return err
		case errors.Is(err, rpc.ErrUnreachable):
			slog.Warn("node unreachable, retrying",
				"delay", r.cfg.ConnectionRetryDelay,
				"error", err)
			if r.liveness != nil {
				r.liveness.Fail(err)
			}
			if err := r.sleep(ctx, r.cfg.ConnectionRetryDelay); err != nil {
				return err
			}
		case err != nil:
			slog.Error("event monitoring cycle failed", "error", err)
			if r.liveness != nil {
				r.liveness.Fail(err)
			}
			if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
				return err
			}
		case !result.Processed:
			if r.liveness != nil {
				r.liveness.Beat(0)
			}
			if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
				return err
			}
		default:
			if r.liveness != nil {
				r.liveness.Beat(result.Height)
			}
		}
	}
}

func (r *Runner) logMetrics() {
	s := r.counters.Snapshot()
	slog.Info("metrics",
		"blocks", s.BlocksProcessed,
		"tx_filtered", s.TransactionsFiltered,
		"events", s.EventsEmitted,
		"reorgs", s.ReorgsDetected,
		"treasury", s.TreasuryMatches,
		"ordinals", s.OrdinalMatches,
		"covenants", s.CovenantMatches)
}

type blockSummary struct {
	Type          string           `json:"type"`
	Height        int64            `json:"height"`
	BlockHash     string           `json:"block_hash"`
	Reorg         bool             `json:"reorg"`
	TxCount       int              `json:"tx_count"`
	EventsEmitted int              `json:"events_emitted"`
	Metrics       metrics.Snapshot `json:"metrics"`
	Timestamp     string           `json:"timestamp"`
}

func shortHash(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
