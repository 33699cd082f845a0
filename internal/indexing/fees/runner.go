package fees

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/satwatch/satwatch/internal/indexing/metrics"
)

// SnapshotRecorder appends fee snapshots to the durable stream.
type SnapshotRecorder interface {
	RecordFeeSnapshot(record any) error
}

// Liveness receives cycle outcomes for health reporting.
type Liveness interface {
	Beat(height int64)
	Fail(err error)
}

// Config holds the fee stream pacing and policy knobs.
type Config struct {
	PollInterval time.Duration
	Window       time.Duration
	Spike        SpikeConfig
	PSBTCooldown time.Duration
}

// Result is one iteration's full output, also the one-shot JSON shape.
type Result struct {
	Snapshot  Snapshot    `json:"snapshot"`
	Rolling   Stats       `json:"rolling_stats"`
	Bucket    Summary     `json:"bucket"`
	Timestamp string      `json:"timestamp"`
	PSBT      *PSBTResult `json:"psbt,omitempty"`
}

type feeSnapshotRecord struct {
	Type      string   `json:"type"`
	Snapshot  Snapshot `json:"snapshot"`
	Rolling   Stats    `json:"rolling_stats"`
	Bucket    Summary  `json:"bucket"`
	Timestamp string   `json:"timestamp"`
}

type psbtPrepareAlert struct {
	Type        string     `json:"type"`
	Bucket      string     `json:"bucket"`
	TargetSatVB int64      `json:"target_satvb"`
	PolicyNote  string     `json:"policy_note"`
	Result      PSBTResult `json:"result"`
	TS          string     `json:"ts"`
}

// Runner drives the fee monitoring loop: snapshot the mempool, roll the
// window forward, classify, persist, and raise alerts. PSBT preparation
// piggybacks on the loop when the caller asks for it.
type Runner struct {
	estimator    *Estimator
	window       *Window
	alerts       *AlertManager
	consolidator *Consolidator
	recorder     SnapshotRecorder
	cfg          Config

	lastPSBT   time.Time
	lastSample atomic.Int64
	liveness   Liveness
	now        func() time.Time
}

// New builds a fee runner. consolidator and recorder may be nil to
// disable PSBT preparation and the durable stream respectively.
func New(node Mempool, alerts *AlertManager, consolidator *Consolidator, recorder SnapshotRecorder, cfg Config) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Minute
	}
	if cfg.PSBTCooldown <= 0 {
		cfg.PSBTCooldown = time.Hour
	}

	return &Runner{
		estimator:    NewEstimator(node),
		window:       NewWindow(cfg.Window),
		alerts:       alerts,
		consolidator: consolidator,
		recorder:     recorder,
		cfg:          cfg,
		now:          time.Now,
	}
}

// SetLiveness attaches an optional health stream fed by the Run loop.
func (r *Runner) SetLiveness(l Liveness) {
	r.liveness = l
}

// LastSample returns the time of the last successful snapshot, or the
// zero time before the first one. Safe to call from other goroutines.
func (r *Runner) LastSample() time.Time {
	if v := r.lastSample.Load(); v != 0 {
		return time.Unix(v, 0).UTC()
	}
	return time.Time{}
}

// RunOnce performs one iteration: snapshot, rolling update, bucket
// classification, durable record, and optionally a consolidation PSBT.
func (r *Runner) RunOnce(ctx context.Context, preparePSBT bool) (Result, error) {
	snap, err := r.estimator.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}

	ts := r.now().UTC()
	r.window.Add(ts, snap.P50)
	stats := r.window.Stats()
	bucket := Classify(snap.P50)

	metrics.FeeRateP50.Set(float64(snap.P50))
	r.lastSample.Store(ts.Unix())

	result := Result{
		Snapshot:  snap,
		Rolling:   stats,
		Bucket:    bucket.Summary(),
		Timestamp: ts.Format(time.RFC3339),
	}

	if r.recorder != nil {
		rec := feeSnapshotRecord{
			Type:      "fee_snapshot",
			Snapshot:  snap,
			Rolling:   stats,
			Bucket:    bucket.Summary(),
			Timestamp: result.Timestamp,
		}
		if err := r.recorder.RecordFeeSnapshot(rec); err != nil {
			slog.Error("failed to record fee snapshot", "error", err)
		}
	}

	if preparePSBT && r.consolidator != nil && r.shouldPrepare(bucket) {
		target := targetFeeRate(snap.P50, bucket)
		psbt, err := r.consolidator.PreparePSBT(ctx, target)
		if err != nil {
			slog.Error("failed to prepare consolidation psbt",
				"bucket", bucket.Name,
				"target_satvb", target,
				"error", err)
		} else {
			result.PSBT = &psbt
			r.alerts.Post(psbtPrepareAlert{
				Type:        "psbt_prepare",
				Bucket:      bucket.Name,
				TargetSatVB: target,
				PolicyNote:  bucket.Policy().Note,
				Result:      psbt,
				TS:          result.Timestamp,
			})
			slog.Info("prepared consolidation psbt",
				"bucket", bucket.Name,
				"target_satvb", target,
				"status", psbt.Status)
		}
	}

	return result, nil
}

// shouldPrepare gates consolidation on the bucket policy plus a global
// cooldown. The timestamp only advances when both checks pass, so a
// denied attempt does not push the next window out.
func (r *Runner) shouldPrepare(bucket Bucket) bool {
	if !bucket.Policy().ConsolidateOK {
		return false
	}
	now := r.now()
	if now.Sub(r.lastPSBT) < r.cfg.PSBTCooldown {
		return false
	}
	r.lastPSBT = now
	return true
}

// targetFeeRate picks a conservative sweep rate: at least 1 sat/vB,
// capped at the top of the current bucket.
func targetFeeRate(p50 int64, bucket Bucket) int64 {
	target := p50
	if target > bucket.MaxSatVB {
		target = bucket.MaxSatVB
	}
	if target < 1 {
		target = 1
	}
	return target
}

// Run loops until ctx is canceled. Failed iterations are logged and
// retried on the next tick; nothing carries over, so a transient node
// outage only costs the missed samples.
func (r *Runner) Run(ctx context.Context, preparePSBT bool) error {
	slog.Info("starting fee monitoring",
		"poll_interval", r.cfg.PollInterval,
		"rolling_window", r.cfg.Window)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.cycle(ctx, preparePSBT)

		select {
		case <-ctx.Done():
			slog.Info("stopping fee monitoring")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) cycle(ctx context.Context, preparePSBT bool) {
	result, err := r.RunOnce(ctx, preparePSBT)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("fee monitoring cycle failed", "error", err)
			if r.liveness != nil {
				r.liveness.Fail(err)
			}
		}
		return
	}
	if r.liveness != nil {
		r.liveness.Beat(0)
	}
	r.report(result)
}

// report writes the per-poll summary line and runs the alert checks.
func (r *Runner) report(result Result) {
	snap := result.Snapshot
	stats := result.Rolling
	bucket := Classify(snap.P50)

	slog.Info("fee snapshot",
		"p50_satvb", snap.P50,
		"bucket", bucket.Name,
		"p25", snap.P25,
		"p75", snap.P75,
		"p90", snap.P90,
		"tx_count", snap.TxCount,
		"rolling_avg", stats.Avg,
		"samples", stats.N)

	r.alerts.MaybeBucketChange(bucket, Observed{
		P50:        snap.P50,
		P75:        snap.P75,
		P95:        snap.P95,
		RollingAvg: stats.Avg,
		TxCount:    snap.TxCount,
		BucketNote: bucket.Policy().Note,
	})

	current := float64(snap.P50)
	trail := float64(stats.Avg)
	if ShouldAlertSpike(current, trail, r.cfg.Spike) {
		pct := 100 * (current - trail) / math.Max(trail, 1e-9)
		payload := SpikeAlert{
			Type:       "fee_spike",
			NowSatVB:   round2(current),
			TrailSatVB: round2(trail),
			SpikePct:   round2(pct),
			At:         result.Timestamp,
			Suggestion: ProposeAdjustment(current, trail, r.cfg.Spike.Rules),
		}
		cooldown := time.Duration(r.cfg.Spike.CooldownMinutes) * time.Minute
		r.alerts.MaybeSpike(payload, cooldown)
	}
}
