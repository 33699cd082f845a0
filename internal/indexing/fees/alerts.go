package fees

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const webhookTimeout = 10 * time.Second

// AlertRecorder appends alert payloads to the durable fee-alert stream.
type AlertRecorder interface {
	RecordFeeAlert(record any) error
}

// AlertManager posts fee alerts to a single webhook endpoint and mirrors
// every payload into the durable stream. Bucket-change and spike alerts
// keep independent cooldowns so one cannot starve the other.
//
// Delivery is one attempt with a fixed timeout; fee alerts are advisory
// and the next poll produces fresh ones.
type AlertManager struct {
	webhookURL string
	minChange  time.Duration
	client     *http.Client
	recorder   AlertRecorder
	now        func() time.Time

	lastSeverity int
	lastBucketTS time.Time
	lastSpikeTS  time.Time
}

// NewAlertManager builds an alert manager. An empty webhookURL disables
// delivery but keeps the durable stream; recorder may be nil.
func NewAlertManager(webhookURL string, minChange time.Duration, recorder AlertRecorder) *AlertManager {
	return &AlertManager{
		webhookURL:   webhookURL,
		minChange:    minChange,
		client:       &http.Client{Timeout: webhookTimeout},
		recorder:     recorder,
		now:          time.Now,
		lastSeverity: -1,
	}
}

// Reset clears the cooldown state, so the next observation alerts as if
// the manager were fresh.
func (m *AlertManager) Reset() {
	m.lastSeverity = -1
	m.lastBucketTS = time.Time{}
	m.lastSpikeTS = time.Time{}
}

// Post records payload in the durable stream and delivers it to the
// webhook in a single attempt. Failures are logged, never returned.
func (m *AlertManager) Post(payload any) {
	if m.recorder != nil {
		if err := m.recorder.RecordFeeAlert(payload); err != nil {
			slog.Error("failed to record fee alert", "error", err)
		}
	}

	if m.webhookURL == "" {
		slog.Debug("no alert webhook configured, skipping delivery")
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode alert payload", "error", err)
		return
	}

	resp, err := m.client.Post(m.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to post alert webhook", "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		slog.Warn("alert webhook returned error status", "status", resp.StatusCode)
		return
	}
	slog.Debug("alert webhook posted")
}

// Observed is the market context attached to a bucket-change alert.
type Observed struct {
	P50        int64  `json:"p50"`
	P75        int64  `json:"p75"`
	P95        int64  `json:"p95"`
	RollingAvg int64  `json:"rolling_avg"`
	TxCount    int    `json:"tx"`
	BucketNote string `json:"bucket_note"`
}

type bucketChangeAlert struct {
	Type     string      `json:"type"`
	Bucket   alertBucket `json:"bucket"`
	Observed Observed    `json:"observed"`
	TS       string      `json:"ts"`
}

type alertBucket struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Severity   int      `json:"severity"`
	RangeSatVB [2]int64 `json:"range_satvb"`
}

// MaybeBucketChange alerts when the bucket severity moved and the quiet
// period since the last bucket alert has elapsed. Reports whether an
// alert went out.
func (m *AlertManager) MaybeBucketChange(bucket Bucket, observed Observed) bool {
	now := m.now()
	changed := m.lastSeverity != bucket.Severity
	quieted := now.Sub(m.lastBucketTS) >= m.minChange
	if !changed || !quieted {
		return false
	}

	slog.Info("fee bucket changed", "bucket", bucket.Name, "label", bucket.Label, "severity", bucket.Severity)
	m.Post(bucketChangeAlert{
		Type: "fee_bucket_change",
		Bucket: alertBucket{
			Name:       bucket.Name,
			Label:      bucket.Label,
			Severity:   bucket.Severity,
			RangeSatVB: [2]int64{bucket.MinSatVB, bucket.MaxSatVB},
		},
		Observed: observed,
		TS:       now.UTC().Format(time.RFC3339),
	})

	m.lastSeverity = bucket.Severity
	m.lastBucketTS = now
	return true
}

// SpikeAlert is the payload for a sudden fee climb.
type SpikeAlert struct {
	Type       string     `json:"type"`
	NowSatVB   float64    `json:"now_sat_vb"`
	TrailSatVB float64    `json:"trail_avg_sat_vb"`
	SpikePct   float64    `json:"spike_pct"`
	At         string     `json:"at"`
	Suggestion Adjustment `json:"suggestion"`
}

// MaybeSpike delivers a spike alert unless one already went out within
// the cooldown. Reports whether an alert went out.
func (m *AlertManager) MaybeSpike(payload SpikeAlert, cooldown time.Duration) bool {
	now := m.now()
	if now.Sub(m.lastSpikeTS) < cooldown {
		return false
	}

	slog.Info("fee spike detected",
		"now_satvb", payload.NowSatVB,
		"trail_avg_satvb", payload.TrailSatVB,
		"spike_pct", payload.SpikePct)
	m.Post(payload)

	m.lastSpikeTS = now
	return true
}
