// Package emitter delivers event envelopes to webhook endpoints and the
// durable event stream.
//
// # Delivery order
//
// Every event is recorded to the durable stream before any network
// delivery is attempted, so the JSONL log stays complete even when all
// endpoints are down.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/satwatch/satwatch/internal/clock"
	"github.com/satwatch/satwatch/internal/core/domain"
)

const httpTimeout = 10 * time.Second

// Envelope is the wire format posted to webhook endpoints and written
// to the event stream.
type Envelope struct {
	Type        string `json:"type"`
	Data        any    `json:"data"`
	Timestamp   string `json:"timestamp"`
	Txid        string `json:"txid,omitempty"`
	BlockHeight *int64 `json:"block_height,omitempty"`
}

// EventRecorder appends envelopes to the durable event stream.
type EventRecorder interface {
	RecordEvent(record any) error
}

// Config controls webhook delivery. WebhookURL is a single-endpoint
// convenience that merges into WebhookURLs.
type Config struct {
	WebhookURL       string   `yaml:"webhook_url"`
	WebhookURLs      []string `yaml:"webhook_urls"`
	RetryAttempts    int      `yaml:"retry_attempts"`
	RetryBackoffSecs int      `yaml:"retry_backoff_secs"`
}

// Endpoints returns the deduplicated endpoint list.
func (c Config) Endpoints() []string {
	urls := make([]string, 0, len(c.WebhookURLs)+1)
	seen := make(map[string]bool)
	if c.WebhookURL != "" {
		urls = append(urls, c.WebhookURL)
		seen[c.WebhookURL] = true
	}
	for _, u := range c.WebhookURLs {
		if u == "" || seen[u] {
			continue
		}
		urls = append(urls, u)
		seen[u] = true
	}
	return urls
}

// Emitter posts envelopes to every configured endpoint with exponential
// retry backoff per endpoint.
type Emitter struct {
	urls     []string
	attempts int
	backoff  time.Duration
	client   *http.Client
	recorder EventRecorder
	sleep    clock.SleepFunc
}

// New builds an emitter. recorder may be nil to disable the durable
// stream.
func New(cfg Config, recorder EventRecorder) *Emitter {
	e := &Emitter{
		urls:     cfg.Endpoints(),
		attempts: cfg.RetryAttempts,
		backoff:  time.Duration(cfg.RetryBackoffSecs) * time.Second,
		client:   &http.Client{Timeout: httpTimeout},
		recorder: recorder,
		sleep:    clock.SleepWithContext,
	}
	slog.Info("initialized event emitter", "endpoints", len(e.urls))
	return e
}

// Emit builds the envelope and delivers it. blockHeight may be nil for
// events without a block context. Returns true when at least one
// endpoint accepted the event, or trivially when none are configured.
func (e *Emitter) Emit(ctx context.Context, eventType string, data any, txid string, blockHeight *int64) bool {
	env := Envelope{
		Type:        eventType,
		Data:        data,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Txid:        txid,
		BlockHeight: blockHeight,
	}

	if e.recorder != nil {
		if err := e.recorder.RecordEvent(env); err != nil {
			slog.Error("failed to record event", "type", eventType, "error", err)
		}
	}

	if len(e.urls) == 0 {
		slog.Debug("no webhook endpoints configured, skipping delivery", "type", eventType)
		return true
	}

	body, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to encode event", "type", eventType, "error", err)
		return false
	}

	deliveryID := uuid.New().String()
	succeeded := 0
	for _, url := range e.urls {
		if e.deliver(ctx, url, body, deliveryID) {
			succeeded++
			slog.Debug("emitted event", "type", eventType, "url", url)
		}
	}
	return succeeded > 0
}

func (e *Emitter) deliver(ctx context.Context, url string, body []byte, deliveryID string) bool {
	for attempt := 0; attempt < e.attempts; attempt++ {
		if e.post(ctx, url, body, deliveryID) {
			return true
		}
		if attempt < e.attempts-1 {
			backoff := e.backoff * (1 << attempt)
			slog.Debug("retrying event delivery",
				"url", url,
				"backoff", backoff,
				"attempt", attempt+1,
				"attempts", e.attempts)
			if err := e.sleep(ctx, backoff); err != nil {
				return false
			}
		}
	}
	slog.Error("failed to deliver event", "url", url, "attempts", e.attempts)
	return false
}

func (e *Emitter) post(ctx context.Context, url string, body []byte, deliveryID string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build webhook request", "url", url, "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := e.client.Do(req)
	if err != nil {
		slog.Error("failed to post webhook", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		slog.Warn("webhook returned error status", "url", url, "status", resp.StatusCode)
		return false
	}
	return true
}

type treasuryData struct {
	Addresses []string                          `json:"addresses"`
	Inputs    []domain.MatchedInput             `json:"inputs"`
	Outputs   []domain.MatchedOutput            `json:"outputs"`
	Enriched  []domain.EnrichedAddress          `json:"enriched_addresses"`
	Entities  []domain.EntityActivity           `json:"entities"`
	Summary   map[string]domain.CategorySummary `json:"summary"`
}

type ordinalData struct {
	Inscriptions []domain.Inscription  `json:"inscriptions"`
	Hotspots     []domain.HotspotMatch `json:"hotspots"`
}

type covenantData struct {
	Patterns []string `json:"patterns"`
}

type blockData struct {
	BlockHash string `json:"block_hash"`
	TxCount   int    `json:"tx_count"`
	Reorg     bool   `json:"reorg"`
}

// EmitTreasury emits a treasury movement event typed by direction.
// An unmatched or untyped result emits nothing.
func (e *Emitter) EmitTreasury(ctx context.Context, result domain.TreasuryResult, txid string, height int64) bool {
	var eventType string
	switch result.Type {
	case "spend":
		eventType = "treasury_utxo_spent"
	case "receive":
		eventType = "treasury_utxo_received"
	case "both":
		eventType = "treasury_utxo_both"
	default:
		return false
	}

	data := treasuryData{
		Addresses: result.Addresses,
		Inputs:    result.Inputs,
		Outputs:   result.Outputs,
		Enriched:  result.Enriched,
		Entities:  result.Entities,
		Summary:   result.Summary,
	}
	return e.Emit(ctx, eventType, data, txid, &height)
}

// EmitOrdinal emits an inscription event.
func (e *Emitter) EmitOrdinal(ctx context.Context, result domain.OrdinalResult, txid string, height int64) bool {
	data := ordinalData{
		Inscriptions: result.Inscriptions,
		Hotspots:     result.Hotspots,
	}
	return e.Emit(ctx, "ordinal_inscription", data, txid, &height)
}

// EmitCovenant emits a covenant flow event.
func (e *Emitter) EmitCovenant(ctx context.Context, result domain.CovenantResult, txid string, height int64) bool {
	return e.Emit(ctx, "covenant_flow", covenantData{Patterns: result.Patterns}, txid, &height)
}

// EmitBlock emits a block confirmation, or a reorg notice when the
// block replaces previously processed history.
func (e *Emitter) EmitBlock(ctx context.Context, height int64, hash string, txCount int, reorg bool) bool {
	eventType := "block_confirmed"
	if reorg {
		eventType = "reorg_detected"
	}
	data := blockData{BlockHash: hash, TxCount: txCount, Reorg: reorg}
	return e.Emit(ctx, eventType, data, "", &height)
}
