package emitter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/satwatch/satwatch/internal/core/domain"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []any
	err     error
	onWrite func()
}

func (r *fakeRecorder) RecordEvent(record any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onWrite != nil {
		r.onWrite()
	}
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

func noSleep(durations *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*durations = append(*durations, d)
		return nil
	}
}

func TestEmitter_EnvelopeShape(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := New(Config{WebhookURLs: []string{server.URL}, RetryAttempts: 1, RetryBackoffSecs: 1}, nil)

	ok := e.EmitBlock(context.Background(), 850000, "00000000abc", 2500, false)
	if !ok {
		t.Fatal("emit failed")
	}

	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if _, err := uuid.Parse(gotHeaders.Get("X-Delivery-ID")); err != nil {
		t.Errorf("X-Delivery-ID not a uuid: %v", err)
	}

	var env map[string]any
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatal(err)
	}
	if env["type"] != "block_confirmed" {
		t.Errorf("type = %v", env["type"])
	}
	if env["block_height"] != float64(850000) {
		t.Errorf("block_height = %v", env["block_height"])
	}
	if _, present := env["txid"]; present {
		t.Error("block events must not carry a txid")
	}

	ts, ok := env["timestamp"].(string)
	if !ok {
		t.Fatalf("timestamp missing: %v", env)
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("timestamp %q not RFC 3339: %v", ts, err)
	}
	if parsed.Location() != time.UTC {
		t.Errorf("timestamp %q not UTC", ts)
	}

	data, ok := env["data"].(map[string]any)
	if !ok {
		t.Fatalf("data missing: %v", env)
	}
	if data["block_hash"] != "00000000abc" || data["tx_count"] != float64(2500) || data["reorg"] != false {
		t.Errorf("data = %v", data)
	}
}

func TestEmitter_NoEndpointsIsTriviallySuccessful(t *testing.T) {
	recorder := &fakeRecorder{}
	e := New(Config{RetryAttempts: 3, RetryBackoffSecs: 5}, recorder)

	ok := e.Emit(context.Background(), "covenant_flow", covenantData{Patterns: []string{"x"}}, "tx1", nil)
	if !ok {
		t.Error("emit with zero endpoints must succeed")
	}
	if len(recorder.records) != 1 {
		t.Fatalf("records = %d, want 1", len(recorder.records))
	}
	env := recorder.records[0].(Envelope)
	if env.Type != "covenant_flow" || env.Txid != "tx1" || env.BlockHeight != nil {
		t.Errorf("envelope = %+v", env)
	}
}

func TestEmitter_RecordsBeforeDelivery(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, "webhook")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := &fakeRecorder{onWrite: func() {
		mu.Lock()
		order = append(order, "stream")
		mu.Unlock()
	}}
	e := New(Config{WebhookURLs: []string{server.URL}, RetryAttempts: 1}, recorder)

	e.EmitBlock(context.Background(), 1, "hash", 0, false)

	if len(order) != 2 || order[0] != "stream" || order[1] != "webhook" {
		t.Errorf("order = %v, want [stream webhook]", order)
	}
}

func TestEmitter_RecorderFailureDoesNotBlockDelivery(t *testing.T) {
	delivered := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := &fakeRecorder{err: io.ErrClosedPipe}
	e := New(Config{WebhookURLs: []string{server.URL}, RetryAttempts: 1}, recorder)

	if !e.EmitBlock(context.Background(), 1, "hash", 0, false) {
		t.Error("emit should succeed despite recorder failure")
	}
	if !delivered {
		t.Error("webhook delivery should still happen")
	}
}

func TestEmitter_BackoffSchedule(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := New(Config{WebhookURLs: []string{server.URL}, RetryAttempts: 3, RetryBackoffSecs: 5}, nil)
	var slept []time.Duration
	e.sleep = noSleep(&slept)

	ok := e.EmitBlock(context.Background(), 1, "hash", 0, false)
	if ok {
		t.Error("emit should fail when every attempt is rejected")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestEmitter_DeliveryIDStableAcrossRetries(t *testing.T) {
	var ids []string
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get("X-Delivery-ID"))
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := New(Config{WebhookURLs: []string{server.URL}, RetryAttempts: 2, RetryBackoffSecs: 1}, nil)
	var slept []time.Duration
	e.sleep = noSleep(&slept)

	if !e.EmitBlock(context.Background(), 1, "hash", 0, false) {
		t.Fatal("second attempt should succeed")
	}
	if len(ids) != 2 || ids[0] != ids[1] {
		t.Errorf("delivery ids = %v, want the same id on both attempts", ids)
	}
}

func TestEmitter_OneEndpointSucceedingIsEnough(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	e := New(Config{WebhookURLs: []string{bad.URL, good.URL}, RetryAttempts: 1}, nil)

	if !e.EmitBlock(context.Background(), 1, "hash", 0, false) {
		t.Error("one healthy endpoint should make the emit succeed")
	}
}

func TestEmitter_StatusBelow400IsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(399)
	}))
	defer server.Close()

	e := New(Config{WebhookURLs: []string{server.URL}, RetryAttempts: 1}, nil)
	if !e.EmitBlock(context.Background(), 1, "hash", 0, false) {
		t.Error("status 399 should count as delivered")
	}
}

func TestEmitter_ContextCancelStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := New(Config{WebhookURLs: []string{server.URL}, RetryAttempts: 5, RetryBackoffSecs: 1}, nil)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	if e.EmitBlock(context.Background(), 1, "hash", 0, false) {
		t.Error("canceled backoff should abort delivery")
	}
}

func TestEmitter_TreasuryTypeMapping(t *testing.T) {
	tests := []struct {
		direction string
		eventType string
	}{
		{"spend", "treasury_utxo_spent"},
		{"receive", "treasury_utxo_received"},
		{"both", "treasury_utxo_both"},
	}

	for _, tt := range tests {
		t.Run(tt.direction, func(t *testing.T) {
			recorder := &fakeRecorder{}
			e := New(Config{}, recorder)

			result := domain.TreasuryResult{Matched: true, Type: tt.direction}
			if !e.EmitTreasury(context.Background(), result, "tx1", 800000) {
				t.Fatal("emit failed")
			}

			env := recorder.records[0].(Envelope)
			if env.Type != tt.eventType {
				t.Errorf("type = %q, want %q", env.Type, tt.eventType)
			}
			if env.Txid != "tx1" || env.BlockHeight == nil || *env.BlockHeight != 800000 {
				t.Errorf("envelope = %+v", env)
			}
		})
	}
}

func TestEmitter_TreasuryUntypedResultIsDropped(t *testing.T) {
	recorder := &fakeRecorder{}
	e := New(Config{}, recorder)

	if e.EmitTreasury(context.Background(), domain.TreasuryResult{}, "tx1", 1) {
		t.Error("untyped treasury result must not emit")
	}
	if len(recorder.records) != 0 {
		t.Errorf("records = %v, want none", recorder.records)
	}
}

func TestEmitter_OrdinalAndCovenantTypes(t *testing.T) {
	recorder := &fakeRecorder{}
	e := New(Config{}, recorder)

	e.EmitOrdinal(context.Background(), domain.OrdinalResult{Matched: true}, "tx1", 10)
	e.EmitCovenant(context.Background(), domain.CovenantResult{Matched: true, Patterns: []string{"OP_CHECKTEMPLATEVERIFY"}}, "tx2", 10)

	if len(recorder.records) != 2 {
		t.Fatalf("records = %d, want 2", len(recorder.records))
	}
	if recorder.records[0].(Envelope).Type != "ordinal_inscription" {
		t.Errorf("first = %+v", recorder.records[0])
	}
	if recorder.records[1].(Envelope).Type != "covenant_flow" {
		t.Errorf("second = %+v", recorder.records[1])
	}
}

func TestEmitter_ReorgBlockEvent(t *testing.T) {
	recorder := &fakeRecorder{}
	e := New(Config{}, recorder)

	e.EmitBlock(context.Background(), 799999, "newhash", 1800, true)

	env := recorder.records[0].(Envelope)
	if env.Type != "reorg_detected" {
		t.Errorf("type = %q", env.Type)
	}
	data := env.Data.(blockData)
	if !data.Reorg || data.BlockHash != "newhash" {
		t.Errorf("data = %+v", data)
	}
}

func TestConfig_EndpointsMergesSingularURL(t *testing.T) {
	cfg := Config{
		WebhookURL:  "https://hooks.example/a",
		WebhookURLs: []string{"https://hooks.example/b", "https://hooks.example/a", ""},
	}
	got := cfg.Endpoints()
	want := []string{"https://hooks.example/a", "https://hooks.example/b"}
	if len(got) != len(want) {
		t.Fatalf("endpoints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("endpoints[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
