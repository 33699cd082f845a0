package runner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/satwatch/satwatch/internal/core/domain"
	"github.com/satwatch/satwatch/internal/indexing/metrics"
	"github.com/satwatch/satwatch/internal/indexing/monitor"
	"github.com/satwatch/satwatch/internal/infra/rpc"
	"github.com/satwatch/satwatch/internal/infra/storage"
	"github.com/satwatch/satwatch/internal/infra/storage/jsonfile"
)

type nextResp struct {
	next *monitor.Next
	err  error
}

type fakeBlocks struct {
	nexts  []nextResp
	blocks map[string]*btcjson.GetBlockVerboseResult
}

func (b *fakeBlocks) GetNewBlocks(ctx context.Context) (*monitor.Next, error) {
	if len(b.nexts) == 0 {
		return nil, nil
	}
	r := b.nexts[0]
	b.nexts = b.nexts[1:]
	return r.next, r.err
}

func (b *fakeBlocks) ProcessBlock(ctx context.Context, height int64, hash string) (*btcjson.GetBlockVerboseResult, error) {
	block, ok := b.blocks[hash]
	if !ok {
		return nil, errors.New("unknown block")
	}
	return block, nil
}

type fakeFilter struct {
	results map[string]domain.FilterResult
	calls   []string
}

func (f *fakeFilter) FilterTransaction(ctx context.Context, txid, blockHash string) domain.FilterResult {
	f.calls = append(f.calls, txid)
	if r, ok := f.results[txid]; ok {
		return r
	}
	return domain.FilterResult{Txid: txid}
}

type emitCall struct {
	kind    string
	txid    string
	height  int64
	txCount int
	reorg   bool
}

type fakeEvents struct {
	calls []emitCall
}

func (e *fakeEvents) EmitBlock(ctx context.Context, height int64, hash string, txCount int, reorg bool) bool {
	e.calls = append(e.calls, emitCall{kind: "block", height: height, txCount: txCount, reorg: reorg})
	return true
}

func (e *fakeEvents) EmitTreasury(ctx context.Context, result domain.TreasuryResult, txid string, height int64) bool {
	e.calls = append(e.calls, emitCall{kind: "treasury", txid: txid, height: height})
	return true
}

func (e *fakeEvents) EmitOrdinal(ctx context.Context, result domain.OrdinalResult, txid string, height int64) bool {
	e.calls = append(e.calls, emitCall{kind: "ordinal", txid: txid, height: height})
	return true
}

func (e *fakeEvents) EmitCovenant(ctx context.Context, result domain.CovenantResult, txid string, height int64) bool {
	e.calls = append(e.calls, emitCall{kind: "covenant", txid: txid, height: height})
	return true
}

type markCall struct {
	txid      string
	eventType string
}

type recordingStore struct {
	storage.Store
	marks []markCall
}

func (s *recordingStore) MarkTransactionProcessed(ctx context.Context, txid string, height int64, hash, eventType string) error {
	s.marks = append(s.marks, markCall{txid: txid, eventType: eventType})
	return s.Store.MarkTransactionProcessed(ctx, txid, height, hash, eventType)
}

type fakeSummaries struct {
	records []any
}

func (r *fakeSummaries) RecordBlockSummary(record any) error {
	r.records = append(r.records, record)
	return nil
}

func newTestStore(t *testing.T) *recordingStore {
	t.Helper()
	inner, err := jsonfile.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { inner.Close() })
	return &recordingStore{Store: inner}
}

func matched(txid string, treasury, ordinal, covenant bool) domain.FilterResult {
	r := domain.FilterResult{Txid: txid}
	if treasury {
		r.Treasury = domain.TreasuryResult{Matched: true, Type: "receive"}
	}
	if ordinal {
		r.Ordinal = domain.OrdinalResult{Matched: true}
	}
	if covenant {
		r.Covenant = domain.CovenantResult{Matched: true, Patterns: []string{"OP_CHECKTEMPLATEVERIFY"}}
	}
	r.Matched = treasury || ordinal || covenant
	return r
}

func TestRunner_RunOnceNothingNew(t *testing.T) {
	blocks := &fakeBlocks{}
	events := &fakeEvents{}
	r := New(blocks, newTestStore(t), &fakeFilter{}, events, metrics.New(), nil, Config{})

	result, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed {
		t.Error("nothing to process, result.Processed should be false")
	}
	if len(events.calls) != 0 {
		t.Errorf("no events expected, got %v", events.calls)
	}
}

func TestRunner_ProcessesBlockAndEmitsPerCategory(t *testing.T) {
	blocks := &fakeBlocks{
		nexts: []nextResp{{next: &monitor.Next{Height: 100, Hash: "h100"}}},
		blocks: map[string]*btcjson.GetBlockVerboseResult{
			"h100": {Hash: "h100", Height: 100, Tx: []string{"tx1", "tx2", "tx3"}},
		},
	}
	filter := &fakeFilter{results: map[string]domain.FilterResult{
		"tx1": matched("tx1", true, false, true),
		"tx3": matched("tx3", false, true, false),
	}}
	events := &fakeEvents{}
	store := newTestStore(t)
	counters := metrics.New()
	r := New(blocks, store, filter, events, counters, nil, Config{})

	result, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Processed || result.Height != 100 {
		t.Fatalf("result = %+v", result)
	}

	want := []emitCall{
		{kind: "block", height: 100, txCount: 3},
		{kind: "treasury", txid: "tx1", height: 100},
		{kind: "covenant", txid: "tx1", height: 100},
		{kind: "ordinal", txid: "tx3", height: 100},
	}
	if len(events.calls) != len(want) {
		t.Fatalf("calls = %+v", events.calls)
	}
	for i, w := range want {
		if events.calls[i] != w {
			t.Errorf("call[%d] = %+v, want %+v", i, events.calls[i], w)
		}
	}

	// tx1 matched treasury and covenant; the recorded type is the
	// higher-priority treasury. tx2 is recorded with no type.
	wantMarks := []markCall{
		{txid: "tx1", eventType: "treasury"},
		{txid: "tx2", eventType: ""},
		{txid: "tx3", eventType: "ordinal"},
	}
	if len(store.marks) != len(wantMarks) {
		t.Fatalf("marks = %+v", store.marks)
	}
	for i, w := range wantMarks {
		if store.marks[i] != w {
			t.Errorf("mark[%d] = %+v, want %+v", i, store.marks[i], w)
		}
	}

	s := counters.Snapshot()
	if s.BlocksProcessed != 1 || s.TransactionsFiltered != 3 || s.EventsEmitted != 3 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.TreasuryMatches != 1 || s.OrdinalMatches != 1 || s.CovenantMatches != 1 {
		t.Errorf("match counters = %+v", s)
	}
	if s.ReorgsDetected != 0 {
		t.Errorf("reorgs = %d, want 0", s.ReorgsDetected)
	}
}

func TestRunner_SkipsProcessedTransactions(t *testing.T) {
	blocks := &fakeBlocks{
		nexts: []nextResp{{next: &monitor.Next{Height: 100, Hash: "h100"}}},
		blocks: map[string]*btcjson.GetBlockVerboseResult{
			"h100": {Tx: []string{"tx1", "tx2"}},
		},
	}
	filter := &fakeFilter{}
	store := newTestStore(t)
	if err := store.Store.MarkTransactionProcessed(context.Background(), "tx1", 100, "h100", "treasury"); err != nil {
		t.Fatal(err)
	}
	r := New(blocks, store, filter, &fakeEvents{}, metrics.New(), nil, Config{})

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(filter.calls) != 1 || filter.calls[0] != "tx2" {
		t.Errorf("filter calls = %v, want only tx2", filter.calls)
	}
}

func TestRunner_ReorgBlock(t *testing.T) {
	blocks := &fakeBlocks{
		nexts: []nextResp{{next: &monitor.Next{Height: 99, Hash: "h99b", Reorg: true}}},
		blocks: map[string]*btcjson.GetBlockVerboseResult{
			"h99b": {Tx: []string{"tx1"}},
		},
	}
	events := &fakeEvents{}
	counters := metrics.New()
	r := New(blocks, newTestStore(t), &fakeFilter{}, events, counters, nil, Config{})

	result, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Reorg {
		t.Error("result.Reorg = false")
	}
	if events.calls[0].kind != "block" || !events.calls[0].reorg {
		t.Errorf("block event = %+v, want reorg flag", events.calls[0])
	}
	if counters.Snapshot().ReorgsDetected != 1 {
		t.Error("reorgs counter not incremented")
	}
}

func TestRunner_RecordsBlockSummary(t *testing.T) {
	blocks := &fakeBlocks{
		nexts: []nextResp{{next: &monitor.Next{Height: 100, Hash: "h100"}}},
		blocks: map[string]*btcjson.GetBlockVerboseResult{
			"h100": {Tx: []string{"tx1", "tx2"}},
		},
	}
	filter := &fakeFilter{results: map[string]domain.FilterResult{
		"tx1": matched("tx1", true, false, false),
	}}
	summaries := &fakeSummaries{}
	r := New(blocks, newTestStore(t), filter, &fakeEvents{}, metrics.New(), summaries, Config{})

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(summaries.records) != 1 {
		t.Fatalf("records = %d, want 1", len(summaries.records))
	}
	summary := summaries.records[0].(blockSummary)
	if summary.Type != "block_summary" || summary.Height != 100 || summary.TxCount != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.EventsEmitted != 1 || summary.Metrics.TreasuryMatches != 1 {
		t.Errorf("summary metrics = %+v", summary)
	}
	if summary.Timestamp == "" {
		t.Error("summary missing timestamp")
	}
}

func TestRunner_RunSleepsWhenIdle(t *testing.T) {
	blocks := &fakeBlocks{}
	r := New(blocks, newTestStore(t), &fakeFilter{}, &fakeEvents{}, metrics.New(), nil, Config{
		PollInterval: 7 * time.Second,
	})

	var slept []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		cancel()
		return context.Canceled
	}

	err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(slept) != 1 || slept[0] != 7*time.Second {
		t.Errorf("slept = %v, want [7s]", slept)
	}
}

func TestRunner_RunUsesConnectionRetryDelayWhenUnreachable(t *testing.T) {
	blocks := &fakeBlocks{
		nexts: []nextResp{{err: &rpc.TransportError{Err: errors.New("connection refused")}}},
	}
	r := New(blocks, newTestStore(t), &fakeFilter{}, &fakeEvents{}, metrics.New(), nil, Config{
		PollInterval:         5 * time.Second,
		ConnectionRetryDelay: 12 * time.Second,
	})

	var slept []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		if len(slept) == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}

	err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	// First cycle hits the unreachable node, second is a quiet poll.
	if len(slept) != 2 || slept[0] != 12*time.Second || slept[1] != 5*time.Second {
		t.Errorf("slept = %v, want [12s 5s]", slept)
	}
}

func TestRunner_RunRecoversFromCycleError(t *testing.T) {
	blocks := &fakeBlocks{
		nexts: []nextResp{
			{err: errors.New("unexpected rpc failure")},
			{next: &monitor.Next{Height: 100, Hash: "h100"}},
		},
		blocks: map[string]*btcjson.GetBlockVerboseResult{
			"h100": {Tx: []string{}},
		},
	}
	counters := metrics.New()
	r := New(blocks, newTestStore(t), &fakeFilter{}, &fakeEvents{}, counters, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		// After the error backoff the next cycle processes a block,
		// then the idle sleep ends the test.
		if counters.Snapshot().BlocksProcessed > 0 {
			cancel()
			return context.Canceled
		}
		return nil
	}

	err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if counters.Snapshot().BlocksProcessed != 1 {
		t.Errorf("blocks processed = %d, want 1", counters.Snapshot().BlocksProcessed)
	}
}

func TestRunner_DoubleStartRejected(t *testing.T) {
	r := New(&fakeBlocks{}, newTestStore(t), &fakeFilter{}, &fakeEvents{}, metrics.New(), nil, Config{})
	r.running.Store(true)

	if err := r.Run(context.Background()); err == nil {
		t.Error("second Run should be rejected")
	}
}

func TestRunner_StateTransitions(t *testing.T) {
	blocks := &fakeBlocks{
		nexts: []nextResp{{next: &monitor.Next{Height: 1, Hash: "h1"}}},
		blocks: map[string]*btcjson.GetBlockVerboseResult{
			"h1": {Tx: []string{}},
		},
	}
	r := New(blocks, newTestStore(t), &fakeFilter{}, &fakeEvents{}, metrics.New(), nil, Config{})

	if r.State() != StateIdle {
		t.Errorf("initial state = %q", r.State())
	}
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateIdle {
		t.Errorf("state after cycle = %q, want idle", r.State())
	}
}

type fakeLiveness struct {
	beats []int64
	fails []error
}

func (l *fakeLiveness) Beat(height int64) { l.beats = append(l.beats, height) }
func (l *fakeLiveness) Fail(err error)    { l.fails = append(l.fails, err) }

func TestRunner_FeedsLiveness(t *testing.T) {
	blocks := &fakeBlocks{
		nexts: []nextResp{
			{next: &monitor.Next{Height: 100, Hash: "h100"}},
			{err: errors.New("unexpected rpc failure")},
		},
		blocks: map[string]*btcjson.GetBlockVerboseResult{
			"h100": {Tx: []string{}},
		},
	}
	r := New(blocks, newTestStore(t), &fakeFilter{}, &fakeEvents{}, metrics.New(), nil, Config{})
	live := &fakeLiveness{}
	r.SetLiveness(live)

	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		// The error cycle reaches the backoff sleep after the processed
		// block and the failure have both been reported.
		cancel()
		return context.Canceled
	}

	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(live.beats) != 1 || live.beats[0] != 100 {
		t.Errorf("beats = %v, want [100]", live.beats)
	}
	if len(live.fails) != 1 {
		t.Errorf("fails = %v, want one", live.fails)
	}
}
