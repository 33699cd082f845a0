package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(records)+1, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	return records
}

func TestWriter_StreamsAreSeparateFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.RecordEvent(map[string]any{"type": "block_confirmed", "height": 100}); err != nil {
		t.Fatal(err)
	}
	if err := w.RecordEvent(map[string]any{"type": "reorg_detected", "height": 99}); err != nil {
		t.Fatal(err)
	}
	if err := w.RecordFeeSnapshot(map[string]any{"p50": 12}); err != nil {
		t.Fatal(err)
	}

	events := readLines(t, filepath.Join(dir, "events.jsonl"))
	if len(events) != 2 {
		t.Fatalf("events.jsonl has %d records, want 2", len(events))
	}
	if events[0]["type"] != "block_confirmed" || events[1]["type"] != "reorg_detected" {
		t.Errorf("unexpected event order: %v", events)
	}

	snapshots := readLines(t, filepath.Join(dir, "fee_snapshots.jsonl"))
	if len(snapshots) != 1 || snapshots[0]["p50"] != float64(12) {
		t.Errorf("unexpected snapshots: %v", snapshots)
	}

	if _, err := os.Stat(filepath.Join(dir, "blocks.jsonl")); !os.IsNotExist(err) {
		t.Error("blocks.jsonl should not exist before first block summary")
	}
}

func TestWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.RecordBlockSummary(map[string]any{"height": 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.RecordBlockSummary(map[string]any{"height": 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	blocks := readLines(t, filepath.Join(dir, "blocks.jsonl"))
	if len(blocks) != 2 {
		t.Fatalf("blocks.jsonl has %d records, want 2", len(blocks))
	}
	if blocks[1]["height"] != float64(2) {
		t.Errorf("second record = %v", blocks[1])
	}
}

func TestWriter_AddsTimestampWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.RecordFeeAlert(map[string]any{"type": "fee_spike"}); err != nil {
		t.Fatal(err)
	}
	if err := w.RecordFeeAlert(map[string]any{"type": "fee_spike", "timestamp": "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	if err := w.RecordFeeAlert(map[string]any{"type": "fee_spike", "ts": 1700000000}); err != nil {
		t.Fatal(err)
	}

	alerts := readLines(t, filepath.Join(dir, "fee_alerts.jsonl"))
	if len(alerts) != 3 {
		t.Fatalf("got %d records, want 3", len(alerts))
	}

	injected, ok := alerts[0]["timestamp"].(string)
	if !ok {
		t.Fatalf("first record has no injected timestamp: %v", alerts[0])
	}
	if _, err := time.Parse(time.RFC3339, injected); err != nil {
		t.Errorf("injected timestamp %q is not RFC3339: %v", injected, err)
	}

	if alerts[1]["timestamp"] != "2024-01-01T00:00:00Z" {
		t.Errorf("existing timestamp was rewritten: %v", alerts[1])
	}
	if _, ok := alerts[2]["timestamp"]; ok {
		t.Errorf("record with ts field gained a timestamp: %v", alerts[2])
	}
}

func TestWriter_ConcurrentRecordsStayIntact(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := w.RecordEvent(map[string]any{"worker": id, "seq": j}); err != nil {
					t.Errorf("worker %d: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	events := readLines(t, filepath.Join(dir, "events.jsonl"))
	if len(events) != workers*perWorker {
		t.Fatalf("got %d records, want %d", len(events), workers*perWorker)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("output dir not created: %v", err)
	}
}
