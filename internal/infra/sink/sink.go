// Package sink appends structured JSONL records that downstream tools can
// ingest into relational or analytical stores.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	eventsFile       = "events.jsonl"
	blocksFile       = "blocks.jsonl"
	feeAlertsFile    = "fee_alerts.jsonl"
	feeSnapshotsFile = "fee_snapshots.jsonl"
)

// Writer appends records to per-stream JSONL files under a base directory.
// Each record becomes exactly one line, so concurrent producers never
// corrupt each other's output.
type Writer struct {
	mu    sync.Mutex
	dir   string
	files map[string]*os.File
}

// Open prepares a writer rooted at dir, creating it if needed. Stream
// files are opened lazily on first write.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Writer{dir: dir, files: make(map[string]*os.File)}, nil
}

func (w *Writer) append(name string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	data = withTimestamp(data)

	w.mu.Lock()
	defer w.mu.Unlock()

	f, ok := w.files[name]
	if !ok {
		f, err = os.OpenFile(filepath.Join(w.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		w.files[name] = f
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	return nil
}

// withTimestamp injects a timestamp for downstream consumers when the
// record carries neither a "timestamp" nor a "ts" field. Non-object
// records pass through untouched.
func withTimestamp(data []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return data
	}
	if _, ok := obj["timestamp"]; ok {
		return data
	}
	if _, ok := obj["ts"]; ok {
		return data
	}

	obj["timestamp"] = json.RawMessage(strconv.Quote(time.Now().UTC().Format(time.RFC3339)))
	out, err := json.Marshal(obj)
	if err != nil {
		return data
	}
	return out
}

// RecordEvent appends a blockchain event envelope.
func (w *Writer) RecordEvent(record any) error {
	return w.append(eventsFile, record)
}

// RecordBlockSummary appends a per-block processing summary.
func (w *Writer) RecordBlockSummary(record any) error {
	return w.append(blocksFile, record)
}

// RecordFeeAlert appends a fee bucket change or consolidation alert.
func (w *Writer) RecordFeeAlert(record any) error {
	return w.append(feeAlertsFile, record)
}

// RecordFeeSnapshot appends a periodic fee snapshot.
func (w *Writer) RecordFeeSnapshot(record any) error {
	return w.append(feeSnapshotsFile, record)
}

// Close closes every opened stream file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for _, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.files = make(map[string]*os.File)
	return firstErr
}
