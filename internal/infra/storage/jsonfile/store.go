// Package jsonfile implements the storage contract as a single JSON document
// rewritten on every mutation.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/satwatch/satwatch/internal/infra/storage"
)

type blockRecord struct {
	Hash        string `json:"hash"`
	ProcessedAt string `json:"processed_at"`
}

type txRecord struct {
	BlockHeight int64   `json:"block_height"`
	BlockHash   string  `json:"block_hash"`
	ProcessedAt string  `json:"processed_at"`
	EventType   *string `json:"event_type"`
}

type document struct {
	Blocks       map[string]blockRecord `json:"blocks"`
	Transactions map[string]txRecord    `json:"transactions"`
	LastHeight   *int64                 `json:"last_height"`
}

// Store keeps the whole state in memory and persists it with a
// write-temp-then-rename on each change, so the on-disk document is
// always a complete snapshot.
type Store struct {
	mu    sync.Mutex
	path  string
	state document
}

// Open loads the document at path, creating an empty one if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.state = document{
			Blocks:       make(map[string]blockRecord),
			Transactions: make(map[string]txRecord),
		}
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	if s.state.Blocks == nil {
		s.state.Blocks = make(map[string]blockRecord)
	}
	if s.state.Transactions == nil {
		s.state.Transactions = make(map[string]txRecord)
	}
	return s, nil
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *Store) GetLastHeight(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.LastHeight == nil {
		return 0, storage.ErrNotFound
	}
	return *s.state.LastHeight, nil
}

func (s *Store) MarkBlockProcessed(ctx context.Context, height int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Blocks[heightKey(height)] = blockRecord{Hash: hash, ProcessedAt: now()}
	h := height
	s.state.LastHeight = &h
	return s.persist()
}

func (s *Store) IsTransactionProcessed(ctx context.Context, txid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.state.Transactions[txid]
	return ok, nil
}

func (s *Store) MarkTransactionProcessed(ctx context.Context, txid string, height int64, hash, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := txRecord{BlockHeight: height, BlockHash: hash, ProcessedAt: now()}
	if eventType != "" {
		rec.EventType = &eventType
	}
	s.state.Transactions[txid] = rec
	return s.persist()
}

func (s *Store) GetBlockHash(ctx context.Context, height int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.state.Blocks[heightKey(height)]
	if !ok {
		return "", storage.ErrNotFound
	}
	return rec.Hash, nil
}

// RollbackFromHeight removes blocks at height >= h and the transactions
// recorded against their hashes, then recomputes the last height from
// what remains. The document is persisted once, after all removals.
func (s *Store) RollbackFromHeight(ctx context.Context, h int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removedHashes := make(map[string]bool)
	for key, rec := range s.state.Blocks {
		height, err := strconv.ParseInt(key, 10, 64)
		if err != nil || height < h {
			continue
		}
		removedHashes[rec.Hash] = true
		delete(s.state.Blocks, key)
	}

	for txid, rec := range s.state.Transactions {
		if removedHashes[rec.BlockHash] {
			delete(s.state.Transactions, txid)
		}
	}

	s.state.LastHeight = nil
	for key := range s.state.Blocks {
		height, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		if s.state.LastHeight == nil || height > *s.state.LastHeight {
			hh := height
			s.state.LastHeight = &hh
		}
	}

	return s.persist()
}

func (s *Store) Close() error {
	return nil
}

func heightKey(height int64) string {
	return strconv.FormatInt(height, 10)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
