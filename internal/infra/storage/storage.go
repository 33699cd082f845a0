// Package storage defines the persistence contract for processed chain state.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record doesn't exist
var ErrNotFound = errors.New("record not found")

// Store is the durable, idempotent record of processed blocks and
// transactions. Implementations must be safe for sequential use from a
// single stream and must pass the storagetest conformance suite.
type Store interface {
	// GetLastHeight returns the last processed block height.
	// Returns ErrNotFound when no block has been recorded.
	GetLastHeight(ctx context.Context) (int64, error)

	// MarkBlockProcessed records a block as processed. A later call at
	// the same height overwrites the stored hash (reorg replacement).
	MarkBlockProcessed(ctx context.Context, height int64, hash string) error

	// IsTransactionProcessed reports whether txid has been recorded.
	IsTransactionProcessed(ctx context.Context, txid string) (bool, error)

	// MarkTransactionProcessed records a transaction as processed.
	// eventType is empty for transactions that matched no pattern.
	MarkTransactionProcessed(ctx context.Context, txid string, height int64, hash, eventType string) error

	// GetBlockHash returns the stored hash for height.
	// Returns ErrNotFound when the height has no record.
	GetBlockHash(ctx context.Context, height int64) (string, error)

	// RollbackFromHeight atomically removes every block with height >= h
	// and the transactions recorded against the removed blocks.
	RollbackFromHeight(ctx context.Context, h int64) error

	// Close releases underlying resources.
	Close() error
}
