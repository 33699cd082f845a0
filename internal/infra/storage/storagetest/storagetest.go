// Package storagetest holds the conformance suite shared by every
// storage backend. Each backend's own test file supplies a factory and
// calls Run.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/satwatch/satwatch/internal/infra/storage"
)

// Factory opens a fresh, empty store for one subtest. Cleanup is the
// caller's responsibility via t.Cleanup.
type Factory func(t *testing.T) storage.Store

// Run exercises the full storage contract against the given factory.
func Run(t *testing.T, open Factory) {
	ctx := context.Background()

	t.Run("EmptyStoreHasNoLastHeight", func(t *testing.T) {
		store := open(t)

		_, err := store.GetLastHeight(ctx)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound on empty store, got %v", err)
		}
	})

	t.Run("MarkBlockAdvancesLastHeight", func(t *testing.T) {
		store := open(t)

		if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
			t.Fatalf("mark block: %v", err)
		}
		if err := store.MarkBlockProcessed(ctx, 101, "hashB"); err != nil {
			t.Fatalf("mark block: %v", err)
		}

		height, err := store.GetLastHeight(ctx)
		if err != nil {
			t.Fatalf("get last height: %v", err)
		}
		if height != 101 {
			t.Errorf("expected last height 101, got %d", height)
		}
	})

	t.Run("SameHeightOverwritesHash", func(t *testing.T) {
		store := open(t)

		if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
			t.Fatalf("mark block: %v", err)
		}
		if err := store.MarkBlockProcessed(ctx, 100, "hashA2"); err != nil {
			t.Fatalf("remark block: %v", err)
		}

		hash, err := store.GetBlockHash(ctx, 100)
		if err != nil {
			t.Fatalf("get block hash: %v", err)
		}
		if hash != "hashA2" {
			t.Errorf("expected overwritten hash hashA2, got %s", hash)
		}
	})

	t.Run("GetBlockHashUnknownHeight", func(t *testing.T) {
		store := open(t)

		if _, err := store.GetBlockHash(ctx, 42); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown height, got %v", err)
		}
	})

	t.Run("TransactionIdempotency", func(t *testing.T) {
		store := open(t)

		processed, err := store.IsTransactionProcessed(ctx, "tx1")
		if err != nil {
			t.Fatalf("is processed: %v", err)
		}
		if processed {
			t.Error("unseen transaction reported processed")
		}

		if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
			t.Fatalf("mark block: %v", err)
		}
		if err := store.MarkTransactionProcessed(ctx, "tx1", 100, "hashA", "treasury"); err != nil {
			t.Fatalf("mark transaction: %v", err)
		}
		// Re-marking the same txid must not fail.
		if err := store.MarkTransactionProcessed(ctx, "tx1", 100, "hashA", "treasury"); err != nil {
			t.Fatalf("remark transaction: %v", err)
		}

		processed, err = store.IsTransactionProcessed(ctx, "tx1")
		if err != nil {
			t.Fatalf("is processed: %v", err)
		}
		if !processed {
			t.Error("marked transaction not reported processed")
		}
	})

	t.Run("UnmatchedTransactionKeepsEmptyEventType", func(t *testing.T) {
		store := open(t)

		if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
			t.Fatalf("mark block: %v", err)
		}
		if err := store.MarkTransactionProcessed(ctx, "txnone", 100, "hashA", ""); err != nil {
			t.Fatalf("mark transaction without event type: %v", err)
		}

		processed, err := store.IsTransactionProcessed(ctx, "txnone")
		if err != nil {
			t.Fatalf("is processed: %v", err)
		}
		if !processed {
			t.Error("transaction with empty event type not reported processed")
		}
	})

	t.Run("RollbackRemovesBlocksAndTheirTransactions", func(t *testing.T) {
		store := open(t)

		if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
			t.Fatalf("mark block: %v", err)
		}
		if err := store.MarkBlockProcessed(ctx, 101, "hashB"); err != nil {
			t.Fatalf("mark block: %v", err)
		}
		if err := store.MarkTransactionProcessed(ctx, "txA", 100, "hashA", ""); err != nil {
			t.Fatalf("mark transaction: %v", err)
		}
		if err := store.MarkTransactionProcessed(ctx, "txB", 101, "hashB", "ordinal"); err != nil {
			t.Fatalf("mark transaction: %v", err)
		}

		if err := store.RollbackFromHeight(ctx, 101); err != nil {
			t.Fatalf("rollback: %v", err)
		}

		if _, err := store.GetBlockHash(ctx, 101); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected block 101 removed, got %v", err)
		}
		if hash, err := store.GetBlockHash(ctx, 100); err != nil || hash != "hashA" {
			t.Errorf("expected block 100 untouched, got %q, %v", hash, err)
		}

		processed, err := store.IsTransactionProcessed(ctx, "txB")
		if err != nil {
			t.Fatalf("is processed: %v", err)
		}
		if processed {
			t.Error("transaction of rolled-back block still reported processed")
		}

		processed, err = store.IsTransactionProcessed(ctx, "txA")
		if err != nil {
			t.Fatalf("is processed: %v", err)
		}
		if !processed {
			t.Error("transaction below rollback height was removed")
		}

		height, err := store.GetLastHeight(ctx)
		if err != nil {
			t.Fatalf("get last height: %v", err)
		}
		if height != 100 {
			t.Errorf("expected last height 100 after rollback, got %d", height)
		}
	})

	t.Run("ReorgReplacementCycle", func(t *testing.T) {
		store := open(t)

		if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
			t.Fatalf("mark block: %v", err)
		}
		if err := store.MarkTransactionProcessed(ctx, "txOld", 100, "hashA", "covenant"); err != nil {
			t.Fatalf("mark transaction: %v", err)
		}

		// Reorg at 100: roll back, then record the replacement chain.
		if err := store.RollbackFromHeight(ctx, 100); err != nil {
			t.Fatalf("rollback: %v", err)
		}
		if err := store.MarkBlockProcessed(ctx, 100, "hashA2"); err != nil {
			t.Fatalf("remark block: %v", err)
		}
		if err := store.MarkTransactionProcessed(ctx, "txNew", 100, "hashA2", ""); err != nil {
			t.Fatalf("mark transaction: %v", err)
		}

		processed, err := store.IsTransactionProcessed(ctx, "txOld")
		if err != nil {
			t.Fatalf("is processed: %v", err)
		}
		if processed {
			t.Error("pre-reorg transaction survived the rollback")
		}

		hash, err := store.GetBlockHash(ctx, 100)
		if err != nil || hash != "hashA2" {
			t.Errorf("expected replacement hash hashA2, got %q, %v", hash, err)
		}
	})

	t.Run("RollbackToZeroClearsEverything", func(t *testing.T) {
		store := open(t)

		if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
			t.Fatalf("mark block: %v", err)
		}
		if err := store.MarkTransactionProcessed(ctx, "txA", 100, "hashA", ""); err != nil {
			t.Fatalf("mark transaction: %v", err)
		}

		if err := store.RollbackFromHeight(ctx, 0); err != nil {
			t.Fatalf("rollback all: %v", err)
		}

		if _, err := store.GetLastHeight(ctx); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected empty store after full rollback, got %v", err)
		}

		processed, err := store.IsTransactionProcessed(ctx, "txA")
		if err != nil {
			t.Fatalf("is processed: %v", err)
		}
		if processed {
			t.Error("transaction survived full rollback")
		}
	})
}
