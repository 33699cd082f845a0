package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/satwatch/satwatch/internal/infra/storage"
	"github.com/satwatch/satwatch/internal/infra/storage/storagetest"
)

func TestStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, err := Open(filepath.Join(t.TempDir(), "state.json"))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
		t.Fatalf("mark block: %v", err)
	}
	if err := store.MarkTransactionProcessed(ctx, "tx1", 100, "hashA", ""); err != nil {
		t.Fatalf("mark transaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	height, err := reopened.GetLastHeight(ctx)
	if err != nil || height != 100 {
		t.Errorf("expected last height 100 after reopen, got %d, %v", height, err)
	}
	processed, err := reopened.IsTransactionProcessed(ctx, "tx1")
	if err != nil || !processed {
		t.Errorf("expected tx1 processed after reopen, got %v, %v", processed, err)
	}
}

func TestStore_NoTempFileLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if err := store.MarkBlockProcessed(ctx, 100, "hashA"); err != nil {
		t.Fatalf("mark block: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind after persist: %v", err)
	}
}

func TestStore_RejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, err := Open(path); err == nil {
		t.Error("expected error opening corrupt state file")
	}
}
