// Command admin inspects and repairs the watcher's persisted block state.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/satwatch/satwatch/internal/core/config"
	"github.com/satwatch/satwatch/internal/infra/storage"
	"github.com/satwatch/satwatch/internal/infra/storage/jsonfile"
	"github.com/satwatch/satwatch/internal/infra/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	height := flag.Int64("height", 0, "First height to remove (rollback command)")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}

	store, err := openStore(cfg.EventWatcher.State)
	if err != nil {
		fail(err)
	}
	defer store.Close()

	ctx := context.Background()
	switch cmd {
	case "status":
		err = printStatus(ctx, store)
	case "rollback":
		if *height <= 0 {
			fail(errors.New("rollback requires -height"))
		}
		if err = store.RollbackFromHeight(ctx, *height); err == nil {
			fmt.Printf("Rolled back state from height %d\n", *height)
		}
	case "reset":
		if err = store.RollbackFromHeight(ctx, 0); err == nil {
			fmt.Println("Cleared all processed state")
		}
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fail(err)
	}
}

func printStatus(ctx context.Context, store storage.Store) error {
	height, err := store.GetLastHeight(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Println("No processed state recorded")
		return nil
	}
	if err != nil {
		return err
	}
	hash, err := store.GetBlockHash(ctx, height)
	if err != nil {
		return err
	}
	out, err := json.Marshal(map[string]any{"height": height, "hash": hash})
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func openStore(cfg config.StateConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.Open(cfg.DBPath)
	case "json":
		return jsonfile.Open(cfg.JSONPath)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: admin [flags] <status|rollback|reset>")
	flag.PrintDefaults()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
