package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/satwatch/satwatch/internal/control"
	"github.com/satwatch/satwatch/internal/core/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single cycle, print the result as JSON and exit")
	dryRun := flag.Bool("dry-run", false, "Alert only, never prepare consolidation PSBTs")
	preparePSBT := flag.Bool("prepare-psbt", false, "Prepare a consolidation PSBT when fees drop below the trigger")
	verbose := flag.Bool("verbose", false, "Enable debug logging and indented JSON output")
	watchEvents := flag.Bool("watch-events", false, "Enable the block event stream regardless of config")
	eventMode := flag.String("event-mode", "all", "Restrict event filters: all, treasury, ordinals or covenants")
	flag.Parse()

	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := logLevel(cfg.Logging.Level, *verbose)
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))
	slog.Info("Logger initialized", "level", level.String())

	if *watchEvents {
		cfg.EventWatcher.Enabled = true
	}
	if err := cfg.EventWatcher.Filters.ApplyEventMode(*eventMode); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// A dry run never prepares PSBTs, whatever the other flags say.
	opts := control.Options{PreparePSBT: *preparePSBT && !*dryRun}

	app, err := control.NewWatcher(cfg, opts)
	if err != nil {
		slog.Error("Failed to initialize watcher", "error", err)
		os.Exit(1)
	}

	if *once {
		runOnce(app, *verbose)
		return
	}

	// Setup Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start watcher", "error", err)
		os.Exit(1)
	}

	// Wait for Signal
	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)
	cancel()

	// Graceful Shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Watcher stopped gracefully")
}

// runOnce executes one cycle of whichever stream is active and prints the
// result to stdout. Logs go to stderr, so the output stays machine-readable.
func runOnce(app *control.Watcher, verbose bool) {
	ctx := context.Background()

	var result any
	var err error
	if app.EventsEnabled() {
		result, err = app.EventsOnce(ctx)
	} else {
		result, err = app.FeeOnce(ctx)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if stopErr := app.Stop(stopCtx); err == nil {
		err = stopErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	out, err := encodeResult(result, verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func encodeResult(v any, verbose bool) ([]byte, error) {
	if verbose {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// logLevel resolves the slog level from config, with -verbose forcing debug.
func logLevel(name string, verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
