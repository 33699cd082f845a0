// Package monitor tracks the chain tip, detects reorganizations, and
// decides which block the watcher should process next.
//
// # Pruned nodes
//
// Any height probe can come back "unavailable" on a pruned node. The
// monitor never treats that as fatal: it searches backward for the
// nearest fetchable block and rolls state back to it, or clears all
// state and resyncs from the tip when nothing in range is fetchable.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/satwatch/satwatch/internal/indexing/metrics"
	"github.com/satwatch/satwatch/internal/infra/rpc"
	"github.com/satwatch/satwatch/internal/infra/storage"
)

const defaultMaxReorgDepth = 6

// Chain provides the block lookups the monitor needs.
type Chain interface {
	GetBlockCount(ctx context.Context) (int64, error)
	GetBlockHash(ctx context.Context, height int64) (string, error)
	GetBlock(ctx context.Context, hash string) (*btcjson.GetBlockVerboseResult, error)
}

// Next names the block the watcher should process. Reorg is set when the
// block replaces previously processed history.
type Next struct {
	Height int64
	Hash   string
	Reorg  bool
}

// Monitor compares persisted block hashes against the live chain.
type Monitor struct {
	chain         Chain
	store         storage.Store
	maxReorgDepth int64
}

// New builds a monitor. maxReorgDepth bounds both the reorg scan and the
// pruned-fallback search; values below 1 fall back to the default of 6.
func New(chain Chain, store storage.Store, maxReorgDepth int64) *Monitor {
	if maxReorgDepth < 1 {
		maxReorgDepth = defaultMaxReorgDepth
	}
	return &Monitor{chain: chain, store: store, maxReorgDepth: maxReorgDepth}
}

// GetNewBlocks returns the next block to process, or nil when the chain
// has nothing new. It verifies recent history first and rolls back state
// when the chain diverged from what was recorded.
func (m *Monitor) GetNewBlocks(ctx context.Context) (*Next, error) {
	current, err := m.chain.GetBlockCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain tip: %w", err)
	}
	metrics.ChainTipHeight.Set(float64(current))

	last, err := m.store.GetLastHeight(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Info("no previous height found, starting from chain tip", "height", current)
		hash, err := m.chain.GetBlockHash(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to get hash at tip %d: %w", current, err)
		}
		return &Next{Height: current, Hash: hash}, nil
	}
	if err != nil {
		return nil, err
	}

	if current <= last {
		return nil, nil
	}

	reorgStart, resetNext, err := m.scanForReorg(ctx, last, current)
	if err != nil || resetNext != nil {
		return resetNext, err
	}

	if reorgStart >= 0 {
		slog.Info("rolling back state", "from_height", reorgStart)
		if err := m.store.RollbackFromHeight(ctx, reorgStart); err != nil {
			return nil, err
		}
		hash, err := m.chain.GetBlockHash(ctx, reorgStart)
		if errors.Is(err, rpc.ErrPruned) {
			return m.recoverFromPruned(ctx, reorgStart, current, true)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get hash at %d: %w", reorgStart, err)
		}
		return &Next{Height: reorgStart, Hash: hash, Reorg: true}, nil
	}

	next := last + 1
	hash, err := m.chain.GetBlockHash(ctx, next)
	if errors.Is(err, rpc.ErrPruned) {
		return m.recoverFromPruned(ctx, next, current, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hash at %d: %w", next, err)
	}
	return &Next{Height: next, Hash: hash}, nil
}

// scanForReorg compares stored hashes over the trailing verification
// window against the live chain. It returns the lowest mismatching
// height, or -1 when history still matches. When history itself is
// unavailable the scan aborts into a full reset, returned as a Next.
func (m *Monitor) scanForReorg(ctx context.Context, last, current int64) (int64, *Next, error) {
	scanStart := last - m.maxReorgDepth + 1
	if scanStart < 0 {
		scanStart = 0
	}

	reorgStart := int64(-1)
	for height := scanStart; height <= last; height++ {
		stored, err := m.store.GetBlockHash(ctx, height)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return -1, nil, err
		}

		live, err := m.chain.GetBlockHash(ctx, height)
		if errors.Is(err, rpc.ErrPruned) {
			slog.Warn("history unavailable during reorg scan, resetting state", "height", height)
			next, err := m.reset(ctx, current)
			return -1, next, err
		}
		if err != nil {
			return -1, nil, fmt.Errorf("failed to get hash at %d: %w", height, err)
		}

		if stored != live {
			slog.Warn("reorg detected: hash mismatch",
				"height", height,
				"stored", shortHash(stored),
				"current", shortHash(live))
			if reorgStart == -1 {
				reorgStart = height
			}
		}
	}
	return reorgStart, nil, nil
}

// FindEarliestAvailableBlock scans from min(start, current tip) down to
// start-maxReorgDepth and returns the first fetchable height with its
// hash. found is false when the whole range is unavailable.
func (m *Monitor) FindEarliestAvailableBlock(ctx context.Context, start int64) (height int64, hash string, found bool, err error) {
	current, err := m.chain.GetBlockCount(ctx)
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to get chain tip: %w", err)
	}

	top := start
	if current < top {
		top = current
	}
	bottom := start - m.maxReorgDepth
	if bottom < 0 {
		bottom = 0
	}

	for h := top; h >= bottom; h-- {
		hash, err := m.chain.GetBlockHash(ctx, h)
		if errors.Is(err, rpc.ErrPruned) {
			continue
		}
		if err != nil {
			return 0, "", false, fmt.Errorf("failed to get hash at %d: %w", h, err)
		}
		return h, hash, true, nil
	}
	return 0, "", false, nil
}

// recoverFromPruned resumes at the nearest fetchable height at or below
// start, rolling state back so processing restarts there. When nothing
// in range is fetchable the state is cleared entirely.
func (m *Monitor) recoverFromPruned(ctx context.Context, start, current int64, reorg bool) (*Next, error) {
	height, hash, found, err := m.FindEarliestAvailableBlock(ctx, start)
	if err != nil {
		return nil, err
	}
	if !found {
		slog.Warn("no fetchable block near pruned height", "start", start)
		return m.reset(ctx, current)
	}

	slog.Info("recovered at earlier fetchable block", "height", height, "requested", start)
	if err := m.store.RollbackFromHeight(ctx, height); err != nil {
		return nil, err
	}
	return &Next{Height: height, Hash: hash, Reorg: reorg}, nil
}

// reset clears all persisted state and resumes from the chain tip.
func (m *Monitor) reset(ctx context.Context, current int64) (*Next, error) {
	if err := m.store.RollbackFromHeight(ctx, 0); err != nil {
		return nil, err
	}
	hash, err := m.chain.GetBlockHash(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("failed to get hash at tip %d: %w", current, err)
	}
	slog.Warn("state cleared, resuming from chain tip", "height", current)
	return &Next{Height: current, Hash: hash}, nil
}

// ProcessBlock fetches the block payload, records the block as
// processed, and returns the payload with its ordered transaction ids.
func (m *Monitor) ProcessBlock(ctx context.Context, height int64, hash string) (*btcjson.GetBlockVerboseResult, error) {
	block, err := m.chain.GetBlock(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", shortHash(hash), err)
	}
	if err := m.store.MarkBlockProcessed(ctx, height, hash); err != nil {
		return nil, err
	}

	slog.Info("processed block",
		"height", height,
		"hash", shortHash(hash),
		"transactions", len(block.Tx))
	return block, nil
}

func shortHash(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
