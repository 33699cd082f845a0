// Package filter matches transactions against the configured detectors:
// tracked treasury movements, ordinal inscriptions, and covenant scripts.
package filter

import (
	"context"
	"log/slog"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/satwatch/satwatch/internal/core/domain"
	"github.com/satwatch/satwatch/internal/core/registry"
)

// TxFetcher provides the transaction lookups the detectors need.
// blockHash may be empty for mempool or prevout lookups.
type TxFetcher interface {
	GetRawTransaction(ctx context.Context, txid, blockHash string) (*btcjson.TxRawResult, error)
}

// Hotspot names a watched marketplace or collection address group.
type Hotspot struct {
	ID        string   `yaml:"id"`
	Label     string   `yaml:"label"`
	Addresses []string `yaml:"addresses"`
}

// Config controls which detectors run and what they watch.
type Config struct {
	WatchInputs      bool      `yaml:"watch_inputs"`
	WatchOutputs     bool      `yaml:"watch_outputs"`
	DetectOrdinals   bool      `yaml:"detect_ordinals"`
	OrdinalHotspots  []Hotspot `yaml:"ordinal_hotspots"`
	DetectCovenants  bool      `yaml:"detect_covenants"`
	CovenantPatterns []string  `yaml:"covenant_patterns"`
}

// Filter runs the configured detectors over individual transactions.
type Filter struct {
	chain    TxFetcher
	registry *registry.Registry
	cfg      Config

	hotspotAddrs map[string]bool
}

// New builds a filter over the given chain access and address registry.
func New(chain TxFetcher, reg *registry.Registry, cfg Config) *Filter {
	f := &Filter{
		chain:        chain,
		registry:     reg,
		cfg:          cfg,
		hotspotAddrs: make(map[string]bool),
	}
	for _, h := range cfg.OrdinalHotspots {
		for _, addr := range h.Addresses {
			f.hotspotAddrs[addr] = true
		}
	}

	slog.Info("initialized transaction filter",
		"treasury_addresses", reg.Size(),
		"ordinals", cfg.DetectOrdinals,
		"hotspots", len(f.hotspotAddrs),
		"covenants", cfg.DetectCovenants)
	return f
}

// FilterTransaction fetches txid and runs every detector over it. A
// transaction that cannot be fetched is reported as unmatched rather
// than failing the caller.
func (f *Filter) FilterTransaction(ctx context.Context, txid, blockHash string) domain.FilterResult {
	result := domain.FilterResult{Txid: txid}

	tx, err := f.chain.GetRawTransaction(ctx, txid, blockHash)
	if err != nil {
		slog.Debug("failed to fetch transaction", "txid", shortID(txid), "error", err)
		return result
	}

	result.Treasury = f.checkTreasury(ctx, tx)
	result.Ordinal = f.checkOrdinal(ctx, tx)
	result.Covenant = f.checkCovenant(tx)
	result.Matched = result.Treasury.Matched || result.Ordinal.Matched || result.Covenant.Matched
	return result
}

// satoshis converts a decoded BTC amount to satoshis without the
// precision loss of a naive float multiply.
func satoshis(btc float64) int64 {
	amt, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0
	}
	return int64(amt)
}

// scriptAddresses reads the addresses of an output script. Core 22+
// reports a single "address" field; older nodes report an "addresses"
// list.
func scriptAddresses(spk btcjson.ScriptPubKeyResult) []string {
	if spk.Address != "" {
		return []string{spk.Address}
	}
	return spk.Addresses
}

func shortID(txid string) string {
	if len(txid) > 16 {
		return txid[:16]
	}
	return txid
}
