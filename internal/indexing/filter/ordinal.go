package filter

import (
	"context"
	"strings"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/satwatch/satwatch/internal/core/domain"
)

// checkOrdinal looks for inscription envelopes in witness stacks and
// legacy scriptSigs. Hotspot resolution only runs when an inscription
// was found, since it needs prevout lookups.
func (f *Filter) checkOrdinal(ctx context.Context, tx *btcjson.TxRawResult) domain.OrdinalResult {
	result := domain.OrdinalResult{
		Inscriptions: []domain.Inscription{},
		Hotspots:     []domain.HotspotMatch{},
	}
	if !f.cfg.DetectOrdinals {
		return result
	}

	for vinIdx, vin := range tx.Vin {
		// Envelope shape on the witness stack: empty push, then the
		// "ord" marker element, then payload.
		w := vin.Witness
		for i := 0; i < len(w)-2; i++ {
			if w[i] == "" && strings.HasPrefix(w[i+1], "ord") {
				result.Inscriptions = append(result.Inscriptions, domain.Inscription{
					InputIndex: vinIdx,
					Type:       "witness",
					Pattern:    w[i+1],
				})
				break
			}
		}
	}

	for vinIdx, vin := range tx.Vin {
		if vin.ScriptSig == nil {
			continue
		}
		// OP_FALSE OP_IF is 0x00 0x63.
		scriptHex := vin.ScriptSig.Hex
		if strings.Contains(strings.ToLower(scriptHex), "0063") {
			result.Inscriptions = append(result.Inscriptions, domain.Inscription{
				InputIndex: vinIdx,
				Type:       "scriptSig",
				ScriptHex:  truncateScript(scriptHex),
			})
		}
	}

	if len(f.hotspotAddrs) > 0 && len(result.Inscriptions) > 0 {
		result.Hotspots = f.matchHotspots(ctx, tx)
	}

	result.Matched = len(result.Inscriptions) > 0
	return result
}

func (f *Filter) matchHotspots(ctx context.Context, tx *btcjson.TxRawResult) []domain.HotspotMatch {
	matches := []domain.HotspotMatch{}

	for _, vin := range tx.Vin {
		if vin.Txid == "" {
			continue
		}
		prev, err := f.chain.GetRawTransaction(ctx, vin.Txid, "")
		if err != nil || int(vin.Vout) >= len(prev.Vout) {
			continue
		}
		for _, addr := range scriptAddresses(prev.Vout[vin.Vout].ScriptPubKey) {
			if match, ok := f.hotspotFor(addr, "input"); ok {
				matches = append(matches, match)
			}
		}
	}

	for _, out := range tx.Vout {
		for _, addr := range scriptAddresses(out.ScriptPubKey) {
			if match, ok := f.hotspotFor(addr, "output"); ok {
				matches = append(matches, match)
			}
		}
	}

	return matches
}

// hotspotFor resolves addr to its first matching hotspot config.
func (f *Filter) hotspotFor(addr, side string) (domain.HotspotMatch, bool) {
	if !f.hotspotAddrs[addr] {
		return domain.HotspotMatch{}, false
	}
	for _, h := range f.cfg.OrdinalHotspots {
		for _, a := range h.Addresses {
			if a == addr {
				return domain.HotspotMatch{
					ID:      h.ID,
					Label:   h.Label,
					Address: addr,
					Side:    side,
				}, true
			}
		}
	}
	return domain.HotspotMatch{}, false
}

func truncateScript(s string) string {
	if len(s) > 100 {
		return s[:100]
	}
	return s
}
