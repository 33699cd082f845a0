package filter

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/satwatch/satwatch/internal/core/domain"
)

type entityAgg struct {
	label      string
	category   string
	inSats     int64
	outSats    int64
	directions []string
	seen       map[string]bool
}

func (a *entityAgg) addDirection(d string) {
	if !a.seen[d] {
		a.seen[d] = true
		a.directions = append(a.directions, d)
	}
}

// checkTreasury looks for tracked addresses on both sides of the
// transaction. Input-side matches resolve the previous output through
// the chain, so they cost one extra lookup per non-coinbase input.
func (f *Filter) checkTreasury(ctx context.Context, tx *btcjson.TxRawResult) domain.TreasuryResult {
	result := domain.TreasuryResult{
		Addresses: []string{},
		Inputs:    []domain.MatchedInput{},
		Outputs:   []domain.MatchedOutput{},
		Enriched:  []domain.EnrichedAddress{},
		Entities:  []domain.EntityActivity{},
		Summary:   map[string]domain.CategorySummary{},
	}
	if f.registry.Size() == 0 {
		return result
	}

	seenAddrs := make(map[string]bool)
	aggs := make(map[string]*entityAgg)
	var aggOrder []string

	record := func(meta domain.AddressMetadata, direction string, valueSats int64) {
		if !seenAddrs[meta.Address] {
			seenAddrs[meta.Address] = true
			result.Addresses = append(result.Addresses, meta.Address)
		}

		result.Enriched = append(result.Enriched, domain.EnrichedAddress{
			Address:     meta.Address,
			Category:    meta.Category,
			EntityID:    meta.EntityID,
			EntityLabel: meta.EntityLabel,
			Direction:   direction,
			ValueSats:   valueSats,
		})

		agg, ok := aggs[meta.EntityID]
		if !ok {
			agg = &entityAgg{
				label:    meta.EntityLabel,
				category: meta.Category,
				seen:     make(map[string]bool),
			}
			aggs[meta.EntityID] = agg
			aggOrder = append(aggOrder, meta.EntityID)
		}
		if direction == "input" {
			agg.outSats += valueSats
			agg.addDirection("spend")
		} else {
			agg.inSats += valueSats
			agg.addDirection("receive")
		}
	}

	if f.cfg.WatchInputs {
		for _, vin := range tx.Vin {
			if vin.Txid == "" {
				continue
			}
			prev, err := f.chain.GetRawTransaction(ctx, vin.Txid, "")
			if err != nil || int(vin.Vout) >= len(prev.Vout) {
				continue
			}
			prevOut := prev.Vout[vin.Vout]
			valueSats := satoshis(prevOut.Value)
			for _, addr := range scriptAddresses(prevOut.ScriptPubKey) {
				meta, ok := f.registry.AddressMetadata(addr)
				if !ok {
					continue
				}
				result.Inputs = append(result.Inputs, domain.MatchedInput{
					Txid:    vin.Txid,
					Vout:    vin.Vout,
					Address: addr,
				})
				record(meta, "input", valueSats)
			}
		}
	}

	if f.cfg.WatchOutputs {
		for idx, out := range tx.Vout {
			valueSats := satoshis(out.Value)
			for _, addr := range scriptAddresses(out.ScriptPubKey) {
				meta, ok := f.registry.AddressMetadata(addr)
				if !ok {
					continue
				}
				result.Outputs = append(result.Outputs, domain.MatchedOutput{
					Vout:    idx,
					Address: addr,
					Value:   out.Value,
				})
				record(meta, "output", valueSats)
			}
		}
	}

	result.Matched = len(result.Inputs) > 0 || len(result.Outputs) > 0
	if result.Matched {
		switch {
		case len(result.Inputs) > 0 && len(result.Outputs) > 0:
			result.Type = "both"
		case len(result.Inputs) > 0:
			result.Type = "spend"
		default:
			result.Type = "receive"
		}
	}

	for _, id := range aggOrder {
		agg := aggs[id]
		result.Entities = append(result.Entities, domain.EntityActivity{
			EntityID:    id,
			EntityLabel: agg.label,
			Category:    agg.category,
			Directions:  agg.directions,
			InSats:      agg.inSats,
			OutSats:     agg.outSats,
		})

		s := result.Summary[agg.category]
		s.InSats += agg.inSats
		s.OutSats += agg.outSats
		s.EntityCount++
		result.Summary[agg.category] = s
	}

	return result
}
