package filter

import (
	"strings"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/satwatch/satwatch/internal/core/domain"
)

// checkCovenant scans output scripts for OP_CHECKTEMPLATEVERIFY and any
// configured hex patterns. The opcode scan walks byte boundaries only,
// so 0xb3 inside a pushed operand at an odd offset does not count.
// Each pattern is reported once per transaction.
func (f *Filter) checkCovenant(tx *btcjson.TxRawResult) domain.CovenantResult {
	result := domain.CovenantResult{Patterns: []string{}}
	if !f.cfg.DetectCovenants {
		return result
	}

	seen := make(map[string]bool)
	add := func(pattern string) {
		if !seen[pattern] {
			seen[pattern] = true
			result.Patterns = append(result.Patterns, pattern)
		}
	}

	for _, out := range tx.Vout {
		scriptHex := strings.ToLower(out.ScriptPubKey.Hex)

		// OP_CHECKTEMPLATEVERIFY is 0xb3.
		for i := 0; i+1 < len(scriptHex); i += 2 {
			if scriptHex[i:i+2] == "b3" {
				add("OP_CHECKTEMPLATEVERIFY")
				break
			}
		}

		for _, pattern := range f.cfg.CovenantPatterns {
			if strings.Contains(scriptHex, strings.ToLower(pattern)) {
				add(pattern)
			}
		}
	}

	result.Matched = len(result.Patterns) > 0
	return result
}
