// Package fees implements the mempool fee monitoring stream: percentile
// snapshots from the raw mempool, rolling statistics, bucket
// classification, spike and bucket-change alerts, and bucket-aware UTXO
// consolidation PSBTs.
//
// The stream runs independently of block watching and shares no mutable
// state with it.
package fees

import (
	"context"
	"math"
	"sort"

	"github.com/satwatch/satwatch/internal/infra/chain/bitcoin"
)

const (
	satoshisPerBTC = 1e8
	vbPerKB        = 1000
	weightPerVByte = 4.0
)

// Mempool is the node surface the estimator reads.
type Mempool interface {
	GetRawMempoolVerbose(ctx context.Context) (map[string]bitcoin.MempoolEntry, error)
	GetMempoolInfo(ctx context.Context) (*bitcoin.MempoolInfo, error)
}

// Snapshot is one point-in-time view of mempool fee pressure in sat/vB.
type Snapshot struct {
	P25     int64 `json:"p25"`
	P50     int64 `json:"p50"`
	P75     int64 `json:"p75"`
	P90     int64 `json:"p90"`
	P95     int64 `json:"p95"`
	TxCount int   `json:"tx_count"`
}

// Estimator computes fee percentiles over the node's current mempool.
type Estimator struct {
	node Mempool
}

func NewEstimator(node Mempool) *Estimator {
	return &Estimator{node: node}
}

// Snapshot fetches the raw mempool and computes the percentile set. An
// empty mempool falls back to the node's minimum relay fee for every
// percentile with a zero transaction count.
func (e *Estimator) Snapshot(ctx context.Context) (Snapshot, error) {
	entries, err := e.node.GetRawMempoolVerbose(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	if len(entries) == 0 {
		info, err := e.node.GetMempoolInfo(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		minFee := int64(math.Round(info.MempoolMinFee * satoshisPerBTC / vbPerKB))
		return Snapshot{P25: minFee, P50: minFee, P75: minFee, P90: minFee, P95: minFee}, nil
	}

	rates := make([]float64, 0, len(entries))
	for _, entry := range entries {
		rate, ok := entryRate(entry)
		if !ok {
			continue
		}
		rates = append(rates, rate)
	}
	sort.Float64s(rates)

	return Snapshot{
		P25:     percentile(rates, 25),
		P50:     percentile(rates, 50),
		P75:     percentile(rates, 75),
		P90:     percentile(rates, 90),
		P95:     percentile(rates, 95),
		TxCount: len(rates),
	}, nil
}

// entryRate prices one mempool entry in sat/vB. Entries without any
// notion of size or fee cannot be priced and are skipped.
func entryRate(entry bitcoin.MempoolEntry) (float64, bool) {
	var vsize int64
	switch {
	case entry.Vsize != nil:
		vsize = *entry.Vsize
	case entry.Weight != nil:
		vsize = int64(math.Round(float64(*entry.Weight) / weightPerVByte))
	default:
		return 0, false
	}
	if vsize < 1 {
		vsize = 1
	}

	var feeBTC float64
	switch {
	case entry.Fee != nil:
		feeBTC = *entry.Fee
	case entry.Fees.Base != nil:
		feeBTC = *entry.Fees.Base
	default:
		return 0, false
	}

	return feeBTC * satoshisPerBTC / float64(vsize), true
}

// percentile reads the p-th percentile from sorted rates by nearest-rank
// index, rounded to whole sat/vB.
func percentile(rates []float64, p float64) int64 {
	if len(rates) == 0 {
		return 0
	}
	idx := int(math.Round(p / 100 * float64(len(rates)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > len(rates)-1 {
		idx = len(rates) - 1
	}
	return int64(math.Round(rates[idx]))
}
