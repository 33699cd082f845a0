package fees

// extremeBucketMaxSatVB caps the top bucket at a practical ceiling.
const extremeBucketMaxSatVB = 10_000

// Bucket is one band of the fee market. Bounds are inclusive sat/vB and
// severity is monotone across the table.
type Bucket struct {
	Name     string
	Label    string
	MinSatVB int64
	MaxSatVB int64
	Severity int
}

// Summary is the compact bucket identity embedded in snapshots and
// one-shot results.
type Summary struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Severity int    `json:"severity"`
}

func (b Bucket) Summary() Summary {
	return Summary{Name: b.Name, Label: b.Label, Severity: b.Severity}
}

var buckets = []Bucket{
	{Name: "zero", Label: "No reliable fee data", MinSatVB: 0, MaxSatVB: 0, Severity: 0},
	{Name: "free", Label: "Free blocks / near-empty mempool", MinSatVB: 1, MaxSatVB: 1, Severity: 1},
	{Name: "cheap", Label: "Very low fees", MinSatVB: 2, MaxSatVB: 5, Severity: 2},
	{Name: "normal", Label: "Normal fee market", MinSatVB: 6, MaxSatVB: 15, Severity: 3},
	{Name: "busy", Label: "Busy but reasonable", MinSatVB: 16, MaxSatVB: 40, Severity: 4},
	{Name: "high", Label: "High congestion", MinSatVB: 41, MaxSatVB: 100, Severity: 5},
	{Name: "peak", Label: "Peak mania", MinSatVB: 101, MaxSatVB: 250, Severity: 6},
	{Name: "extreme", Label: "Extreme blockspace stress", MinSatVB: 251, MaxSatVB: extremeBucketMaxSatVB, Severity: 7},
}

// Classify maps a median fee rate into its bucket. A rate above every
// configured range lands in the highest bucket.
func Classify(p50SatVB int64) Bucket {
	for _, b := range buckets {
		if p50SatVB >= b.MinSatVB && p50SatVB <= b.MaxSatVB {
			return b
		}
	}
	return buckets[len(buckets)-1]
}

// Policy carries the automation hints attached to a bucket.
type Policy struct {
	ConsolidateOK   bool
	BroadcastNormal bool
	Note            string
}

var policies = map[string]Policy{
	"zero":    {ConsolidateOK: false, BroadcastNormal: false, Note: "No reliable fee data; avoid automated actions."},
	"free":    {ConsolidateOK: true, BroadcastNormal: true, Note: "Prime time for UTXO consolidation and low-priority sends."},
	"cheap":   {ConsolidateOK: true, BroadcastNormal: true, Note: "Very low fees; safe for consolidation, batching, and routine TX."},
	"normal":  {ConsolidateOK: false, BroadcastNormal: true, Note: "Standard fee market; routine TX fine, defer large consolidations."},
	"busy":    {ConsolidateOK: false, BroadcastNormal: true, Note: "Busy; consider RBF, batching, and delaying non-urgent activity."},
	"high":    {ConsolidateOK: false, BroadcastNormal: true, Note: "High congestion; prioritize only important payments."},
	"peak":    {ConsolidateOK: false, BroadcastNormal: false, Note: "Peak mania; only critical TXs, everything else waits."},
	"extreme": {ConsolidateOK: false, BroadcastNormal: false, Note: "Extreme stress; disable automation & consolidation entirely."},
}

// Policy returns the automation hints for this bucket.
func (b Bucket) Policy() Policy {
	return policies[b.Name]
}
