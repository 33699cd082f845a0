package metrics

import "sync/atomic"

// Metrics holds in-memory run counters. All methods are safe for
// concurrent use and mirror increments into the package collectors.
type Metrics struct {
	blocksProcessed      atomic.Int64
	transactionsFiltered atomic.Int64
	eventsEmitted        atomic.Int64
	reorgsDetected       atomic.Int64
	treasuryMatches      atomic.Int64
	ordinalMatches       atomic.Int64
	covenantMatches      atomic.Int64
}

// Snapshot is a point-in-time copy of the run counters.
type Snapshot struct {
	BlocksProcessed      int64 `json:"blocks_processed"`
	TransactionsFiltered int64 `json:"transactions_filtered"`
	EventsEmitted        int64 `json:"events_emitted"`
	ReorgsDetected       int64 `json:"reorgs_detected"`
	TreasuryMatches      int64 `json:"treasury_matches"`
	OrdinalMatches       int64 `json:"ordinal_matches"`
	CovenantMatches      int64 `json:"covenant_matches"`
}

// New creates a zeroed counter set.
func New() *Metrics {
	return &Metrics{}
}

// IncBlocks records one fully processed block.
func (m *Metrics) IncBlocks() {
	m.blocksProcessed.Add(1)
	BlocksProcessed.Inc()
}

// AddFiltered records n transactions run through the filter.
func (m *Metrics) AddFiltered(n int) {
	if n <= 0 {
		return
	}
	m.transactionsFiltered.Add(int64(n))
	TransactionsFiltered.Add(float64(n))
}

// IncEmitted records one event delivered to the sinks.
func (m *Metrics) IncEmitted() {
	m.eventsEmitted.Add(1)
	EventsEmitted.Inc()
}

// IncReorgs records one detected reorganization.
func (m *Metrics) IncReorgs() {
	m.reorgsDetected.Add(1)
	ReorgsDetected.Inc()
}

// IncMatch records one filter hit for the given category. Unknown
// categories only reach the labeled collector.
func (m *Metrics) IncMatch(category string) {
	switch category {
	case "treasury":
		m.treasuryMatches.Add(1)
	case "ordinal":
		m.ordinalMatches.Add(1)
	case "covenant":
		m.covenantMatches.Add(1)
	}
	FilterMatches.WithLabelValues(category).Inc()
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BlocksProcessed:      m.blocksProcessed.Load(),
		TransactionsFiltered: m.transactionsFiltered.Load(),
		EventsEmitted:        m.eventsEmitted.Load(),
		ReorgsDetected:       m.reorgsDetected.Load(),
		TreasuryMatches:      m.treasuryMatches.Load(),
		OrdinalMatches:       m.ordinalMatches.Load(),
		CovenantMatches:      m.covenantMatches.Load(),
	}
}
