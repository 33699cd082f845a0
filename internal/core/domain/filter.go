package domain

// MatchedInput is a treasury spend observed on the input side.
type MatchedInput struct {
	Txid    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Address string `json:"address"`
}

// MatchedOutput is a treasury receive observed on the output side.
type MatchedOutput struct {
	Vout    int     `json:"vout"`
	Address string  `json:"address"`
	Value   float64 `json:"value"`
}

// EnrichedAddress is one matched address with registry metadata attached.
type EnrichedAddress struct {
	Address     string `json:"address"`
	Category    string `json:"category"`
	EntityID    string `json:"entity_id"`
	EntityLabel string `json:"entity_label"`
	Direction   string `json:"direction"`
	ValueSats   int64  `json:"value_sats"`
}

// EntityActivity aggregates matched value per entity across one transaction.
type EntityActivity struct {
	EntityID    string   `json:"entity_id"`
	EntityLabel string   `json:"entity_label"`
	Category    string   `json:"category"`
	Directions  []string `json:"directions"`
	InSats      int64    `json:"in_sats"`
	OutSats     int64    `json:"out_sats"`
}

// CategorySummary totals matched value per registry category.
type CategorySummary struct {
	InSats      int64 `json:"in_sats"`
	OutSats     int64 `json:"out_sats"`
	EntityCount int   `json:"entity_count"`
}

// TreasuryResult is the tracked-address movement check outcome.
// Type is "spend", "receive" or "both" when Matched.
type TreasuryResult struct {
	Matched   bool                       `json:"matched"`
	Type      string                     `json:"type,omitempty"`
	Addresses []string                   `json:"addresses"`
	Inputs    []MatchedInput             `json:"inputs"`
	Outputs   []MatchedOutput            `json:"outputs"`
	Enriched  []EnrichedAddress          `json:"enriched_addresses"`
	Entities  []EntityActivity           `json:"entities"`
	Summary   map[string]CategorySummary `json:"summary"`
}

// Inscription is one detected inscription envelope. Type is "witness"
// or "scriptSig"; Pattern carries the witness element, ScriptHex the
// truncated legacy script.
type Inscription struct {
	InputIndex int    `json:"input_index"`
	Type       string `json:"type"`
	Pattern    string `json:"pattern,omitempty"`
	ScriptHex  string `json:"script_hex,omitempty"`
}

// HotspotMatch ties an inscription-bearing transaction to a watched
// marketplace or collection address.
type HotspotMatch struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Address string `json:"address"`
	Side    string `json:"side"`
}

// OrdinalResult is the inscription check outcome.
type OrdinalResult struct {
	Matched      bool           `json:"matched"`
	Inscriptions []Inscription  `json:"inscriptions"`
	Hotspots     []HotspotMatch `json:"hotspots"`
}

// CovenantResult is the covenant opcode check outcome. Patterns holds
// the distinct names matched across all outputs.
type CovenantResult struct {
	Matched  bool     `json:"matched"`
	Patterns []string `json:"patterns"`
}

// FilterResult combines the three independent checks for one transaction.
type FilterResult struct {
	Txid     string         `json:"txid"`
	Treasury TreasuryResult `json:"treasury"`
	Ordinal  OrdinalResult  `json:"ordinal"`
	Covenant CovenantResult `json:"covenant"`
	Matched  bool           `json:"matched"`
}

// EventType returns the highest-priority matched category, or "" when
// nothing matched.
func (r FilterResult) EventType() EventType {
	switch {
	case r.Treasury.Matched:
		return EventTypeTreasury
	case r.Ordinal.Matched:
		return EventTypeOrdinal
	case r.Covenant.Matched:
		return EventTypeCovenant
	}
	return ""
}
