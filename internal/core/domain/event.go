package domain

// EventType is the category recorded against a processed transaction.
// Order matters when a transaction matches more than one category: the
// stored type is the first match in treasury, ordinal, covenant order.
type EventType string

const (
	EventTypeTreasury EventType = "treasury"
	EventTypeOrdinal  EventType = "ordinal"
	EventTypeCovenant EventType = "covenant"
)
