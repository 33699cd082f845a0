package domain

// AddressMetadata describes one tracked address.
type AddressMetadata struct {
	Address     string
	EntityID    string
	EntityLabel string
	Category    string
	Tags        []string
}

// EntityMetadata groups the tracked addresses registered under one id.
type EntityMetadata struct {
	ID        string
	Label     string
	Category  string
	Addresses []string
	Notes     string
}
