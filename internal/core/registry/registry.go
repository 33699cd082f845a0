// Package registry builds the immutable address and entity index used to
// enrich treasury matches.
package registry

import (
	"log/slog"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/satwatch/satwatch/internal/core/domain"
)

// Entry declares one famous address or cluster in configuration.
type Entry struct {
	ID        string   `yaml:"id"`
	Label     string   `yaml:"label"`
	Category  string   `yaml:"category"`
	Addresses []string `yaml:"addresses"`
	Tags      []string `yaml:"tags"`
	Notes     string   `yaml:"notes"`
}

// Config is the declarative registry input. AddressFiles name external
// YAML documents carrying the same shape as the inline sections.
type Config struct {
	Addresses       []string `yaml:"addresses"`
	FamousAddresses []Entry  `yaml:"famous_addresses"`
	Clusters        []Entry  `yaml:"clusters"`
	AddressFiles    []string `yaml:"address_files"`
}

// Registry resolves addresses to entity metadata. It is built once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	addresses map[string]domain.AddressMetadata
	entities  map[string]domain.EntityMetadata
}

// Load builds a registry from cfg. Malformed entries and unreadable
// address files are logged and skipped; they never fail startup.
func Load(cfg Config) *Registry {
	r := &Registry{
		addresses: make(map[string]domain.AddressMetadata),
		entities:  make(map[string]domain.EntityMetadata),
	}

	for _, addr := range cfg.Addresses {
		r.addAddress(addr, "unknown", "Unknown", "unknown", nil)
	}
	for _, entry := range cfg.FamousAddresses {
		r.addEntry(entry)
	}
	for _, entry := range cfg.Clusters {
		r.addEntry(entry)
	}
	for _, path := range cfg.AddressFiles {
		r.loadFile(path)
	}

	slog.Info("loaded treasury registry",
		"addresses", len(r.addresses),
		"entities", len(r.entities))
	return r
}

func (r *Registry) addEntry(entry Entry) {
	if entry.ID == "" {
		slog.Warn("registry entry missing id, skipping", "label", entry.Label)
		return
	}
	if len(entry.Addresses) == 0 {
		slog.Warn("registry entry has no addresses, skipping", "id", entry.ID)
		return
	}

	category := entry.Category
	if category == "" {
		category = "unknown"
	}

	for _, addr := range entry.Addresses {
		r.addAddress(addr, entry.ID, entry.Label, category, entry.Tags)
	}

	existing, ok := r.entities[entry.ID]
	if !ok {
		r.entities[entry.ID] = domain.EntityMetadata{
			ID:        entry.ID,
			Label:     entry.Label,
			Category:  category,
			Addresses: append([]string(nil), entry.Addresses...),
			Notes:     entry.Notes,
		}
		return
	}

	// Repeated ids merge their address lists.
	known := make(map[string]bool, len(existing.Addresses))
	for _, addr := range existing.Addresses {
		known[addr] = true
	}
	for _, addr := range entry.Addresses {
		if !known[addr] {
			existing.Addresses = append(existing.Addresses, addr)
		}
	}
	r.entities[entry.ID] = existing
}

func (r *Registry) addAddress(addr, entityID, entityLabel, category string, tags []string) {
	if existing, ok := r.addresses[addr]; ok {
		if existing.EntityID != entityID || existing.Category != category {
			slog.Warn("address already registered with different metadata, keeping existing",
				"address", addr,
				"existing_entity", existing.EntityID,
				"new_entity", entityID)
		}
		return
	}

	r.addresses[addr] = domain.AddressMetadata{
		Address:     addr,
		EntityID:    entityID,
		EntityLabel: entityLabel,
		Category:    category,
		Tags:        tags,
	}
}

type fileDoc struct {
	Addresses       []string `yaml:"addresses"`
	FamousAddresses []Entry  `yaml:"famous_addresses"`
	Clusters        []Entry  `yaml:"clusters"`
}

func (r *Registry) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("address file not readable, skipping", "path", path, "error", err)
		return
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Error("failed to parse address file", "path", path, "error", err)
		return
	}

	for _, entry := range doc.FamousAddresses {
		r.addEntry(entry)
	}
	for _, entry := range doc.Clusters {
		r.addEntry(entry)
	}
	for _, addr := range doc.Addresses {
		r.addAddress(addr, "unknown", "Unknown", "unknown", nil)
	}

	slog.Info("loaded address file", "path", path,
		"famous", len(doc.FamousAddresses),
		"clusters", len(doc.Clusters))
}

// Has reports whether addr is tracked.
func (r *Registry) Has(addr string) bool {
	_, ok := r.addresses[addr]
	return ok
}

// Size returns the number of tracked addresses.
func (r *Registry) Size() int {
	return len(r.addresses)
}

// AddressMetadata returns the metadata for addr, if registered.
func (r *Registry) AddressMetadata(addr string) (domain.AddressMetadata, bool) {
	meta, ok := r.addresses[addr]
	return meta, ok
}

// EntityMetadata returns the metadata for an entity id, if registered.
func (r *Registry) EntityMetadata(id string) (domain.EntityMetadata, bool) {
	meta, ok := r.entities[id]
	return meta, ok
}
