// Package discovery implements the optional bus inventory auto-discovery
// mentioned in spec §1/§4.3: module type and channel-count resolution from
// `$0510$2E…` / `$0522$1E…` response chunks. It is deliberately isolated
// behind the listener.DiscoverySink interface so the core protocol engine
// does not depend on it (§1: "present but optional; specified only at
// message-catalog level").
package discovery

import (
	"sort"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ModuleDescriptor is one catalog entry resolved from discovery chunks.
type ModuleDescriptor struct {
	Address  string `cbor:"address"`
	Type     string `cbor:"type"`
	Channels int    `cbor:"channels"`
}

// Catalog accumulates discovery chunks into a resolved module inventory.
// Entries are keyed by the 4-character address fragment that follows a
// chunk's prefix; a chunk split across several lines is not reassembled.
type Catalog struct {
	mu      sync.Mutex
	entries map[string]ModuleDescriptor
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		entries: make(map[string]ModuleDescriptor),
	}
}

// HandleChunk implements listener.DiscoverySink.
func (c *Catalog) HandleChunk(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case strings.Contains(line, "$0510") && strings.Contains(line, "$2E"):
		c.absorbTypeChunk(line)
	case strings.Contains(line, "$0522") && strings.Contains(line, "$1E"):
		c.absorbChannelChunk(line)
	}
}

// absorbTypeChunk extracts an address and a coarse module type from a
// "$0510...$2E..." discovery response. The exact on-wire type encoding is
// bus-vendor-specific and out of scope (§1); entries get the type "unknown",
// and no later chunk changes it.
func (c *Catalog) absorbTypeChunk(line string) {
	addr := extractAfter(line, "$0510")
	if addr == "" {
		return
	}
	existing := c.entries[addr]
	existing.Address = addr
	if existing.Type == "" {
		existing.Type = "unknown"
	}
	c.entries[addr] = existing
}

// absorbChannelChunk sets the addressed entry's channel count to 6 if it has
// none yet, creating the entry if the type chunk has not arrived yet.
func (c *Catalog) absorbChannelChunk(line string) {
	addr := extractAfter(line, "$0522")
	if addr == "" {
		return
	}
	existing := c.entries[addr]
	existing.Address = addr
	if existing.Channels == 0 {
		existing.Channels = 6
	}
	c.entries[addr] = existing
}

// extractAfter returns a short hex fragment immediately following prefix,
// used only to key the catalog by the responding module's address bytes.
func extractAfter(line, prefix string) string {
	idx := strings.Index(line, prefix)
	if idx < 0 {
		return ""
	}
	start := idx + len(prefix)
	end := start + 4
	if end > len(line) {
		end = len(line)
	}
	if start >= end {
		return ""
	}
	return line[start:end]
}

// Snapshot returns every resolved descriptor, stable-ordered by address.
func (c *Catalog) Snapshot() []ModuleDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ModuleDescriptor, 0, len(c.entries))
	for _, d := range c.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// MarshalCBOR encodes the current catalog snapshot for the host to persist,
// using the same compact binary form the rest of the pack reaches for when
// it needs a schema-stable wire format that isn't JSON.
func (c *Catalog) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(c.Snapshot())
}

// UnmarshalCBOR replaces the catalog's contents from a previously marshaled
// snapshot, e.g. one cached by the host between restarts.
func (c *Catalog) UnmarshalCBOR(data []byte) error {
	var descs []ModuleDescriptor
	if err := cbor.Unmarshal(data, &descs); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ModuleDescriptor, len(descs))
	for _, d := range descs {
		c.entries[d.Address] = d
	}
	return nil
}
