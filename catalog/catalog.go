// Package catalog implements the model tier catalog (C2): a static,
// read-only-at-runtime table mapping (provider, tier) to a concrete backend
// model identifier and its published per-token prices.
package catalog

import "github.com/lumenforge/aigateway/gateway"

// Catalog is immutable after New returns. Safe for concurrent use.
type Catalog struct {
	byTier  map[string]gateway.ModelSpec // key: provider+"/"+tier
	byModel map[string]gateway.ModelSpec // key: model_id
}

// New builds a Catalog from the given specs. Later entries with a duplicate
// (provider, tier) or ModelID key overwrite earlier ones.
func New(specs []gateway.ModelSpec) *Catalog {
	c := &Catalog{
		byTier:  make(map[string]gateway.ModelSpec, len(specs)),
		byModel: make(map[string]gateway.ModelSpec, len(specs)),
	}
	for _, s := range specs {
		c.byTier[tierKey(s.Provider, s.Tier)] = s
		c.byModel[s.ModelID] = s
	}
	return c
}

func tierKey(provider string, tier gateway.Tier) string { return provider + "/" + string(tier) }

// ResolveTier returns the catalog's model for (provider, tier). The second
// return is false if no such entry is published.
func (c *Catalog) ResolveTier(provider string, tier gateway.Tier) (gateway.ModelSpec, bool) {
	s, ok := c.byTier[tierKey(provider, tier)]
	return s, ok
}

// Price returns the pricing entry for a concrete model_id. The second return
// is false when the model is unknown to the catalog — callers must then
// price at zero and flag the cost record (I5, §4.2).
func (c *Catalog) Price(modelID string) (gateway.ModelSpec, bool) {
	s, ok := c.byModel[modelID]
	return s, ok
}

// ContextWindow reports the published context window, in tokens, for a
// concrete model_id. The second return is false when the model is unknown
// to the catalog.
func (c *Catalog) ContextWindow(modelID string) (int, bool) {
	s, ok := c.byModel[modelID]
	if !ok {
		return 0, false
	}
	return s.ContextWindow, true
}

// Providers reports every provider name with at least one published entry.
func (c *Catalog) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.byTier {
		if !seen[s.Provider] {
			seen[s.Provider] = true
			out = append(out, s.Provider)
		}
	}
	return out
}
