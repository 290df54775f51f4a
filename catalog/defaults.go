package catalog

import "github.com/lumenforge/aigateway/gateway"

// DefaultSpecs returns the gateway's built-in model price table: one SOTA
// and one cost-effective entry per provider, priced at each backend's
// published per-1k-token rates as of this catalog's last update. Deployment
// operators override the model identifiers (never the prices) via the
// per-provider `_sota_model`/`_cost_effective_model` configuration keys;
// see config.Config.Providers.
func DefaultSpecs() []gateway.ModelSpec {
	return []gateway.ModelSpec{
		{Provider: "azure", Tier: gateway.TierSOTA, ModelID: "gpt-4o", InputUSDPer1K: 0.005, OutputUSDPer1K: 0.015, ContextWindow: 128_000},
		{Provider: "azure", Tier: gateway.TierCostEffective, ModelID: "gpt-4o-mini", InputUSDPer1K: 0.00015, OutputUSDPer1K: 0.0006, ContextWindow: 128_000},

		{Provider: "aws", Tier: gateway.TierSOTA, ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0", InputUSDPer1K: 0.003, OutputUSDPer1K: 0.015, ContextWindow: 200_000},
		{Provider: "aws", Tier: gateway.TierCostEffective, ModelID: "anthropic.claude-3-haiku-20240307-v1:0", InputUSDPer1K: 0.00025, OutputUSDPer1K: 0.00125, ContextWindow: 200_000},

		{Provider: "gcp", Tier: gateway.TierSOTA, ModelID: "gemini-1.5-pro", InputUSDPer1K: 0.00125, OutputUSDPer1K: 0.005, ContextWindow: 2_000_000},
		{Provider: "gcp", Tier: gateway.TierCostEffective, ModelID: "gemini-1.5-flash", InputUSDPer1K: 0.000075, OutputUSDPer1K: 0.0003, ContextWindow: 1_000_000},

		{Provider: "ollama", Tier: gateway.TierSOTA, ModelID: "llama3.1:70b", InputUSDPer1K: 0, OutputUSDPer1K: 0, ContextWindow: 128_000},
		{Provider: "ollama", Tier: gateway.TierCostEffective, ModelID: "llama3.1:8b", InputUSDPer1K: 0, OutputUSDPer1K: 0, ContextWindow: 128_000},

		{Provider: "vllm", Tier: gateway.TierSOTA, ModelID: "meta-llama/Llama-3.1-70B-Instruct", InputUSDPer1K: 0, OutputUSDPer1K: 0, ContextWindow: 128_000},
		{Provider: "vllm", Tier: gateway.TierCostEffective, ModelID: "meta-llama/Llama-3.1-8B-Instruct", InputUSDPer1K: 0, OutputUSDPer1K: 0, ContextWindow: 128_000},
	}
}

// WithOverrides replaces each spec's ModelID with the configured override
// for its (provider, tier), when one was supplied, leaving price and
// context window untouched. The overridden ModelID also becomes the
// catalog's lookup key for Price(), so cost tracking follows the operator's
// chosen deployment name.
func WithOverrides(specs []gateway.ModelSpec, sotaModel, costEffectiveModel map[string]string) []gateway.ModelSpec {
	out := make([]gateway.ModelSpec, len(specs))
	for i, s := range specs {
		switch s.Tier {
		case gateway.TierSOTA:
			if m := sotaModel[s.Provider]; m != "" {
				s.ModelID = m
			}
		case gateway.TierCostEffective:
			if m := costEffectiveModel[s.Provider]; m != "" {
				s.ModelID = m
			}
		}
		out[i] = s
	}
	return out
}
