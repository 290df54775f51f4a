// Package config loads the gateway's startup configuration via
// github.com/spf13/viper, layering an optional YAML file under environment
// variables prefixed AIGW_ — the layered env/file convention shared by
// Sanix-Darker-prev's internal/config and rakunlabs-at's go.mod dependency
// on viper. The result is an immutable Config value; nothing downstream
// mutates it (§6 "forbidden to mutate at runtime").
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Providers this gateway ships drivers for. Kept as a fixed list (rather
// than discovered from config) so Load fills a ProviderCredentials entry for
// every one of them, set or not. An unset provider's driver is built
// unconfigured: it is left out of providers_status() and reported as skipped
// by health_check_all().
var Providers = []string{"azure", "aws", "gcp", "ollama", "vllm"}

// ProviderCredentials holds one driver's connection details and optional
// catalog overrides (§6 "<provider>_endpoint/_api_key/_region/_project_id"
// and "_sota_model/_cost_effective_model").
type ProviderCredentials struct {
	Endpoint           string
	APIKey             string
	Region             string
	ProjectID          string
	SOTAModel          string
	CostEffectiveModel string
}

// HybridRule maps a data classification to the provider that must serve it,
// evaluated in order (first match wins, §4.6 step 3).
type HybridRule struct {
	Classification string
	Provider       string
}

// Config is the gateway's complete startup configuration.
type Config struct {
	DefaultProvider string
	FallbackChain   []string
	LocalChain      []string
	Mode            string
	HybridRules     []HybridRule

	MonthlyLimitUSD  float64
	AlertThreshold   float64
	BreakerThreshold float64

	Providers map[string]ProviderCredentials
}

// Load reads configuration from an optional YAML file at path (skipped
// silently when path is empty or the file does not exist) and from
// AIGW_-prefixed environment variables, which always take precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AIGW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	cfg := Config{
		DefaultProvider:  v.GetString("default_provider"),
		FallbackChain:    v.GetStringSlice("fallback_chain"),
		LocalChain:       v.GetStringSlice("local_chain"),
		Mode:             v.GetString("mode"),
		MonthlyLimitUSD:  v.GetFloat64("monthly_limit_usd"),
		AlertThreshold:   v.GetFloat64("alert_threshold"),
		BreakerThreshold: v.GetFloat64("breaker_threshold"),
		Providers:        make(map[string]ProviderCredentials, len(Providers)),
	}
	var ruleEntries []string
	if items, ok := v.Get("hybrid_rules").([]any); ok {
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				ruleEntries = append(ruleEntries, fmt.Sprintf("%v:%v", m["classification"], m["provider"]))
			} else {
				ruleEntries = append(ruleEntries, fmt.Sprint(item))
			}
		}
	} else {
		ruleEntries = v.GetStringSlice("hybrid_rules")
	}
	cfg.HybridRules = parseHybridRules(ruleEntries)

	for _, p := range Providers {
		cfg.Providers[p] = ProviderCredentials{
			Endpoint:           v.GetString(p + "_endpoint"),
			APIKey:             v.GetString(p + "_api_key"),
			Region:             v.GetString(p + "_region"),
			ProjectID:          v.GetString(p + "_project_id"),
			SOTAModel:          v.GetString(p + "_sota_model"),
			CostEffectiveModel: v.GetString(p + "_cost_effective_model"),
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "cloud")
	v.SetDefault("alert_threshold", 0.8)
	v.SetDefault("breaker_threshold", 0.95)
	v.SetDefault("monthly_limit_usd", 100.0)
}

func bindEnv(v *viper.Viper) {
	keys := []string{"default_provider", "fallback_chain", "local_chain", "mode",
		"hybrid_rules", "monthly_limit_usd", "alert_threshold", "breaker_threshold"}
	for _, p := range Providers {
		keys = append(keys, p+"_endpoint", p+"_api_key", p+"_region", p+"_project_id",
			p+"_sota_model", p+"_cost_effective_model")
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// parseHybridRules accepts "classification:provider" pairs, the shape a
// flat env-var string list can carry; Load flattens a YAML file's list of
// {classification, provider} maps into the same form before calling it.
// Entries without a ':' are skipped.
func parseHybridRules(raw []string) []HybridRule {
	rules := make([]HybridRule, 0, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		rules = append(rules, HybridRule{Classification: strings.TrimSpace(parts[0]), Provider: strings.TrimSpace(parts[1])})
	}
	return rules
}

func (c Config) validate() error {
	if c.MonthlyLimitUSD <= 0 {
		return fmt.Errorf("config: monthly_limit_usd must be positive, got %v", c.MonthlyLimitUSD)
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("config: alert_threshold must be in (0,1], got %v", c.AlertThreshold)
	}
	if c.BreakerThreshold <= c.AlertThreshold || c.BreakerThreshold > 1 {
		return fmt.Errorf("config: breaker_threshold must be in (alert_threshold,1], got %v", c.BreakerThreshold)
	}
	switch c.Mode {
	case "cloud", "local", "hybrid":
	default:
		return fmt.Errorf("config: mode must be one of cloud|local|hybrid, got %q", c.Mode)
	}
	return nil
}
