// Command gatewaydemo wires every gateway component together against a
// config.Config and drives one completion request through it, printing the
// result and the resulting cost/budget state. It exists as a runnable
// demonstration of the full stack, not as the gateway's production entry
// point (that lives behind whatever REST/agent layer embeds this module,
// per §6 "loaded as a library").
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lumenforge/aigateway/budget"
	"github.com/lumenforge/aigateway/catalog"
	"github.com/lumenforge/aigateway/config"
	"github.com/lumenforge/aigateway/cost"
	"github.com/lumenforge/aigateway/drivers/azure"
	"github.com/lumenforge/aigateway/drivers/bedrock"
	"github.com/lumenforge/aigateway/drivers/ollama"
	"github.com/lumenforge/aigateway/drivers/vertex"
	"github.com/lumenforge/aigateway/drivers/vllm"
	"github.com/lumenforge/aigateway/gateway"
	"github.com/lumenforge/aigateway/registry"
	"github.com/lumenforge/aigateway/router"
	"github.com/lumenforge/aigateway/telemetry"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	prompt := flag.String("prompt", "Say hello in one short sentence.", "user prompt to send")
	tier := flag.String("tier", "cost_effective", "model tier: sota | cost_effective")
	useClue := flag.Bool("telemetry", false, "use clue/OTEL telemetry instead of the noop implementations")
	flag.Parse()

	if err := run(*configFile, *prompt, *tier, *useClue); err != nil {
		fmt.Fprintln(os.Stderr, "gatewaydemo:", err)
		os.Exit(1)
	}
}

func run(configFile, prompt, tierFlag string, useClue bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	var logger telemetry.Logger
	var metrics telemetry.Metrics
	if useClue {
		logger, metrics = telemetry.NewClueLogger(), telemetry.NewClueMetrics()
	} else {
		logger, metrics = telemetry.NewNoopLogger(), telemetry.NewNoopMetrics()
	}

	reg := registry.New(buildDrivers(ctx, cfg)...)

	sotaOverrides := make(map[string]string, len(cfg.Providers))
	costOverrides := make(map[string]string, len(cfg.Providers))
	for name, p := range cfg.Providers {
		sotaOverrides[name] = p.SOTAModel
		costOverrides[name] = p.CostEffectiveModel
	}
	cat := catalog.New(catalog.WithOverrides(catalog.DefaultSpecs(), sotaOverrides, costOverrides))

	tracker := cost.New(cat, nil)
	breaker := budget.New(budget.Config{
		MonthlyLimitUSD:  cfg.MonthlyLimitUSD,
		AlertThreshold:   cfg.AlertThreshold,
		BreakerThreshold: cfg.BreakerThreshold,
	}, budget.NewLogSink(logger))

	hybridRules := make([]router.HybridRule, 0, len(cfg.HybridRules))
	for _, r := range cfg.HybridRules {
		hybridRules = append(hybridRules, router.HybridRule{Classification: gateway.Classification(r.Classification), Provider: r.Provider})
	}

	rt := router.New(router.Config{
		DefaultProvider: cfg.DefaultProvider,
		FallbackChain:   cfg.FallbackChain,
		Mode:            router.Mode(cfg.Mode),
		LocalChain:      cfg.LocalChain,
		HybridRules:     hybridRules,
	}, reg, cat, tracker, breaker, logger, metrics)

	tierValue := gateway.TierCostEffective
	if tierFlag == "sota" {
		tierValue = gateway.TierSOTA
	}

	resp, err := rt.Complete(ctx, gateway.CompletionRequest{
		Messages: []gateway.ChatMessage{{Role: gateway.RoleUser, Content: prompt}},
		Tier:     tierValue,
	})
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}

	fmt.Printf("provider=%s model=%s finish=%s cost_usd=%.6f\n", resp.Provider, resp.ModelID, resp.FinishReason, resp.CostUSD)
	fmt.Println(resp.Content)

	state := rt.BudgetState()
	fmt.Printf("budget: month=%s spend_usd=%.6f circuit=%s\n", state.MonthKey, state.SpendUSD, state.Circuit)
	return nil
}

func buildDrivers(ctx context.Context, cfg config.Config) []gateway.Driver {
	azureCfg := cfg.Providers["azure"]
	awsCfg := cfg.Providers["aws"]
	gcpCfg := cfg.Providers["gcp"]
	ollamaCfg := cfg.Providers["ollama"]
	vllmCfg := cfg.Providers["vllm"]

	return []gateway.Driver{
		azure.New(azure.Options{
			Endpoint:   azureCfg.Endpoint,
			APIKey:     azureCfg.APIKey,
			Deployment: azureCfg.CostEffectiveModel,
		}),
		bedrock.New(ctx, bedrock.Options{
			Region:       awsCfg.Region,
			DefaultModel: awsCfg.CostEffectiveModel,
		}),
		vertex.New(ctx, vertex.Options{
			Project:      gcpCfg.ProjectID,
			Location:     gcpCfg.Region,
			DefaultModel: gcpCfg.CostEffectiveModel,
		}),
		ollama.New(ollama.Options{
			BaseURL:      ollamaCfg.Endpoint,
			DefaultModel: ollamaCfg.CostEffectiveModel,
		}),
		vllm.New(vllm.Options{
			BaseURL:      vllmCfg.Endpoint,
			APIKey:       vllmCfg.APIKey,
			DefaultModel: vllmCfg.CostEffectiveModel,
		}),
	}
}
