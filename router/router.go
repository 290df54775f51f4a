// Package router implements the router (C6), the gateway's single public
// entry point: enforces the budget, applies hybrid routing rules, walks a
// fallback chain, and records cost on success. Built the way the teacher's
// features/model/gateway.Server composes handlers: a small attempt-loop core
// wrapped by an explicit, ordered middleware chain.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumenforge/aigateway/budget"
	"github.com/lumenforge/aigateway/catalog"
	"github.com/lumenforge/aigateway/cost"
	"github.com/lumenforge/aigateway/gateway"
	"github.com/lumenforge/aigateway/registry"
	"github.com/lumenforge/aigateway/telemetry"
)

// Mode selects the base chain-selection policy (§4.6 step 3).
type Mode string

const (
	ModeCloud  Mode = "cloud"
	ModeLocal  Mode = "local"
	ModeHybrid Mode = "hybrid"
)

// HybridRule maps a data classification to a single provider; the first
// matching rule wins.
type HybridRule struct {
	Classification gateway.Classification
	Provider       string
}

const (
	defaultCompletionTimeout = 60 * time.Second
	defaultStreamTimeout     = 5 * time.Minute
	streamIdleTimeout        = 30 * time.Second
)

// Config holds the router's static policy, loaded once at startup and never
// mutated (§6).
type Config struct {
	DefaultProvider string
	FallbackChain   []string
	Mode            Mode
	LocalChain      []string
	HybridRules     []HybridRule

	CompletionTimeout time.Duration // default 60s when zero
	StreamTimeout     time.Duration // default 5m when zero
}

// Router is the gateway's single public surface: Complete, Stream, Embed.
type Router struct {
	cfg      Config
	registry *registry.Registry
	catalog  *catalog.Catalog
	cost     *cost.Tracker
	budget   *budget.Breaker
	logger   telemetry.Logger
	metrics  telemetry.Metrics

	unary  []UnaryMiddleware
	stream []StreamMiddleware
}

// UnaryHandler serves one Complete call.
type UnaryHandler func(ctx context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error)

// UnaryMiddleware wraps a UnaryHandler with cross-cutting behaviour.
// Middlewares registered first are outermost, mirroring
// features/model/gateway.Server's chain-building order.
type UnaryMiddleware func(UnaryHandler) UnaryHandler

// StreamHandler serves one Stream call.
type StreamHandler func(ctx context.Context, req gateway.CompletionRequest) (gateway.Streamer, error)

// StreamMiddleware wraps a StreamHandler.
type StreamMiddleware func(StreamHandler) StreamHandler

// Option configures a Router at construction time.
type Option func(*Router)

// WithUnaryMiddleware registers u as the next (innermost-so-far) unary
// middleware layer.
func WithUnaryMiddleware(u UnaryMiddleware) Option {
	return func(r *Router) { r.unary = append(r.unary, u) }
}

// WithStreamMiddleware registers s as the next stream middleware layer.
func WithStreamMiddleware(s StreamMiddleware) Option {
	return func(r *Router) { r.stream = append(r.stream, s) }
}

// New constructs a Router. reg, cat, tracker, and breaker are all required.
func New(cfg Config, reg *registry.Registry, cat *catalog.Catalog, tracker *cost.Tracker, breaker *budget.Breaker, logger telemetry.Logger, metrics telemetry.Metrics, opts ...Option) *Router {
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = defaultCompletionTimeout
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	r := &Router{cfg: cfg, registry: reg, catalog: cat, cost: tracker, budget: breaker, logger: logger, metrics: metrics}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Complete resolves the request's chain, walks it, and returns the first
// successful response.
func (r *Router) Complete(ctx context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error) {
	h := r.baseComplete
	for i := len(r.unary) - 1; i >= 0; i-- {
		h = r.unary[i](h)
	}
	return h(ctx, req)
}

// Stream resolves the request's chain and returns a Streamer from the first
// provider that starts streaming successfully, honouring the
// pre-first-chunk-only fallback rule (§4.6 "Streaming specifics").
func (r *Router) Stream(ctx context.Context, req gateway.CompletionRequest) (gateway.Streamer, error) {
	h := r.baseStream
	for i := len(r.stream) - 1; i >= 0; i-- {
		h = r.stream[i](h)
	}
	return h(ctx, req)
}

// Embed resolves the request's chain and returns the first successful
// embedding result.
func (r *Router) Embed(ctx context.Context, texts []string, modelOrTier string, provider string) ([]gateway.EmbeddingVector, error) {
	req := gateway.CompletionRequest{ModelID: modelOrTier, Provider: provider}
	if err := r.admit(); err != nil {
		return nil, err
	}
	chain, err := r.buildChain(req)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, gateway.ErrNoProvidersConfigured
	}
	var attempts []gateway.AttemptError
	for _, name := range chain {
		d, err := r.registry.Get(name)
		if err != nil {
			attempts = append(attempts, gateway.AttemptError{Provider: name, Kind: gateway.KindUnavailable, Message: err.Error()})
			continue
		}
		vecs, err := d.Embed(ctx, texts, modelOrTier)
		if err == nil {
			return vecs, nil
		}
		de, _ := gateway.AsDriverError(err)
		if de == nil || !de.Kind.Transient() {
			return nil, err
		}
		attempts = append(attempts, gateway.AttemptError{Provider: name, Kind: de.Kind, Message: de.Message})
	}
	return nil, &gateway.AllProvidersFailedError{Attempts: attempts}
}

func (r *Router) admit() error {
	_, err := r.budget.CheckAndAdmit(0)
	return err
}

func (r *Router) baseComplete(ctx context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if len(req.Messages) == 0 {
		return gateway.CompletionResponse{}, gateway.ErrInvalidRequest
	}

	if _, err := r.budget.CheckAndAdmit(0); err != nil {
		return gateway.CompletionResponse{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CompletionTimeout)
	defer cancel()

	chain, err := r.buildChain(req)
	if err != nil {
		return gateway.CompletionResponse{}, err
	}
	if len(chain) == 0 {
		return gateway.CompletionResponse{}, gateway.ErrNoProvidersConfigured
	}

	var attempts []gateway.AttemptError
	for _, name := range chain {
		d, derr := r.registry.Get(name)
		if derr != nil {
			attempts = append(attempts, gateway.AttemptError{Provider: name, Kind: gateway.KindUnavailable, Message: derr.Error()})
			continue
		}

		attemptReq := req
		attemptReq.ModelID, err = r.resolveModel(name, req)
		if err != nil {
			return gateway.CompletionResponse{}, err
		}

		resp, err := d.Complete(ctx, attemptReq)
		if ctx.Err() != nil {
			return gateway.CompletionResponse{}, fmt.Errorf("%w: %w", gateway.ErrCancelled, ctx.Err())
		}
		if err == nil {
			cost := r.cost.Record(name, resp.ModelID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, req.RequestID)
			resp.CostUSD = cost
			resp.Provider = name
			resp.RequestID = req.RequestID
			r.budget.RecordUsage(cost)
			r.metrics.IncCounter("aigateway_completions_total", 1, "provider", name)
			return resp, nil
		}

		de, _ := gateway.AsDriverError(err)
		if de == nil || !de.Kind.Transient() {
			return gateway.CompletionResponse{}, err
		}
		r.logger.Warn(ctx, "provider_failed", "provider", name, "kind", string(de.Kind), "message", de.Message)
		r.metrics.IncCounter("aigateway_provider_failed_total", 1, "provider", name)
		attempts = append(attempts, gateway.AttemptError{Provider: name, Kind: de.Kind, Message: de.Message})
	}
	return gateway.CompletionResponse{}, &gateway.AllProvidersFailedError{Attempts: attempts}
}

func (r *Router) baseStream(ctx context.Context, req gateway.CompletionRequest) (gateway.Streamer, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if len(req.Messages) == 0 {
		return nil, gateway.ErrInvalidRequest
	}
	if _, err := r.budget.CheckAndAdmit(0); err != nil {
		return nil, err
	}

	chain, err := r.buildChain(req)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, gateway.ErrNoProvidersConfigured
	}

	streamCtx, cancel := context.WithTimeout(ctx, r.cfg.StreamTimeout)

	var attempts []gateway.AttemptError
	for _, name := range chain {
		d, derr := r.registry.Get(name)
		if derr != nil {
			attempts = append(attempts, gateway.AttemptError{Provider: name, Kind: gateway.KindUnavailable, Message: derr.Error()})
			continue
		}

		attemptReq := req
		attemptReq.ModelID, err = r.resolveModel(name, req)
		if err != nil {
			cancel()
			return nil, err
		}

		upstream, err := d.Stream(streamCtx, attemptReq)
		if err != nil {
			de, _ := gateway.AsDriverError(err)
			if de == nil || !de.Kind.Transient() {
				cancel()
				return nil, err
			}
			r.logger.Warn(ctx, "provider_failed", "provider", name, "kind", string(de.Kind), "message", de.Message)
			attempts = append(attempts, gateway.AttemptError{Provider: name, Kind: de.Kind, Message: de.Message})
			continue
		}

		wrapped := newFallbackStreamer(upstream, name, r.cost, r.budget, req.RequestID, r.logger, cancel, streamIdleTimeout)

		// Pre-first-chunk-only fallback rule (§4.6 "Streaming specifics"):
		// peek the first chunk before handing the streamer to the caller.
		// A transient error here is still pre-first-chunk and falls over;
		// once this chunk is buffered and returned, every later error
		// terminates the stream instead.
		first, ferr := wrapped.peekFirst()
		if ferr != nil {
			_ = upstream.Close()
			de, _ := gateway.AsDriverError(ferr)
			if de == nil || !de.Kind.Transient() {
				cancel()
				return nil, ferr
			}
			r.logger.Warn(ctx, "provider_failed", "provider", name, "kind", string(de.Kind), "message", de.Message)
			attempts = append(attempts, gateway.AttemptError{Provider: name, Kind: de.Kind, Message: de.Message})
			continue
		}
		// A synthesized finish_reason=error as the very first chunk means
		// the backend closed before producing any real content — no bytes
		// were ever handed to the caller, so this still falls within the
		// pre-first-chunk fallback window.
		if first.Type == gateway.ChunkTypeFinal && first.FinishReason == gateway.FinishError {
			_ = upstream.Close()
			attempts = append(attempts, gateway.AttemptError{Provider: name, Kind: gateway.KindUnavailable, Message: "stream closed before producing a chunk"})
			continue
		}
		return wrapped, nil
	}
	cancel()
	return nil, &gateway.AllProvidersFailedError{Attempts: attempts}
}

// resolveModel performs tier resolution against provider (§4.6 step 2, I5):
// a concrete ModelID on the request bypasses catalog lookup.
func (r *Router) resolveModel(provider string, req gateway.CompletionRequest) (string, error) {
	if req.ModelID != "" {
		return req.ModelID, nil
	}
	if req.Tier == "" {
		return "", gateway.ErrInvalidRequest
	}
	spec, ok := r.catalog.ResolveTier(provider, req.Tier)
	if !ok {
		return "", gateway.ErrInvalidRequest
	}
	return spec.ModelID, nil
}

// buildChain implements §4.6 step 3.
func (r *Router) buildChain(req gateway.CompletionRequest) ([]string, error) {
	if req.Provider != "" {
		return []string{req.Provider}, nil
	}
	switch r.cfg.Mode {
	case ModeLocal:
		return r.cfg.LocalChain, nil
	case ModeHybrid:
		for _, rule := range r.cfg.HybridRules {
			if rule.Classification == req.Classification {
				return []string{rule.Provider}, nil
			}
		}
		return r.filterAvailable(r.cfg.FallbackChain), nil
	default:
		return r.filterAvailable(r.cfg.FallbackChain), nil
	}
}

func (r *Router) filterAvailable(chain []string) []string {
	available := make(map[string]bool)
	for _, n := range r.registry.Available() {
		available[n] = true
	}
	out := make([]string, 0, len(chain))
	for _, name := range chain {
		if available[name] {
			out = append(out, name)
		}
	}
	return out
}

// BudgetState exposes the administrative budget_state() entry point.
func (r *Router) BudgetState() gateway.BudgetState { return r.budget.State() }

// ResetBudget exposes the administrative reset_budget() entry point.
func (r *Router) ResetBudget() { r.budget.Reset() }

// CostSummary exposes the administrative cost_summary() entry point.
func (r *Router) CostSummary(monthKey string) (total float64, byProvider, byModel map[string]float64) {
	return r.cost.MonthTotal(monthKey), r.cost.ProviderTotals(monthKey), r.cost.ModelTotals(monthKey)
}

// ProvidersStatus exposes the administrative providers_status() entry point.
func (r *Router) ProvidersStatus() []string { return r.registry.Available() }

// HealthCheckAll exposes the administrative health_check_all() entry point.
func (r *Router) HealthCheckAll(ctx context.Context) map[string]registry.HealthStatus {
	return r.registry.HealthCheckAll(ctx)
}
