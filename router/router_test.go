package router_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenforge/aigateway/budget"
	"github.com/lumenforge/aigateway/catalog"
	"github.com/lumenforge/aigateway/cost"
	"github.com/lumenforge/aigateway/gateway"
	"github.com/lumenforge/aigateway/registry"
	"github.com/lumenforge/aigateway/router"
)

// fakeDriver is an in-memory gateway.Driver, mirroring the fake-client
// pattern used throughout the teacher's provider client tests: a scripted
// response or error per call, no network I/O.
type fakeDriver struct {
	name       string
	configured bool

	completeResp gateway.CompletionResponse
	completeErr  error

	streamChunks []gateway.StreamChunk
	streamErr    error // returned from Stream itself, before any chunk

	embedVecs []gateway.EmbeddingVector
	embedErr  error

	calls int
}

func (f *fakeDriver) Name() string     { return f.name }
func (f *fakeDriver) Configured() bool { return f.configured }

func (f *fakeDriver) Complete(_ context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error) {
	f.calls++
	if f.completeErr != nil {
		return gateway.CompletionResponse{}, f.completeErr
	}
	resp := f.completeResp
	resp.ModelID = req.ModelID
	return resp, nil
}

func (f *fakeDriver) Stream(_ context.Context, req gateway.CompletionRequest) (gateway.Streamer, error) {
	f.calls++
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	chunks := make([]gateway.StreamChunk, len(f.streamChunks))
	copy(chunks, f.streamChunks)
	for i := range chunks {
		if chunks[i].ModelID == "" {
			chunks[i].ModelID = req.ModelID
		}
	}
	return &fakeStreamer{chunks: chunks}, nil
}

func (f *fakeDriver) Embed(context.Context, []string, string) ([]gateway.EmbeddingVector, error) {
	f.calls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedVecs, nil
}

func (f *fakeDriver) HealthCheck(context.Context) error { return nil }
func (f *fakeDriver) Close() error                      { return nil }

// fakeStreamer replays a scripted chunk sequence.
type fakeStreamer struct {
	chunks []gateway.StreamChunk
	i      int
	closed bool
}

func (s *fakeStreamer) Recv() (gateway.StreamChunk, error) {
	if s.i >= len(s.chunks) {
		return gateway.StreamChunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStreamer) Close() error {
	s.closed = true
	return nil
}

func transientErr(provider string) *gateway.DriverError {
	return &gateway.DriverError{Provider: provider, Operation: "complete", Kind: gateway.KindUnavailable, Message: "down", Retryable: true}
}

func terminalErr(provider string) *gateway.DriverError {
	return &gateway.DriverError{Provider: provider, Operation: "complete", Kind: gateway.KindAuth, Message: "bad key"}
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]gateway.ModelSpec{
		{Provider: "aws", Tier: gateway.TierSOTA, ModelID: "aws-sota", InputUSDPer1K: 1, OutputUSDPer1K: 2},
		{Provider: "azure", Tier: gateway.TierSOTA, ModelID: "azure-sota", InputUSDPer1K: 1, OutputUSDPer1K: 2},
		{Provider: "gcp", Tier: gateway.TierSOTA, ModelID: "gcp-sota", InputUSDPer1K: 1, OutputUSDPer1K: 2},
	})
}

func newTestRouter(t *testing.T, cfg router.Config, reg *registry.Registry, tracker *cost.Tracker, breaker *budget.Breaker) *router.Router {
	t.Helper()
	if tracker == nil {
		tracker = cost.New(testCatalog(), nil)
	}
	if breaker == nil {
		breaker = budget.New(budget.Config{MonthlyLimitUSD: 100, AlertThreshold: 0.8, BreakerThreshold: 0.95}, nil)
	}
	return router.New(cfg, reg, testCatalog(), tracker, breaker, nil, nil)
}

func chatReq(tier gateway.Tier) gateway.CompletionRequest {
	return gateway.CompletionRequest{
		Messages: []gateway.ChatMessage{{Role: gateway.RoleUser, Content: "hello"}},
		Tier:     tier,
	}
}

// TestS1CompletionCostsMatchCatalog mirrors spec scenario S1: a successful
// completion against a $1/$2-per-1k model with 100/50 tokens costs $0.20 and
// is attributed to the provider that actually served it.
func TestS1CompletionCostsMatchCatalog(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true, completeResp: gateway.CompletionResponse{
		Content: "hi", FinishReason: gateway.FinishStop,
		Usage: gateway.TokenUsage{PromptTokens: 100, CompletionTokens: 50},
	}}
	reg := registry.New(aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"aws"}}, reg, nil, nil)

	resp, err := r.Complete(context.Background(), chatReq(gateway.TierSOTA))
	require.NoError(t, err)
	require.Equal(t, "aws", resp.Provider)
	require.Equal(t, "aws-sota", resp.ModelID)
	require.InDelta(t, 0.2, resp.CostUSD, 1e-9)
}

// TestS2TransientErrorFallsOverToNextProvider mirrors S2: the first provider
// in the chain fails with a transient kind, the router falls over to the
// next, and the failed attempt never reaches the cost tracker.
func TestS2TransientErrorFallsOverToNextProvider(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: true, completeErr: transientErr("azure")}
	aws := &fakeDriver{name: "aws", configured: true, completeResp: gateway.CompletionResponse{
		FinishReason: gateway.FinishStop, Usage: gateway.TokenUsage{PromptTokens: 10, CompletionTokens: 10},
	}}
	reg := registry.New(azure, aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure", "aws"}}, reg, nil, nil)

	resp, err := r.Complete(context.Background(), chatReq(gateway.TierSOTA))
	require.NoError(t, err)
	require.Equal(t, "aws", resp.Provider)
	require.Equal(t, 1, azure.calls)
	require.Equal(t, 1, aws.calls)
}

// TestNonTransientErrorDoesNotFallOver mirrors §4.6 step 4: an auth failure
// is terminal — the router must not try the next provider in the chain.
func TestNonTransientErrorDoesNotFallOver(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: true, completeErr: terminalErr("azure")}
	aws := &fakeDriver{name: "aws", configured: true}
	reg := registry.New(azure, aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure", "aws"}}, reg, nil, nil)

	_, err := r.Complete(context.Background(), chatReq(gateway.TierSOTA))
	require.Error(t, err)
	var de *gateway.DriverError
	require.True(t, errors.As(err, &de))
	require.Equal(t, gateway.KindAuth, de.Kind)
	require.Zero(t, aws.calls, "non-transient error must not trigger fallback")
}

// TestAllProvidersFailedWrapsSentinelAndAttempts mirrors §4.6 step 5's
// exhaustion path: every provider in the chain fails transiently, and the router
// returns an AllProvidersFailedError carrying every attempt in order.
func TestAllProvidersFailedWrapsSentinelAndAttempts(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: true, completeErr: transientErr("azure")}
	aws := &fakeDriver{name: "aws", configured: true, completeErr: transientErr("aws")}
	reg := registry.New(azure, aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure", "aws"}}, reg, nil, nil)

	_, err := r.Complete(context.Background(), chatReq(gateway.TierSOTA))
	require.ErrorIs(t, err, gateway.ErrAllProvidersFailed)

	var afe *gateway.AllProvidersFailedError
	require.True(t, errors.As(err, &afe))
	require.Len(t, afe.Attempts, 2)
	require.Equal(t, "azure", afe.Attempts[0].Provider)
	require.Equal(t, "aws", afe.Attempts[1].Provider)
}

// TestS3BudgetExceededDeniesBeforeTouchingAnyDriver mirrors S3: an OPEN
// circuit rejects the call before any provider is invoked.
func TestS3BudgetExceededDeniesBeforeTouchingAnyDriver(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true}
	reg := registry.New(aws)
	breaker := budget.New(budget.Config{MonthlyLimitUSD: 1, AlertThreshold: 0.8, BreakerThreshold: 0.95}, nil)
	breaker.RecordUsage(0.99)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"aws"}}, reg, nil, breaker)

	_, err := r.Complete(context.Background(), chatReq(gateway.TierSOTA))
	require.ErrorIs(t, err, gateway.ErrBudgetExceeded)
	require.Zero(t, aws.calls, "a provider must never be invoked once the circuit is OPEN")
}

// TestExplicitProviderOverrideBypassesFallbackChain mirrors §4.6 step 3: a
// request naming Provider pins the chain to a singleton and disables
// fallback even when that provider then fails transiently.
func TestExplicitProviderOverrideBypassesFallbackChain(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: true, completeErr: transientErr("azure")}
	aws := &fakeDriver{name: "aws", configured: true}
	reg := registry.New(azure, aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure", "aws"}}, reg, nil, nil)

	req := chatReq(gateway.TierSOTA)
	req.Provider = "azure"
	_, err := r.Complete(context.Background(), req)
	require.Error(t, err)
	require.Zero(t, aws.calls, "explicit provider override must not fall over")
}

// TestLocalModeUsesLocalChain mirrors §4.6 step 3: local mode ignores the
// cloud fallback chain entirely.
func TestLocalModeUsesLocalChain(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true}
	ollama := &fakeDriver{name: "ollama", configured: true, completeResp: gateway.CompletionResponse{FinishReason: gateway.FinishStop}}
	reg := registry.New(aws, ollama)
	r := newTestRouter(t, router.Config{
		Mode: router.ModeLocal, FallbackChain: []string{"aws"}, LocalChain: []string{"ollama"},
	}, reg, nil, nil)

	req := chatReq("")
	req.ModelID = "llama3.1:8b"
	resp, err := r.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "ollama", resp.Provider)
	require.Zero(t, aws.calls)
}

// TestHybridModeRoutesByClassification mirrors §4.6 step 3's hybrid mode:
// the first matching rule wins and the fallback chain is not consulted.
func TestHybridModeRoutesByClassification(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true}
	azure := &fakeDriver{name: "azure", configured: true, completeResp: gateway.CompletionResponse{FinishReason: gateway.FinishStop}}
	reg := registry.New(aws, azure)
	r := newTestRouter(t, router.Config{
		Mode:          router.ModeHybrid,
		FallbackChain: []string{"aws"},
		HybridRules:   []router.HybridRule{{Classification: gateway.ClassificationConfidential, Provider: "azure"}},
	}, reg, nil, nil)

	req := chatReq(gateway.TierSOTA)
	req.Classification = gateway.ClassificationConfidential
	resp, err := r.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "azure", resp.Provider)
	require.Zero(t, aws.calls)
}

// TestHybridModeFallsBackToCloudChainWhenNoRuleMatches covers the hybrid
// "else" branch of §4.6 step 3.
func TestHybridModeFallsBackToCloudChainWhenNoRuleMatches(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true, completeResp: gateway.CompletionResponse{FinishReason: gateway.FinishStop}}
	reg := registry.New(aws)
	r := newTestRouter(t, router.Config{
		Mode:          router.ModeHybrid,
		FallbackChain: []string{"aws"},
		HybridRules:   []router.HybridRule{{Classification: gateway.ClassificationConfidential, Provider: "azure"}},
	}, reg, nil, nil)

	req := chatReq(gateway.TierSOTA)
	req.Classification = gateway.ClassificationPublic
	resp, err := r.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "aws", resp.Provider)
}

// TestNoProvidersConfiguredWhenChainFiltersToEmpty mirrors §7's
// ErrNoProvidersConfigured: every chain entry is filtered out by
// registry.Available.
func TestNoProvidersConfiguredWhenChainFiltersToEmpty(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: false}
	reg := registry.New(azure)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure"}}, reg, nil, nil)

	_, err := r.Complete(context.Background(), chatReq(gateway.TierSOTA))
	require.ErrorIs(t, err, gateway.ErrNoProvidersConfigured)
}

// TestEmptyMessagesIsInvalidRequest covers the request-shape guard ahead of
// budget admission.
func TestEmptyMessagesIsInvalidRequest(t *testing.T) {
	reg := registry.New(&fakeDriver{name: "aws", configured: true})
	r := newTestRouter(t, router.Config{FallbackChain: []string{"aws"}}, reg, nil, nil)

	_, err := r.Complete(context.Background(), gateway.CompletionRequest{Tier: gateway.TierSOTA})
	require.ErrorIs(t, err, gateway.ErrInvalidRequest)
}

// TestMissingModelIDAndTierIsInvalidRequest covers resolveModel's guard (I5):
// a request with neither a concrete ModelID nor a Tier cannot be resolved.
func TestMissingModelIDAndTierIsInvalidRequest(t *testing.T) {
	reg := registry.New(&fakeDriver{name: "aws", configured: true})
	r := newTestRouter(t, router.Config{FallbackChain: []string{"aws"}}, reg, nil, nil)

	req := gateway.CompletionRequest{Messages: []gateway.ChatMessage{{Role: gateway.RoleUser, Content: "hi"}}}
	_, err := r.Complete(context.Background(), req)
	require.ErrorIs(t, err, gateway.ErrInvalidRequest)
}

// TestConcreteModelIDBypassesTierResolution mirrors I5: a request naming a
// concrete ModelID skips catalog tier lookup entirely.
func TestConcreteModelIDBypassesTierResolution(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true, completeResp: gateway.CompletionResponse{FinishReason: gateway.FinishStop}}
	reg := registry.New(aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"aws"}}, reg, nil, nil)

	req := gateway.CompletionRequest{
		Messages: []gateway.ChatMessage{{Role: gateway.RoleUser, Content: "hi"}},
		ModelID:  "some-custom-deployment",
	}
	resp, err := r.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "some-custom-deployment", resp.ModelID)
}

// TestStreamSuccessRecordsCostOnTerminalChunkOnly drains a scripted stream
// end to end and asserts cost is recorded exactly once, at the terminal
// chunk, using real usage when the backend supplies it.
func TestStreamSuccessRecordsCostOnTerminalChunkOnly(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true, streamChunks: []gateway.StreamChunk{
		{Type: gateway.ChunkTypeDelta, Delta: "hel"},
		{Type: gateway.ChunkTypeDelta, Delta: "lo"},
		{Type: gateway.ChunkTypeFinal, FinishReason: gateway.FinishStop, Usage: gateway.TokenUsage{PromptTokens: 100, CompletionTokens: 50}},
	}}
	reg := registry.New(aws)
	tracker := cost.New(testCatalog(), nil)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"aws"}}, reg, tracker, nil)

	s, err := r.Stream(context.Background(), chatReq(gateway.TierSOTA))
	require.NoError(t, err)

	var got []string
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if chunk.Type == gateway.ChunkTypeDelta {
			got = append(got, chunk.Delta)
		}
	}
	require.Equal(t, []string{"hel", "lo"}, got)

	page := tracker.List("", "", "", "", 10)
	require.Len(t, page.Records, 1)
	require.InDelta(t, 0.2, page.Records[0].CostUSD, 1e-9)
}

// TestStreamPreFirstChunkFallback mirrors §4.6 "Streaming specifics": a
// synthesized finish_reason=error as the very first chunk is still within
// the pre-first-chunk fallback window, so the router tries the next
// provider instead of surfacing the error.
func TestStreamPreFirstChunkFallback(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: true, streamChunks: []gateway.StreamChunk{
		{Type: gateway.ChunkTypeFinal, FinishReason: gateway.FinishError},
	}}
	aws := &fakeDriver{name: "aws", configured: true, streamChunks: []gateway.StreamChunk{
		{Type: gateway.ChunkTypeDelta, Delta: "hi"},
		{Type: gateway.ChunkTypeFinal, FinishReason: gateway.FinishStop, Usage: gateway.TokenUsage{PromptTokens: 1, CompletionTokens: 1}},
	}}
	reg := registry.New(azure, aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure", "aws"}}, reg, nil, nil)

	s, err := r.Stream(context.Background(), chatReq(gateway.TierSOTA))
	require.NoError(t, err)
	chunk, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, gateway.ChunkTypeDelta, chunk.Type)
	require.Equal(t, "hi", chunk.Delta)
}

// TestStreamMidFlightErrorDoesNotFallBack mirrors §4.6: once a real first
// chunk has been handed to the caller, a later synthesized error terminates
// the stream instead of trying another provider, and no cost is recorded.
func TestStreamMidFlightErrorDoesNotFallBack(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true, streamChunks: []gateway.StreamChunk{
		{Type: gateway.ChunkTypeDelta, Delta: "partial"},
		{Type: gateway.ChunkTypeFinal, FinishReason: gateway.FinishError},
	}}
	reg := registry.New(aws)
	tracker := cost.New(testCatalog(), nil)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"aws"}}, reg, tracker, nil)

	s, err := r.Stream(context.Background(), chatReq(gateway.TierSOTA))
	require.NoError(t, err)

	first, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, gateway.ChunkTypeDelta, first.Type)

	final, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, gateway.FinishError, final.FinishReason)

	require.Empty(t, tracker.List("", "", "", "", 10).Records, "a stream that errors mid-flight charges nothing")
}

// TestStreamUsesCharEstimateWhenBackendOmitsUsage mirrors §4.1's token-usage
// resolution fallback: no real usage on the terminal chunk falls back to the
// ceil(chars/4) heuristic and flags Estimated.
func TestStreamUsesCharEstimateWhenBackendOmitsUsage(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true, streamChunks: []gateway.StreamChunk{
		{Type: gateway.ChunkTypeDelta, Delta: "12345678"}, // 8 chars -> ceil(8/4) = 2 tokens
		{Type: gateway.ChunkTypeFinal, FinishReason: gateway.FinishStop},
	}}
	reg := registry.New(aws)
	tracker := cost.New(testCatalog(), nil)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"aws"}}, reg, tracker, nil)

	s, err := r.Stream(context.Background(), chatReq(gateway.TierSOTA))
	require.NoError(t, err)
	for {
		_, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	page := tracker.List("", "", "", "", 10)
	require.Len(t, page.Records, 1)
	require.InDelta(t, 2.0/1000.0, page.Records[0].CostUSD, 1e-9, "2 estimated completion tokens at $1/1k = $0.002")
}

// TestEmbedFallsOverOnTransientErrorAndReturnsFirstSuccess mirrors the
// Complete fallback semantics applied to Embed.
func TestEmbedFallsOverOnTransientErrorAndReturnsFirstSuccess(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: true, embedErr: transientErr("azure")}
	aws := &fakeDriver{name: "aws", configured: true, embedVecs: []gateway.EmbeddingVector{{0.1, 0.2}}}
	reg := registry.New(azure, aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure", "aws"}}, reg, nil, nil)

	vecs, err := r.Embed(context.Background(), []string{"text"}, "some-model", "")
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Equal(t, 1, azure.calls)
	require.Equal(t, 1, aws.calls)
}

// TestEmbedUnsupportedFallsOverToNextProvider mirrors NewEmbeddingUnsupportedError's
// KindInternal, which Transient() reports true for — so Embed unsupported
// actually does fall over, matching Complete/Stream's identical treatment of
// KindInternal as transient.
func TestEmbedUnsupportedFallsOverToNextProvider(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: true, embedErr: gateway.NewEmbeddingUnsupportedError("azure")}
	aws := &fakeDriver{name: "aws", configured: true, embedVecs: []gateway.EmbeddingVector{{0.5}}}
	reg := registry.New(azure, aws)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure", "aws"}}, reg, nil, nil)

	vecs, err := r.Embed(context.Background(), []string{"text"}, "some-model", "")
	require.NoError(t, err)
	require.Len(t, vecs, 1)
}

// TestEmbedNoProvidersConfiguredWhenChainFiltersToEmpty mirrors
// TestNoProvidersConfiguredWhenChainFiltersToEmpty for Embed: an empty chain
// must report ErrNoProvidersConfigured, not AllProvidersFailedError with a
// nil attempt list.
func TestEmbedNoProvidersConfiguredWhenChainFiltersToEmpty(t *testing.T) {
	azure := &fakeDriver{name: "azure", configured: false}
	reg := registry.New(azure)
	r := newTestRouter(t, router.Config{FallbackChain: []string{"azure"}}, reg, nil, nil)

	_, err := r.Embed(context.Background(), []string{"text"}, "some-model", "")
	require.ErrorIs(t, err, gateway.ErrNoProvidersConfigured)
}

// TestBudgetStateAndCostSummaryAdminEntryPoints smoke-tests the
// administrative accessors exposed alongside Complete/Stream/Embed.
func TestBudgetStateAndCostSummaryAdminEntryPoints(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true, completeResp: gateway.CompletionResponse{
		FinishReason: gateway.FinishStop, Usage: gateway.TokenUsage{PromptTokens: 100, CompletionTokens: 50},
	}}
	reg := registry.New(aws)
	breaker := budget.New(budget.Config{MonthlyLimitUSD: 100, AlertThreshold: 0.8, BreakerThreshold: 0.95}, nil)
	tracker := cost.New(testCatalog(), nil)
	r := router.New(router.Config{FallbackChain: []string{"aws"}}, reg, testCatalog(), tracker, breaker, nil, nil)

	_, err := r.Complete(context.Background(), chatReq(gateway.TierSOTA))
	require.NoError(t, err)

	state := r.BudgetState()
	require.InDelta(t, 0.2, state.SpendUSD, 1e-9)

	monthKey := cost.MonthKey(time.Now())
	total, byProvider, _ := r.CostSummary(monthKey)
	require.InDelta(t, 0.2, total, 1e-9)
	require.InDelta(t, 0.2, byProvider["aws"], 1e-9)

	r.ResetBudget()
	require.Zero(t, r.BudgetState().SpendUSD)

	require.Equal(t, []string{"aws"}, r.ProvidersStatus())
}

// TestUnaryMiddlewareOrderingIsOutermostFirst mirrors the chain-composition
// doc comment on UnaryMiddleware: the first-registered middleware wraps
// every later one, so it observes the call first and the return value last.
func TestUnaryMiddlewareOrderingIsOutermostFirst(t *testing.T) {
	aws := &fakeDriver{name: "aws", configured: true, completeResp: gateway.CompletionResponse{FinishReason: gateway.FinishStop}}
	reg := registry.New(aws)

	var order []string
	trace := func(name string) router.UnaryMiddleware {
		return func(next router.UnaryHandler) router.UnaryHandler {
			return func(ctx context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	r := router.New(router.Config{FallbackChain: []string{"aws"}}, reg, testCatalog(), cost.New(testCatalog(), nil),
		budget.New(budget.Config{MonthlyLimitUSD: 100, AlertThreshold: 0.8, BreakerThreshold: 0.95}, nil), nil, nil,
		router.WithUnaryMiddleware(trace("outer")), router.WithUnaryMiddleware(trace("inner")))

	_, err := r.Complete(context.Background(), chatReq(gateway.TierSOTA))
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner"}, order)
}
