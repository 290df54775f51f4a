// Package gateway defines the provider-agnostic contract shared by every
// backend driver, the router, and the cross-cutting cost and budget
// controls: chat messages, completion requests/responses, stream chunks,
// model specs, cost records, and budget state.
package gateway

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	Role    Role
	Content string
}

// Tier is a quality/cost preset resolved by the catalog to a concrete model.
type Tier string

const (
	TierSOTA          Tier = "sota"
	TierCostEffective Tier = "cost_effective"
)

// Classification is the data-sensitivity tag used by hybrid routing.
type Classification string

const (
	ClassificationConfidential Classification = "confidential"
	ClassificationInternal     Classification = "internal"
	ClassificationGeneral      Classification = "general"
	ClassificationPublic       Classification = "public"
)

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCall      FinishReason = "tool_call"
	FinishError         FinishReason = "error"
)

// CompletionRequest is the normalized input to a chat completion, streaming
// completion, or embedding call. A request selects a target model either by
// an explicit ModelID or by Tier; it never carries both in effect — a
// non-empty ModelID takes precedence (see the router's resolveModel).
type CompletionRequest struct {
	Messages []ChatMessage

	// ModelID, when non-empty, names a concrete backend model directly,
	// bypassing tier resolution except for pricing lookup.
	ModelID string
	// Tier is consulted only when ModelID is empty.
	Tier Tier

	Temperature float32 // [0,2]
	MaxTokens   int
	TopP        float32  // nucleus sampling fraction
	Stop        []string // stop strings

	Classification Classification // optional

	// Provider, when non-empty, pins the request to one provider and
	// disables fallback (router §4.6 step 3).
	Provider string

	// RequestID correlates this request across logs, cost records, and
	// observations. Generated by the router when the caller leaves it empty.
	RequestID string
}

// TokenUsage is the prompt/completion/total token triple.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// Estimated is true when the driver computed this usage from the
	// character-length heuristic rather than reading it from the backend.
	Estimated bool
}

// CompletionResponse is the normalized output of a non-streaming completion.
type CompletionResponse struct {
	Content      string
	Provider     string
	ModelID      string
	Usage        TokenUsage
	CostUSD      float64
	FinishReason FinishReason
	RequestID    string
}

// ChunkType identifies the payload carried by a StreamChunk.
type ChunkType string

const (
	ChunkTypeDelta ChunkType = "delta"
	ChunkTypeFinal ChunkType = "final"
)

// StreamChunk is one increment of a streaming completion. Provider and Model
// are stable across every chunk of one response. Usage and FinishReason are
// populated only on the terminal chunk (Type == ChunkTypeFinal).
type StreamChunk struct {
	Type         ChunkType
	Delta        string
	Provider     string
	ModelID      string
	Usage        TokenUsage
	FinishReason FinishReason
}

// ModelSpec describes one catalog entry: a concrete backend model and its
// published per-1k-token prices.
type ModelSpec struct {
	Provider          string
	Tier              Tier
	ModelID           string
	InputUSDPer1K     float64
	OutputUSDPer1K    float64
	ContextWindow     int
}

// CostRecord is an immutable ledger entry produced by a completed request.
type CostRecord struct {
	Timestamp        time.Time
	Provider         string
	ModelID          string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	RequestID        string
	// UnknownModel is true when ModelID had no catalog pricing entry and was
	// priced at zero.
	UnknownModel bool
	// Sequence breaks ties between records with identical timestamps (§5:
	// "ties are broken by a per-process sequence number").
	Sequence uint64
}

// CircuitState is the budget breaker's three-state machine value.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
	CircuitOpen     CircuitState = "OPEN"
)

// BudgetState is a read-only snapshot of the budget circuit breaker.
type BudgetState struct {
	MonthlyLimitUSD  float64
	AlertThreshold   float64
	BreakerThreshold float64
	MonthKey         string // "YYYY-MM"
	SpendUSD         float64
	Circuit          CircuitState
}

// EmbeddingVector is a single embedding result; all vectors returned from one
// Embed call share the same dimension.
type EmbeddingVector []float32
