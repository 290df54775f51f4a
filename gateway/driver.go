package gateway

import "context"

// Driver is the capability set every provider adapter implements: complete,
// stream, embed, health_check, close (§4.1). Each backend is an independent
// value type implementing this interface — there is no class hierarchy.
type Driver interface {
	// Name is the canonical provider name ("azure", "aws", "gcp", "ollama",
	// "vllm").
	Name() string

	// Configured reports whether this driver has the credentials (and
	// endpoint, where applicable) needed to be used. An unconfigured driver
	// is excluded from routing, and its HealthCheck returns a "not
	// configured" error without contacting the backend.
	Configured() bool

	// Complete issues one non-streaming call.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream issues one streaming call. The returned Streamer is a finite,
	// single-pass, non-restartable sequence of chunks; callers must consume
	// it to completion or Close it.
	Stream(ctx context.Context, req CompletionRequest) (Streamer, error)

	// Embed computes embedding vectors for texts using model. Drivers that
	// do not support embeddings return the *DriverError built by
	// NewEmbeddingUnsupportedError.
	Embed(ctx context.Context, texts []string, model string) ([]EmbeddingVector, error)

	// HealthCheck reports whether the backend is reachable. Callers bound
	// this call with a context deadline (5s per §4.1); the driver must
	// respect ctx cancellation rather than enforcing its own timeout.
	HealthCheck(ctx context.Context) error

	// Close releases all open connections. Idempotent.
	Close() error
}

// Streamer is the idiomatic pull-based iterator every driver's Stream
// returns, chosen and held to uniformly across all five drivers (§9
// "Async/streaming"): a producer goroutine feeds a buffered channel; Recv
// pulls the next chunk or returns io.EOF after the terminal chunk; Close is
// idempotent and aborts the upstream connection.
type Streamer interface {
	// Recv returns the next chunk, or io.EOF once the terminal chunk has
	// been delivered and consumed.
	Recv() (StreamChunk, error)
	// Close releases resources and aborts the upstream connection if still
	// open. Safe to call multiple times and after Recv has returned io.EOF.
	Close() error
}

// NewEmbeddingUnsupportedError builds the DriverError a driver returns from
// Embed when it does not implement embeddings.
func NewEmbeddingUnsupportedError(provider string) *DriverError {
	return &DriverError{
		Provider:  provider,
		Operation: "embed",
		Kind:      KindInternal,
		Message:   "embedding not supported by this driver",
	}
}
