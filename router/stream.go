package router

import (
	"context"
	"io"
	"time"

	"github.com/lumenforge/aigateway/budget"
	"github.com/lumenforge/aigateway/cost"
	"github.com/lumenforge/aigateway/gateway"
	"github.com/lumenforge/aigateway/telemetry"
)

// fallbackStreamer wraps one provider's gateway.Streamer with the router's
// cross-cutting concerns: a buffered first chunk (peeked during attempt
// selection so the pre-first-chunk fallback rule can be enforced one layer
// up), per-chunk idle timeout, and terminal-chunk cost/budget bookkeeping.
type fallbackStreamer struct {
	upstream  gateway.Streamer
	provider  string
	requestID string

	cost    *cost.Tracker
	breaker *budget.Breaker
	logger  telemetry.Logger
	cancel  context.CancelFunc

	idleTimeout time.Duration

	buffered   *gateway.StreamChunk
	done       bool
	// accumulated usage estimate for the terminal chunk when the backend
	// never reports usage (§4.1 "Token-usage resolution").
	outputChars int
}

func newFallbackStreamer(upstream gateway.Streamer, provider string, tracker *cost.Tracker, breaker *budget.Breaker, requestID string, logger telemetry.Logger, cancel context.CancelFunc, idleTimeout time.Duration) *fallbackStreamer {
	return &fallbackStreamer{
		upstream: upstream, provider: provider, requestID: requestID,
		cost: tracker, breaker: breaker, logger: logger, cancel: cancel, idleTimeout: idleTimeout,
	}
}

// peekFirst pulls the first chunk off upstream, applying the idle timeout.
// Returns the chunk and nil on success. On error, the caller (router
// attempt loop) decides whether to fall back or close the streamer.
func (s *fallbackStreamer) peekFirst() (gateway.StreamChunk, error) {
	chunk, err := s.recvWithTimeout()
	if err != nil {
		return gateway.StreamChunk{}, err
	}
	s.buffered = &chunk
	return chunk, nil
}

type recvResult struct {
	chunk gateway.StreamChunk
	err   error
}

// recvWithTimeout enforces the 30s idle timeout between chunks (§5
// "Timeouts"): a goroutine drives the blocking upstream.Recv while the
// caller selects against an idle timer, matching the channel-based pull
// iterator convention used across every driver's own Streamer.
func (s *fallbackStreamer) recvWithTimeout() (gateway.StreamChunk, error) {
	ch := make(chan recvResult, 1)
	go func() {
		c, err := s.upstream.Recv()
		ch <- recvResult{chunk: c, err: err}
	}()
	timeout := s.idleTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case r := <-ch:
		return r.chunk, r.err
	case <-time.After(timeout):
		return gateway.StreamChunk{}, &gateway.DriverError{
			Provider: s.provider, Operation: "stream", Kind: gateway.KindUnavailable,
			Message: "idle timeout waiting for next chunk",
		}
	}
}

// Recv implements gateway.Streamer, yielding the buffered first chunk (if
// any) before pulling further chunks, and recording cost/debiting budget
// exactly once at the terminal chunk.
func (s *fallbackStreamer) Recv() (gateway.StreamChunk, error) {
	if s.done {
		return gateway.StreamChunk{}, io.EOF
	}
	var chunk gateway.StreamChunk
	var err error
	if s.buffered != nil {
		chunk, s.buffered = *s.buffered, nil
	} else {
		chunk, err = s.recvWithTimeout()
		if err != nil {
			s.done = true
			return gateway.StreamChunk{}, err
		}
	}

	s.outputChars += len(chunk.Delta)
	if chunk.Type == gateway.ChunkTypeFinal {
		s.done = true
		// A stream that errors mid-flight (synthesized finish_reason=error
		// terminal chunk) debits zero and emits no cost record (§7).
		if chunk.FinishReason == gateway.FinishError {
			return chunk, nil
		}
		usage := chunk.Usage
		if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
			usage.CompletionTokens = (s.outputChars + 3) / 4
			usage.Estimated = true
		}
		costUSD := s.cost.Record(s.provider, chunk.ModelID, usage.PromptTokens, usage.CompletionTokens, s.requestID)
		s.breaker.RecordUsage(costUSD)
	}
	return chunk, nil
}

// Close aborts the upstream connection. Idempotent. No cost is charged for a
// stream closed before it ever yielded a terminal chunk (§5).
func (s *fallbackStreamer) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.upstream.Close()
}
