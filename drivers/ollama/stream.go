package ollama

import (
	"context"
	"io"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/lumenforge/aigateway/gateway"
)

// streamer adapts an openai-go SSE stream of ChatCompletionChunk events into
// gateway.StreamChunk values, following the goroutine+channel+ctx.Done()
// Recv/Close convention grounded on features/model/bedrock/stream.go — the
// one streaming idiom this module holds to across every driver.
type streamer struct {
	ctx      context.Context
	cancel   context.CancelFunc
	provider string

	chunks chan gateway.StreamChunk
	errMu  sync.Mutex
	err    error

	modelID     string
	outputChars int
	promptChars int
	closeOnce   sync.Once
	sse         *ssestream.Stream[openai.ChatCompletionChunk]
}

func newStreamer(ctx context.Context, sse *ssestream.Stream[openai.ChatCompletionChunk], provider string, promptChars int) *streamer {
	ctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: ctx, cancel: cancel, provider: provider, chunks: make(chan gateway.StreamChunk, 8), sse: sse, promptChars: promptChars}
	go s.run()
	return s
}

// promptCharLen sums the character length of every message's content, the
// input side of §4.1's ⌈char_length/4⌉ estimate used when the backend omits
// usage.
func promptCharLen(messages []gateway.ChatMessage) int {
	var n int
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}

func (s *streamer) run() {
	defer close(s.chunks)
	for s.sse.Next() {
		chunk := s.sse.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		s.modelID = chunk.Model
		if choice.FinishReason != "" {
			usage := gateway.TokenUsage{}
			if chunk.Usage.TotalTokens > 0 {
				usage = gateway.TokenUsage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			} else {
				usage.PromptTokens = (s.promptChars + 3) / 4
				usage.CompletionTokens = (s.outputChars + 3) / 4
				usage.Estimated = true
			}
			s.send(gateway.StreamChunk{
				Type: gateway.ChunkTypeFinal, Provider: s.provider, ModelID: s.modelID,
				FinishReason: mapFinishReason(string(choice.FinishReason)), Usage: usage,
			})
			return
		}
		if choice.Delta.Content != "" {
			s.outputChars += len(choice.Delta.Content)
			s.send(gateway.StreamChunk{Type: gateway.ChunkTypeDelta, Delta: choice.Delta.Content, Provider: s.provider, ModelID: s.modelID})
		}
	}
	if err := s.sse.Err(); err != nil {
		s.setErr(mapError(s.ctx, s.provider, "stream", err))
		return
	}
	// Backend closed without ever sending a terminal chunk: synthesize one
	// so the caller always observes a clean terminal frame (§4.1).
	s.send(gateway.StreamChunk{Type: gateway.ChunkTypeFinal, Provider: s.provider, ModelID: s.modelID, FinishReason: gateway.FinishError})
}

func (s *streamer) send(c gateway.StreamChunk) {
	select {
	case s.chunks <- c:
	case <-s.ctx.Done():
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

func (s *streamer) Recv() (gateway.StreamChunk, error) {
	select {
	case c, ok := <-s.chunks:
		if !ok {
			s.errMu.Lock()
			err := s.err
			s.errMu.Unlock()
			if err != nil {
				return gateway.StreamChunk{}, err
			}
			return gateway.StreamChunk{}, io.EOF
		}
		return c, nil
	case <-s.ctx.Done():
		return gateway.StreamChunk{}, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.sse.Close()
	})
	return nil
}
