package vertex

import (
	"context"
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"

	"github.com/lumenforge/aigateway/gateway"
)

// streamer drains a genai GenerateContentStream iterator into a goroutine
// that feeds a buffered channel, so Recv/Close follow the same
// ctx.Done()-select convention used by every other driver in this module.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc

	chunks chan gateway.StreamChunk
	errMu  sync.Mutex
	err    error

	modelID     string
	outputChars int
	promptChars int
	closeOnce   sync.Once
}

func newStreamer(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error], modelID string, promptChars int) *streamer {
	ctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: ctx, cancel: cancel, chunks: make(chan gateway.StreamChunk, 8), modelID: modelID, promptChars: promptChars}
	go s.run(seq)
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

func (s *streamer) run(seq iter.Seq2[*genai.GenerateContentResponse, error]) {
	defer close(s.chunks)
	for resp, err := range seq {
		if err != nil {
			s.setErr(mapError(s.ctx, "stream", err))
			return
		}
		if resp == nil || len(resp.Candidates) == 0 {
			continue
		}
		if text := resp.Text(); text != "" {
			s.outputChars += len(text)
			s.send(gateway.StreamChunk{Type: gateway.ChunkTypeDelta, Delta: text, Provider: "gcp", ModelID: s.modelID})
		}
		reason := resp.Candidates[0].FinishReason
		if reason == "" {
			continue
		}
		usage := gateway.TokenUsage{}
		if u := resp.UsageMetadata; u != nil && u.TotalTokenCount > 0 {
			usage = gateway.TokenUsage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
			}
		} else {
			usage.PromptTokens = (s.promptChars + 3) / 4
			usage.CompletionTokens = (s.outputChars + 3) / 4
			usage.Estimated = true
		}
		s.send(gateway.StreamChunk{
			Type: gateway.ChunkTypeFinal, Provider: "gcp", ModelID: s.modelID,
			FinishReason: mapFinishReason(string(reason)), Usage: usage,
		})
		return
	}
	// Stream closed without a terminal candidate: synthesize one so the
	// caller always observes a clean terminal frame.
	s.send(gateway.StreamChunk{Type: gateway.ChunkTypeFinal, Provider: "gcp", ModelID: s.modelID, FinishReason: gateway.FinishError})
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
	s.closeOnce.Do(s.cancel)
	return nil
}
