package azure

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/lumenforge/aigateway/gateway"
)

// streamer scans an Azure OpenAI SSE response body line by line, following
// the same goroutine+channel+ctx.Done() Recv/Close convention used by every
// other driver in this module. Grounded on Sanix-Darker-prev's azure.go
// CompleteStream, whose "data: " line-scanning loop is reused here almost
// verbatim.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc

	body   io.ReadCloser
	chunks chan gateway.StreamChunk
	errMu  sync.Mutex
	err    error

	modelID     string
	outputChars int
	promptChars int
	closeOnce   sync.Once
}

func newStreamer(ctx context.Context, body io.ReadCloser, promptChars int) *streamer {
	ctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: ctx, cancel: cancel, body: body, chunks: make(chan gateway.StreamChunk, 8), promptChars: promptChars}
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
	scanner := bufio.NewScanner(s.body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.send(gateway.StreamChunk{
				Type: gateway.ChunkTypeFinal, Provider: "azure", ModelID: s.modelID,
				FinishReason: gateway.FinishStop,
				Usage: gateway.TokenUsage{
					PromptTokens:     (s.promptChars + 3) / 4,
					CompletionTokens: (s.outputChars + 3) / 4,
					Estimated:        true,
				},
			})
			return
		}

		var chunk apiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			s.modelID = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			usage := gateway.TokenUsage{}
			if chunk.Usage.TotalTokens > 0 {
				usage = gateway.TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			} else {
				usage.PromptTokens = (s.promptChars + 3) / 4
				usage.CompletionTokens = (s.outputChars + 3) / 4
				usage.Estimated = true
			}
			s.send(gateway.StreamChunk{
				Type: gateway.ChunkTypeFinal, Provider: "azure", ModelID: s.modelID,
				FinishReason: mapFinishReason(choice.FinishReason), Usage: usage,
			})
			return
		}
		if choice.Delta.Content != "" {
			s.outputChars += len(choice.Delta.Content)
			s.send(gateway.StreamChunk{Type: gateway.ChunkTypeDelta, Delta: choice.Delta.Content, Provider: "azure", ModelID: s.modelID})
		}
	}
	if err := scanner.Err(); err != nil {
		s.setErr(mapTransportError(s.ctx, "stream", err))
		return
	}
	s.send(gateway.StreamChunk{Type: gateway.ChunkTypeFinal, Provider: "azure", ModelID: s.modelID, FinishReason: gateway.FinishError})
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
		_ = s.body.Close()
	})
	return nil
}
