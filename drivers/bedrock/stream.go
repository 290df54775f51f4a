package bedrock

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/lumenforge/aigateway/gateway"
)

// streamer adapts a Bedrock ConverseStream event stream into gateway.StreamChunk
// values, following the same goroutine+channel+ctx.Done() Recv/Close
// convention used by every other driver in this module — directly
// grounded on features/model/bedrock/stream.go's reader loop, simplified
// to plain text deltas (no tool-use or reasoning-content events).
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
	stream      *bedrockruntime.ConverseStreamEventStream

	// sawMessageStop and stopReason record the messageStop event so the
	// subsequent Metadata event (or, lacking one, the estimate fallback) can
	// carry the real stop reason instead of a hardcoded one.
	sawMessageStop bool
	stopReason     gateway.FinishReason
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, modelID string, promptChars int) *streamer {
	ctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: ctx, cancel: cancel, provider: "aws", chunks: make(chan gateway.StreamChunk, 8), stream: stream, modelID: modelID, promptChars: promptChars}
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
	for event := range s.stream.Events() {
		switch e := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			delta, ok := e.Value.Delta.(*brtypes.ContentBlockDeltaMemberText)
			if !ok || delta.Value == "" {
				continue
			}
			s.outputChars += len(delta.Value)
			s.send(gateway.StreamChunk{Type: gateway.ChunkTypeDelta, Delta: delta.Value, Provider: s.provider, ModelID: s.modelID})
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if e.Value.Usage == nil {
				continue
			}
			reason := s.stopReason
			if !s.sawMessageStop {
				reason = gateway.FinishStop
			}
			s.send(gateway.StreamChunk{
				Type: gateway.ChunkTypeFinal, Provider: s.provider, ModelID: s.modelID,
				FinishReason: reason,
				Usage: gateway.TokenUsage{
					PromptTokens:     int(ptrValue(e.Value.Usage.InputTokens)),
					CompletionTokens: int(ptrValue(e.Value.Usage.OutputTokens)),
					TotalTokens:      int(ptrValue(e.Value.Usage.TotalTokens)),
				},
			})
			return
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			// The usage-bearing Metadata event always follows messageStop in
			// a Converse stream (§4.1 "If the backend returns usage, use it
			// verbatim") — record the stop reason and keep waiting for it
			// rather than terminating here with an estimate the backend is
			// about to supersede.
			s.sawMessageStop = true
			s.stopReason = mapStopReason(string(e.Value.StopReason))
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(mapError(s.ctx, "stream", err))
		return
	}
	if s.sawMessageStop {
		// Metadata never arrived: fall back to the char estimate but keep
		// the real stop reason already observed.
		s.send(gateway.StreamChunk{
			Type: gateway.ChunkTypeFinal, Provider: s.provider, ModelID: s.modelID,
			FinishReason: s.stopReason,
			Usage: gateway.TokenUsage{
				PromptTokens:     (s.promptChars + 3) / 4,
				CompletionTokens: (s.outputChars + 3) / 4,
				Estimated:        true,
			},
		})
		return
	}
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
		_ = s.stream.Close()
	})
	return nil
}
