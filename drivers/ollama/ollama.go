// Package ollama adapts a local Ollama server's OpenAI-compatible chat
// routes to the gateway.Driver contract, grounded on
// features/model/openai/client.go's Options{Client,DefaultModel}/
// translateResponse shape but built against the official
// github.com/openai/openai-go SDK (the client actually present in the
// teacher's go.mod) pointed at Ollama's local base URL instead of OpenAI's.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lumenforge/aigateway/gateway"
)

const defaultBaseURL = "http://localhost:11434/v1"

// Options configures the Ollama driver.
type Options struct {
	// BaseURL is the server's OpenAI-compatible API root. Defaults to
	// http://localhost:11434/v1 when empty.
	BaseURL string
	// DefaultModel names the local model tag used when a request carries no
	// concrete ModelID.
	DefaultModel string
	// HTTPClient, when set, is used instead of the default transport.
	HTTPClient *http.Client
}

// Driver implements gateway.Driver against an Ollama server.
type Driver struct {
	client       openai.Client
	baseURL      string
	defaultModel string
	configured   bool
}

// New builds an Ollama driver. A driver with an empty BaseURL is still
// constructed but reports Configured() == false (§4.1 "silently reports not
// available").
func New(opts Options) *Driver {
	baseURL := strings.TrimSpace(opts.BaseURL)
	configured := baseURL != ""
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	clientOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey("ollama"), // Ollama ignores the key but the SDK requires one
		option.WithMaxRetries(0),    // one attempt per provider; the router's chain is the only retry
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &Driver{
		client:       openai.NewClient(clientOpts...),
		baseURL:      baseURL,
		defaultModel: opts.DefaultModel,
		configured:   configured,
	}
}

func (d *Driver) Name() string     { return "ollama" }
func (d *Driver) Configured() bool { return d.configured }
func (d *Driver) Close() error     { return nil }

func (d *Driver) resolveModel(req gateway.CompletionRequest) string {
	if req.ModelID != "" {
		return req.ModelID
	}
	return d.defaultModel
}

func (d *Driver) Complete(ctx context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error) {
	params := buildParams(req, d.resolveModel(req))
	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return gateway.CompletionResponse{}, mapError(ctx, "ollama", "complete", err)
	}
	if len(resp.Choices) == 0 {
		return gateway.CompletionResponse{}, &gateway.DriverError{Provider: "ollama", Operation: "complete", Kind: gateway.KindProtocol, Message: "no choices in response"}
	}
	choice := resp.Choices[0]
	return gateway.CompletionResponse{
		Content:      choice.Message.Content,
		ModelID:      resp.Model,
		FinishReason: mapFinishReason(string(choice.FinishReason)),
		Usage: gateway.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (d *Driver) Stream(ctx context.Context, req gateway.CompletionRequest) (gateway.Streamer, error) {
	params := buildParams(req, d.resolveModel(req))
	stream := d.client.Chat.Completions.NewStreaming(ctx, params)
	return newStreamer(ctx, stream, "ollama", promptCharLen(req.Messages)), nil
}

func (d *Driver) Embed(ctx context.Context, texts []string, model string) ([]gateway.EmbeddingVector, error) {
	if model == "" {
		model = d.defaultModel
	}
	resp, err := d.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, mapError(ctx, "ollama", "embed", err)
	}
	out := make([]gateway.EmbeddingVector, len(resp.Data))
	for i, d := range resp.Data {
		vec := make(gateway.EmbeddingVector, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	if !d.configured {
		return errors.New("ollama: not configured")
	}
	_, err := d.client.Models.List(ctx)
	if err != nil {
		return mapError(ctx, "ollama", "health_check", err)
	}
	return nil
}

func buildParams(req gateway.CompletionRequest, model string) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case gateway.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(float64(req.TopP))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params
}

func mapFinishReason(s string) gateway.FinishReason {
	switch s {
	case "stop":
		return gateway.FinishStop
	case "length":
		return gateway.FinishLength
	case "content_filter":
		return gateway.FinishContentFilter
	case "tool_calls":
		return gateway.FinishToolCall
	default:
		return gateway.FinishStop
	}
}

// mapError translates a transport/SDK error into the uniform DriverError
// taxonomy (§4.1 "Uniform failure contract").
func mapError(ctx context.Context, provider, operation string, err error) *gateway.DriverError {
	if ctx.Err() != nil {
		return &gateway.DriverError{Provider: provider, Operation: operation, Kind: gateway.KindCancelled, Message: ctx.Err().Error(), Cause: err}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.StatusCode)
		return &gateway.DriverError{
			Provider: provider, Operation: operation, Kind: kind,
			Message: apiErr.Message, Code: fmt.Sprintf("%d", apiErr.StatusCode), Retryable: kind.Transient(), Cause: err,
		}
	}
	return &gateway.DriverError{Provider: provider, Operation: operation, Kind: gateway.KindUnavailable, Message: err.Error(), Retryable: true, Cause: err}
}

func kindForStatus(status int) gateway.DriverErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gateway.KindAuth
	case status == http.StatusTooManyRequests:
		return gateway.KindRateLimited
	case status == http.StatusNotFound:
		return gateway.KindModelNotFound
	case status >= 500:
		return gateway.KindUnavailable
	case status == 0:
		return gateway.KindUnavailable
	default:
		return gateway.KindProtocol
	}
}
