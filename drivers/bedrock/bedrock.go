// Package bedrock adapts the AWS Bedrock Converse/ConverseStream API to the
// gateway.Driver contract. Grounded on features/model/bedrock/client.go's
// request-building pipeline and RuntimeClient seam, simplified to the
// gateway's plain role+text message shape (no tool calling, no thinking
// modes, no transcript ledger — none of which this spec's data model
// carries).
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/lumenforge/aigateway/gateway"
)

// RuntimeClient is the subset of *bedrockruntime.Client this driver calls,
// letting tests substitute a fake (same seam as the teacher's RuntimeClient
// interface).
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock driver.
type Options struct {
	Runtime      RuntimeClient // optional; built from Region when nil
	Region       string
	DefaultModel string
}

// Driver implements gateway.Driver against AWS Bedrock.
type Driver struct {
	runtime      RuntimeClient
	defaultModel string
	configured   bool
}

// New builds a Bedrock driver. When opts.Runtime is nil, a real client is
// constructed from opts.Region using the default AWS credential chain; the
// driver is Configured() only when that succeeds and a region was given.
func New(ctx context.Context, opts Options) *Driver {
	if opts.Runtime != nil {
		return &Driver{runtime: opts.Runtime, defaultModel: opts.DefaultModel, configured: true}
	}
	if opts.Region == "" {
		return &Driver{defaultModel: opts.DefaultModel, configured: false}
	}
	// One attempt per provider; the router's chain is the only retry.
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region), awsconfig.WithRetryMaxAttempts(1))
	if err != nil {
		return &Driver{defaultModel: opts.DefaultModel, configured: false}
	}
	return &Driver{runtime: bedrockruntime.NewFromConfig(cfg), defaultModel: opts.DefaultModel, configured: true}
}

func (d *Driver) Name() string     { return "aws" }
func (d *Driver) Configured() bool { return d.configured }
func (d *Driver) Close() error     { return nil }

func (d *Driver) resolveModel(req gateway.CompletionRequest) string {
	if req.ModelID != "" {
		return req.ModelID
	}
	return d.defaultModel
}

func (d *Driver) Complete(ctx context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error) {
	modelID := d.resolveModel(req)
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return gateway.CompletionResponse{}, &gateway.DriverError{Provider: "aws", Operation: "complete", Kind: gateway.KindProtocol, Message: err.Error()}
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := d.runtime.Converse(ctx, input)
	if err != nil {
		return gateway.CompletionResponse{}, mapError(ctx, "complete", err)
	}
	return translateResponse(out, modelID)
}

func (d *Driver) Stream(ctx context.Context, req gateway.CompletionRequest) (gateway.Streamer, error) {
	modelID := d.resolveModel(req)
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, &gateway.DriverError{Provider: "aws", Operation: "stream", Kind: gateway.KindProtocol, Message: err.Error()}
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := d.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, mapError(ctx, "stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, &gateway.DriverError{Provider: "aws", Operation: "stream", Kind: gateway.KindProtocol, Message: "bedrock: stream output missing event stream"}
	}
	return newStreamer(ctx, stream, modelID, promptCharLen(req.Messages)), nil
}

// Embed is unsupported: Bedrock exposes embeddings through separate
// model-specific endpoints (e.g. Titan Embeddings) this driver does not
// wire to, matching the teacher's own "providers that do not support
// streaming/embeddings report unsupported" convention.
func (d *Driver) Embed(context.Context, []string, string) ([]gateway.EmbeddingVector, error) {
	return nil, gateway.NewEmbeddingUnsupportedError("aws")
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	if !d.configured {
		return errors.New("aws: not configured")
	}
	_, err := d.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(d.defaultModel),
		Messages: []brtypes.Message{{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "ping"}}}},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(1),
		},
	})
	if err != nil && !isRateLimited(err) {
		return mapError(ctx, "health_check", err)
	}
	return nil
}

func inferenceConfig(req gateway.CompletionRequest) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.MaxTokens)) //nolint:gosec
	}
	if req.Temperature > 0 {
		cfg.Temperature = aws.Float32(req.Temperature)
	}
	if req.TopP > 0 {
		cfg.TopP = aws.Float32(req.TopP)
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil && cfg.TopP == nil && cfg.StopSequences == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(msgs []gateway.ChatMessage) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var conversation []brtypes.Message
	var system []brtypes.SystemContentBlock
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		if m.Role == gateway.RoleSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == gateway.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		conversation = append(conversation, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	if len(conversation) == 0 {
		return nil, nil, fmt.Errorf("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func translateResponse(output *bedrockruntime.ConverseOutput, modelID string) (gateway.CompletionResponse, error) {
	if output == nil {
		return gateway.CompletionResponse{}, &gateway.DriverError{Provider: "aws", Operation: "complete", Kind: gateway.KindProtocol, Message: "bedrock: response is nil"}
	}
	var text string
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}
	usage := gateway.TokenUsage{}
	if u := output.Usage; u != nil {
		usage = gateway.TokenUsage{
			PromptTokens:     int(ptrValue(u.InputTokens)),
			CompletionTokens: int(ptrValue(u.OutputTokens)),
			TotalTokens:      int(ptrValue(u.TotalTokens)),
		}
	}
	return gateway.CompletionResponse{
		Content:      text,
		ModelID:      modelID,
		Usage:        usage,
		FinishReason: mapStopReason(string(output.StopReason)),
	}, nil
}

func mapStopReason(s string) gateway.FinishReason {
	switch s {
	case "end_turn", "stop_sequence":
		return gateway.FinishStop
	case "max_tokens":
		return gateway.FinishLength
	case "content_filtered":
		return gateway.FinishContentFilter
	case "tool_use":
		return gateway.FinishToolCall
	default:
		return gateway.FinishStop
	}
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}

// isRateLimited mirrors the teacher's own rate-limit detection: both HTTP
// 429 and provider throttling error codes count as rate-limited.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}

func mapError(ctx context.Context, operation string, err error) *gateway.DriverError {
	if ctx.Err() != nil {
		return &gateway.DriverError{Provider: "aws", Operation: operation, Kind: gateway.KindCancelled, Message: ctx.Err().Error(), Cause: err}
	}
	if isRateLimited(err) {
		return &gateway.DriverError{Provider: "aws", Operation: operation, Kind: gateway.KindRateLimited, Message: err.Error(), Retryable: true, Cause: err}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind := gateway.KindInternal
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException":
			kind = gateway.KindAuth
		case "ResourceNotFoundException", "ValidationException":
			kind = gateway.KindModelNotFound
		case "ServiceUnavailableException", "ModelTimeoutException", "InternalServerException":
			kind = gateway.KindUnavailable
		}
		return &gateway.DriverError{Provider: "aws", Operation: operation, Kind: kind, Message: apiErr.ErrorMessage(), Code: apiErr.ErrorCode(), Retryable: kind.Transient(), Cause: err}
	}
	return &gateway.DriverError{Provider: "aws", Operation: operation, Kind: gateway.KindUnavailable, Message: err.Error(), Retryable: true, Cause: err}
}
