// Package azure adapts Azure OpenAI Service's chat-completions endpoint to
// the gateway.Driver contract over plain HTTP via github.com/go-resty/resty/v2
// — grounded on Sanix-Darker-prev's internal/provider/azure/azure.go, the one
// example in the pack that talks to Azure OpenAI. No Azure Go SDK appears
// anywhere in the retrieved corpus, so this driver speaks the documented
// REST wire format directly rather than reaching for an unretrieved client.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lumenforge/aigateway/gateway"
)

const defaultAPIVersion = "2024-02-01"

// Options configures the Azure OpenAI driver.
type Options struct {
	// Endpoint is the resource root, e.g. "https://<resource>.openai.azure.com".
	Endpoint string
	// APIKey authenticates via the Azure "api-key" header.
	APIKey string
	// Deployment is the Azure deployment name, used when a request carries
	// no concrete ModelID.
	Deployment string
	APIVersion string
	Timeout    time.Duration
}

// Driver implements gateway.Driver against Azure OpenAI Service.
type Driver struct {
	client     *resty.Client
	apiKey     string
	endpoint   string
	deployment string
	apiVersion string
	configured bool
}

// New builds an Azure OpenAI driver.
func New(opts Options) *Driver {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Driver{
		client:     client,
		apiKey:     opts.APIKey,
		endpoint:   endpoint,
		deployment: opts.Deployment,
		apiVersion: apiVersion,
		configured: endpoint != "" && opts.APIKey != "" && opts.Deployment != "",
	}
}

func (d *Driver) Name() string     { return "azure" }
func (d *Driver) Configured() bool { return d.configured }
func (d *Driver) Close() error     { return nil }

func (d *Driver) resolveDeployment(req gateway.CompletionRequest) string {
	if req.ModelID != "" {
		return req.ModelID
	}
	return d.deployment
}

func (d *Driver) completionsURL(deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", d.endpoint, deployment, d.apiVersion)
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float32     `json:"temperature,omitempty"`
	TopP        *float32     `json:"top_p,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
	Stop        []string     `json:"stop,omitempty"`
}

type apiChoice struct {
	Index        int        `json:"index"`
	Message      apiMessage `json:"message"`
	Delta        apiMessage `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (d *Driver) Complete(ctx context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error) {
	deployment := d.resolveDeployment(req)
	body := buildRequest(req, false)

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("api-key", d.apiKey).
		SetBody(body).
		Post(d.completionsURL(deployment))
	if err != nil {
		return gateway.CompletionResponse{}, mapTransportError(ctx, "complete", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return gateway.CompletionResponse{}, classifyHTTPError("complete", resp.StatusCode(), resp.Body())
	}

	var parsed apiResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return gateway.CompletionResponse{}, &gateway.DriverError{Provider: "azure", Operation: "complete", Kind: gateway.KindProtocol, Message: "failed to decode response", Cause: err}
	}
	if len(parsed.Choices) == 0 {
		return gateway.CompletionResponse{}, &gateway.DriverError{Provider: "azure", Operation: "complete", Kind: gateway.KindProtocol, Message: "no choices in response"}
	}
	choice := parsed.Choices[0]
	return gateway.CompletionResponse{
		Content:      choice.Message.Content,
		ModelID:      parsed.Model,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: gateway.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (d *Driver) Stream(ctx context.Context, req gateway.CompletionRequest) (gateway.Streamer, error) {
	deployment := d.resolveDeployment(req)
	bodyBytes, err := json.Marshal(buildRequest(req, true))
	if err != nil {
		return nil, &gateway.DriverError{Provider: "azure", Operation: "stream", Kind: gateway.KindProtocol, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.completionsURL(deployment), strings.NewReader(string(bodyBytes)))
	if err != nil {
		return nil, &gateway.DriverError{Provider: "azure", Operation: "stream", Kind: gateway.KindProtocol, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", d.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := d.client.GetClient().Do(httpReq)
	if err != nil {
		return nil, mapTransportError(ctx, "stream", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		var buf [4096]byte
		n, _ := httpResp.Body.Read(buf[:])
		return nil, classifyHTTPError("stream", httpResp.StatusCode, buf[:n])
	}
	return newStreamer(ctx, httpResp.Body, promptCharLen(req.Messages)), nil
}

// Embed is unsupported: Azure OpenAI exposes embeddings through a separate
// deployment/endpoint this driver does not wire to.
func (d *Driver) Embed(context.Context, []string, string) ([]gateway.EmbeddingVector, error) {
	return nil, gateway.NewEmbeddingUnsupportedError("azure")
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	if !d.configured {
		return errors.New("azure: not configured")
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("api-key", d.apiKey).
		SetBody(apiRequest{Messages: []apiMessage{{Role: "user", Content: "ping"}}, MaxTokens: 1}).
		Post(d.completionsURL(d.deployment))
	if err != nil {
		return mapTransportError(ctx, "health_check", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return classifyHTTPError("health_check", resp.StatusCode(), resp.Body())
	}
	return nil
}

func buildRequest(req gateway.CompletionRequest, stream bool) apiRequest {
	msgs := make([]apiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, apiMessage{Role: string(m.Role), Content: m.Content})
	}
	body := apiRequest{Messages: msgs, MaxTokens: req.MaxTokens, Stream: stream, Stop: req.Stop}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.TopP > 0 {
		p := req.TopP
		body.TopP = &p
	}
	return body
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

func mapTransportError(ctx context.Context, operation string, err error) *gateway.DriverError {
	if ctx.Err() != nil {
		return &gateway.DriverError{Provider: "azure", Operation: operation, Kind: gateway.KindCancelled, Message: ctx.Err().Error(), Cause: err}
	}
	return &gateway.DriverError{Provider: "azure", Operation: operation, Kind: gateway.KindUnavailable, Message: err.Error(), Retryable: true, Cause: err}
}

func classifyHTTPError(operation string, statusCode int, body []byte) *gateway.DriverError {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", statusCode)
	}

	kind := gateway.KindInternal
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = gateway.KindAuth
	case statusCode == http.StatusTooManyRequests:
		kind = gateway.KindRateLimited
	case statusCode == http.StatusNotFound:
		kind = gateway.KindModelNotFound
	case statusCode >= 500:
		kind = gateway.KindUnavailable
	}

	return &gateway.DriverError{
		Provider: "azure", Operation: operation, Kind: kind,
		Message: msg, Code: apiErr.Error.Code, Retryable: kind.Transient(),
	}
}
