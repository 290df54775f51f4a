// Package vertex adapts Google Cloud's Vertex AI Gemini models to the
// gateway.Driver contract via google.golang.org/genai, the one client in
// the retrieved pack that speaks to Vertex (pulled in, so far only as an
// indirect dependency, by MrWong99-glyphoxa's go.mod) — promoted here to a
// direct dependency and given its own home, matching this driver's shape
// (Options/Driver/Complete/Stream/Embed/HealthCheck) to the teacher's
// per-provider driver convention.
package vertex

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/lumenforge/aigateway/gateway"
)

// Options configures the Vertex AI driver.
type Options struct {
	Client       *genai.Client // optional; built from Project/Location when nil
	Project      string
	Location     string
	DefaultModel string
}

// Driver implements gateway.Driver against Vertex AI Gemini models.
type Driver struct {
	client       *genai.Client
	defaultModel string
	configured   bool
}

// New builds a Vertex AI driver. When opts.Client is nil, a real client is
// constructed from Project/Location using application default credentials;
// the driver is Configured() only when both are supplied and the client
// builds successfully.
func New(ctx context.Context, opts Options) *Driver {
	if opts.Client != nil {
		return &Driver{client: opts.Client, defaultModel: opts.DefaultModel, configured: true}
	}
	if opts.Project == "" || opts.Location == "" {
		return &Driver{defaultModel: opts.DefaultModel, configured: false}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  opts.Project,
		Location: opts.Location,
	})
	if err != nil {
		return &Driver{defaultModel: opts.DefaultModel, configured: false}
	}
	return &Driver{client: client, defaultModel: opts.DefaultModel, configured: true}
}

func (d *Driver) Name() string     { return "gcp" }
func (d *Driver) Configured() bool { return d.configured }
func (d *Driver) Close() error     { return nil }

func (d *Driver) resolveModel(req gateway.CompletionRequest) string {
	if req.ModelID != "" {
		return req.ModelID
	}
	return d.defaultModel
}

func (d *Driver) Complete(ctx context.Context, req gateway.CompletionRequest) (gateway.CompletionResponse, error) {
	model := d.resolveModel(req)
	contents, config := buildRequest(req)
	resp, err := d.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return gateway.CompletionResponse{}, mapError(ctx, "complete", err)
	}
	return translateResponse(resp, model)
}

func (d *Driver) Stream(ctx context.Context, req gateway.CompletionRequest) (gateway.Streamer, error) {
	model := d.resolveModel(req)
	contents, config := buildRequest(req)
	seq := d.client.Models.GenerateContentStream(ctx, model, contents, config)
	return newStreamer(ctx, seq, model, promptCharLen(req.Messages)), nil
}

func (d *Driver) Embed(ctx context.Context, texts []string, model string) ([]gateway.EmbeddingVector, error) {
	if model == "" {
		model = "text-embedding-005"
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := d.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, mapError(ctx, "embed", err)
	}
	out := make([]gateway.EmbeddingVector, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = gateway.EmbeddingVector(e.Values)
	}
	return out, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	if !d.configured {
		return errors.New("gcp: not configured")
	}
	_, err := d.client.Models.GenerateContent(ctx, d.defaultModel,
		[]*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)},
		&genai.GenerateContentConfig{MaxOutputTokens: 1})
	if err != nil {
		return mapError(ctx, "health_check", err)
	}
	return nil
}

func buildRequest(req gateway.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	config := &genai.GenerateContentConfig{}
	for _, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem:
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case gateway.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if req.Temperature > 0 {
		t := req.Temperature
		config.Temperature = &t
	}
	if req.TopP > 0 {
		p := req.TopP
		config.TopP = &p
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens) //nolint:gosec
	}
	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}
	return contents, config
}

func translateResponse(resp *genai.GenerateContentResponse, model string) (gateway.CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return gateway.CompletionResponse{}, &gateway.DriverError{Provider: "gcp", Operation: "complete", Kind: gateway.KindProtocol, Message: "vertex: response carries no candidates"}
	}
	usage := gateway.TokenUsage{}
	if u := resp.UsageMetadata; u != nil {
		usage = gateway.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return gateway.CompletionResponse{
		Content:      resp.Text(),
		ModelID:      model,
		Usage:        usage,
		FinishReason: mapFinishReason(string(resp.Candidates[0].FinishReason)),
	}, nil
}

func mapFinishReason(s string) gateway.FinishReason {
	switch s {
	case "STOP":
		return gateway.FinishStop
	case "MAX_TOKENS":
		return gateway.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return gateway.FinishContentFilter
	default:
		return gateway.FinishStop
	}
}

func mapError(ctx context.Context, operation string, err error) *gateway.DriverError {
	if ctx.Err() != nil {
		return &gateway.DriverError{Provider: "gcp", Operation: operation, Kind: gateway.KindCancelled, Message: ctx.Err().Error(), Cause: err}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.Code)
		return &gateway.DriverError{
			Provider: "gcp", Operation: operation, Kind: kind,
			Message: apiErr.Message, Code: fmt.Sprintf("%d", apiErr.Code), Retryable: kind.Transient(), Cause: err,
		}
	}
	return &gateway.DriverError{Provider: "gcp", Operation: operation, Kind: gateway.KindUnavailable, Message: err.Error(), Retryable: true, Cause: err}
}

func kindForStatus(status int) gateway.DriverErrorKind {
	switch {
	case status == 401 || status == 403:
		return gateway.KindAuth
	case status == 429:
		return gateway.KindRateLimited
	case status == 404:
		return gateway.KindModelNotFound
	case status >= 500:
		return gateway.KindUnavailable
	case status == 0:
		return gateway.KindUnavailable
	default:
		return gateway.KindProtocol
	}
}
