package agent

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements LLMProvider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return ProviderAnthropic
}

// Generate makes an API call to Anthropic Claude. Only temperature and top-k
// are sent from the generation config; the safety policy is not sent.
func (p *AnthropicProvider) Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(request.Parts)+1)
	for _, part := range request.Parts {
		blocks = append(blocks, anthropic.NewImageBlockBase64(part.MIMEType, part.Base64()))
	}
	blocks = append(blocks, anthropic.NewTextBlock(request.Prompt))

	gen := request.Generation
	reqParams := anthropic.MessageNewParams{
		Model:       anthropic.Model(request.Model),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		MaxTokens:   int64(gen.MaxOutputTokens),
		Temperature: anthropic.Float(gen.Temperature),
	}
	if gen.TopK > 0 {
		reqParams.TopK = anthropic.Int(int64(gen.TopK))
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(b.Text)
		}
	}

	return &GenerateResponse{
		Text: content.String(),
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}
