package agent

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements LLMProvider for OpenAI
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

// Generate makes an API call to OpenAI. The safety policy has no
// per-request equivalent here and is not sent.
func (p *OpenAIProvider) Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error) {
	var message openai.ChatCompletionMessageParamUnion
	if len(request.Parts) == 0 {
		message = openai.UserMessage(request.Prompt)
	} else {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(request.Prompt)}
		for _, part := range request.Parts {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: part.DataURI(),
			}))
		}
		message = openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: parts,
				},
			},
		}
	}

	gen := request.Generation
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(request.Model),
		Messages:    []openai.ChatCompletionMessageParamUnion{message},
		Temperature: openai.Float(gen.Temperature),
	}
	if gen.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(gen.MaxOutputTokens))
	}
	if gen.TopP > 0 {
		params.TopP = openai.Float(gen.TopP)
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return &GenerateResponse{
		Text: response.Choices[0].Message.Content,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}
