package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	apiKey  string
	baseURL string

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider. The API client is
// created on first use.
func NewGeminiProvider(apiKey, baseURL string) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
	}
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return ProviderGemini
}

// Generate makes an API call to Google Gemini
func (p *GeminiProvider) Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{{Text: request.Prompt}}
	for _, part := range request.Parts {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: part.MIMEType,
				Data:     part.Data,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	gen := request.Generation
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(gen.Temperature)),
		TopP:            genai.Ptr(float32(gen.TopP)),
		TopK:            genai.Ptr(float32(gen.TopK)),
		MaxOutputTokens: int32(gen.MaxOutputTokens),
		SafetySettings:  geminiSafetySettings(request.Safety),
	}

	response, err := client.Models.GenerateContent(ctx, request.Model, contents, config)
	if err != nil {
		return nil, err
	}

	if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("prompt blocked: %s", response.PromptFeedback.BlockReason)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response candidates returned")
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	resp := &GenerateResponse{Text: text.String()}
	if usage := response.UsageMetadata; usage != nil {
		resp.Usage = &TokenUsage{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
		}
	}
	return resp, nil
}

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	p.client = client
	return client, nil
}

func geminiSafetySettings(policy SafetyPolicy) []*genai.SafetySetting {
	settings := make([]*genai.SafetySetting, 0, len(policy.Rules))
	for _, rule := range policy.Rules {
		category, ok := geminiCategories[rule.Category]
		if !ok {
			continue
		}
		threshold, ok := geminiThresholds[rule.Threshold]
		if !ok {
			continue
		}
		settings = append(settings, &genai.SafetySetting{
			Category:  category,
			Threshold: threshold,
		})
	}
	return settings
}

var geminiCategories = map[HarmCategory]genai.HarmCategory{
	HarmHarassment:       genai.HarmCategoryHarassment,
	HarmHateSpeech:       genai.HarmCategoryHateSpeech,
	HarmSexuallyExplicit: genai.HarmCategorySexuallyExplicit,
	HarmDangerousContent: genai.HarmCategoryDangerousContent,
}

var geminiThresholds = map[BlockThreshold]genai.HarmBlockThreshold{
	BlockNone:           genai.HarmBlockThresholdBlockNone,
	BlockLowAndAbove:    genai.HarmBlockThresholdBlockLowAndAbove,
	BlockMediumAndAbove: genai.HarmBlockThresholdBlockMediumAndAbove,
	BlockOnlyHigh:       genai.HarmBlockThresholdBlockOnlyHigh,
}
