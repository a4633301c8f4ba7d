package agent

import (
	"fmt"
	"strings"
)

// Capability tags what input a model variant accepts
type Capability string

const (
	CapabilityVision Capability = "vision"
	CapabilityText   Capability = "text"
)

// Variant is one addressable model in the fallback chain.
// Lower Rank is preferred within a capability.
type Variant struct {
	ID         string     `json:"id" mapstructure:"id"`
	Provider   string     `json:"provider" mapstructure:"provider"`
	Capability Capability `json:"capability" mapstructure:"capability"`
	Rank       int        `json:"rank" mapstructure:"rank"`
}

// Validate checks that the variant can be used as a candidate
func (v Variant) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("variant id cannot be empty")
	}
	if strings.TrimSpace(v.Provider) == "" {
		return fmt.Errorf("variant %s: provider cannot be empty", v.ID)
	}
	if v.Capability != CapabilityVision && v.Capability != CapabilityText {
		return fmt.Errorf("variant %s: capability must be vision or text, got %q", v.ID, v.Capability)
	}
	return nil
}

// GenerationConfig is applied unchanged to every attempt
type GenerationConfig struct {
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	TopP            float64 `json:"top_p" mapstructure:"top_p"`
	TopK            int     `json:"top_k" mapstructure:"top_k"`
}

// HarmCategory names a content-safety category
type HarmCategory string

const (
	HarmHarassment       HarmCategory = "harassment"
	HarmHateSpeech       HarmCategory = "hate_speech"
	HarmSexuallyExplicit HarmCategory = "sexually_explicit"
	HarmDangerousContent HarmCategory = "dangerous_content"
)

// BlockThreshold is the probability level at which content is blocked
type BlockThreshold string

const (
	BlockNone           BlockThreshold = "none"
	BlockLowAndAbove    BlockThreshold = "low_and_above"
	BlockMediumAndAbove BlockThreshold = "medium_and_above"
	BlockOnlyHigh       BlockThreshold = "only_high"
)

// SafetyRule pairs a category with its threshold
type SafetyRule struct {
	Category  HarmCategory   `json:"category"`
	Threshold BlockThreshold `json:"threshold"`
}

// SafetyPolicy is the content-safety policy sent with every attempt
type SafetyPolicy struct {
	Rules []SafetyRule `json:"rules"`
}

// Reply is a successful generation
type Reply struct {
	Text  string      `json:"text"`
	Model string      `json:"model"`
	Usage *TokenUsage `json:"usage,omitempty"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DefaultGenerationConfig returns the generation settings used for every candidate
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		MaxOutputTokens: 512,
		TopP:            0.95,
		TopK:            40,
	}
}

// DefaultSafetyPolicy blocks medium and above in every category
func DefaultSafetyPolicy() SafetyPolicy {
	return SafetyPolicy{
		Rules: []SafetyRule{
			{Category: HarmHarassment, Threshold: BlockMediumAndAbove},
			{Category: HarmHateSpeech, Threshold: BlockMediumAndAbove},
			{Category: HarmSexuallyExplicit, Threshold: BlockMediumAndAbove},
			{Category: HarmDangerousContent, Threshold: BlockMediumAndAbove},
		},
	}
}

// DefaultVariants returns the built-in Gemini fallback chain
func DefaultVariants() []Variant {
	return []Variant{
		{ID: "gemini-2.0-flash", Provider: ProviderGemini, Capability: CapabilityVision, Rank: 1},
		{ID: "gemini-1.5-flash", Provider: ProviderGemini, Capability: CapabilityVision, Rank: 2},
		{ID: "gemini-2.0-flash", Provider: ProviderGemini, Capability: CapabilityText, Rank: 1},
		{ID: "gemini-2.0-flash-lite", Provider: ProviderGemini, Capability: CapabilityText, Rank: 2},
		{ID: "gemini-1.5-flash", Provider: ProviderGemini, Capability: CapabilityText, Rank: 3},
	}
}
