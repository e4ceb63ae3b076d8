package costs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pricing holds the per-unit USD rates used to attribute cost to
// external API calls. Rates change out-of-band with provider pricing,
// so they load from a YAML file with these compiled-in fallbacks.
type Pricing struct {
	LLMInputPer1KTokens    float64 `yaml:"llm_input_per_1k_tokens"`
	LLMOutputPer1KTokens   float64 `yaml:"llm_output_per_1k_tokens"`
	TTSPer1KCharacters     float64 `yaml:"tts_per_1k_characters"`
	TranscriptionPerMinute float64 `yaml:"transcription_per_minute"`
	ImagePerImage          float64 `yaml:"image_per_image"`
	StoragePerGB           float64 `yaml:"storage_per_gb"`
}

// DefaultPricing returns the compiled-in rates
func DefaultPricing() Pricing {
	return Pricing{
		LLMInputPer1KTokens:    0.0025,
		LLMOutputPer1KTokens:   0.01,
		TTSPer1KCharacters:     0.015,
		TranscriptionPerMinute: 0.006,
		ImagePerImage:          0.04,
		StoragePerGB:           0.021,
	}
}

// LoadPricing reads rates from a YAML file, falling back to defaults for
// any rate the file leaves at zero.
func LoadPricing(path string) (Pricing, error) {
	pricing := DefaultPricing()
	if path == "" {
		return pricing, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pricing, fmt.Errorf("failed to read pricing file %s: %w", path, err)
	}

	var loaded Pricing
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return pricing, fmt.Errorf("failed to parse pricing file %s: %w", path, err)
	}

	if loaded.LLMInputPer1KTokens > 0 {
		pricing.LLMInputPer1KTokens = loaded.LLMInputPer1KTokens
	}
	if loaded.LLMOutputPer1KTokens > 0 {
		pricing.LLMOutputPer1KTokens = loaded.LLMOutputPer1KTokens
	}
	if loaded.TTSPer1KCharacters > 0 {
		pricing.TTSPer1KCharacters = loaded.TTSPer1KCharacters
	}
	if loaded.TranscriptionPerMinute > 0 {
		pricing.TranscriptionPerMinute = loaded.TranscriptionPerMinute
	}
	if loaded.ImagePerImage > 0 {
		pricing.ImagePerImage = loaded.ImagePerImage
	}
	if loaded.StoragePerGB > 0 {
		pricing.StoragePerGB = loaded.StoragePerGB
	}
	return pricing, nil
}
