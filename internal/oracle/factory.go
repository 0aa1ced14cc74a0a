package oracle

import (
	"fmt"
	"time"
)

const (
	APIGemini    = "gemini"
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic"
)

// ClientConfig mirrors config.OracleConfig to avoid circular imports.
type ClientConfig struct {
	API     string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// FromConfig creates an Oracle from a config entry. The api field selects
// the wire format:
//   - "gemini"              -> Google Generative Language API (default)
//   - "openai-completions"  -> OpenAI-compatible chat completions
//   - "anthropic"           -> Anthropic Messages API
func FromConfig(cfg ClientConfig) (Oracle, error) {
	switch cfg.API {
	case APIGemini, "":
		return NewGeminiClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case APIOpenAI:
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case APIAnthropic:
		return NewAnthropicClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown api type %q (supported: %s, %s, %s)", cfg.API, APIGemini, APIOpenAI, APIAnthropic)
	}
}
