package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/omnibridge/omnibridge/pkg/config"
)

// Intent is the structured interpretation of a free-text message: an
// action verb, extracted entities, and a confidence score in [0,1].
type Intent struct {
	Action     string                 `json:"action"`
	Entities   map[string]interface{} `json:"entities"`
	Confidence float64                `json:"confidence"`
}

// ResponseFallback is returned by GenerateResponse when the external
// service fails. It is the only generation-failure text a chat user sees.
const ResponseFallback = "I processed your request, but encountered an issue generating a response."

// Provider extracts intent from free text and phrases results back into
// prose. Implementations absorb every external-service failure mode into
// safe defaults: neither method returns an error.
type Provider interface {
	ProcessNaturalLanguage(ctx context.Context, text string, msgCtx map[string]string) Intent
	GenerateResponse(ctx context.Context, intent Intent, data interface{}, msgCtx map[string]string) string
}

// NewProvider selects the configured provider implementation. Anthropic
// wins when explicitly selected and configured; otherwise OpenAI.
func NewProvider(cfg *config.Config) (Provider, error) {
	if strings.EqualFold(cfg.AIProvider, "anthropic") && cfg.AnthropicAPIKey != "" {
		return NewAnthropicProvider(cfg.AnthropicAPIKey), nil
	}
	if cfg.OpenAIAPIKey != "" {
		return NewOpenAIProvider(cfg.OpenAIAPIKey), nil
	}
	return nil, fmt.Errorf("no AI provider configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
}

// errorIntent folds a provider failure into the degraded intent the router
// contract expects. Raw error text stays inside the entities map and never
// reaches a chat user.
func errorIntent(err error) Intent {
	return Intent{
		Action:     "error",
		Entities:   map[string]interface{}{"error": err.Error()},
		Confidence: 0,
	}
}
