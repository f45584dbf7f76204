package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/omnibridge/omnibridge/pkg/logger"
)

const anthropicCallTimeout = 30 * time.Second

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.ModelClaude_3_Haiku_20240307,
	}
}

func (p *AnthropicProvider) ProcessNaturalLanguage(ctx context.Context, text string, msgCtx map[string]string) Intent {
	ctx, cancel := context.WithTimeout(ctx, anthropicCallTimeout)
	defer cancel()

	prompt := fmt.Sprintf("%s\n\nReturn ONLY valid JSON, no other text.\n\nUser message: %q\n\nReturn the JSON intent:",
		intentSystemPrompt, text)

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		logger.ErrorCF("ai", "Anthropic intent extraction failed", map[string]interface{}{
			"error": err.Error(),
		})
		return errorIntent(err)
	}

	intent, err := parseIntent(firstTextBlock(resp))
	if err != nil {
		logger.ErrorCF("ai", "Anthropic returned malformed intent", map[string]interface{}{
			"error": err.Error(),
		})
		return errorIntent(err)
	}

	logger.DebugCF("ai", "Processed intent from Anthropic", map[string]interface{}{
		"action":     intent.Action,
		"confidence": intent.Confidence,
	})
	return intent
}

func (p *AnthropicProvider) GenerateResponse(ctx context.Context, intent Intent, data interface{}, msgCtx map[string]string) string {
	ctx, cancel := context.WithTimeout(ctx, anthropicCallTimeout)
	defer cancel()

	prompt := fmt.Sprintf("%s\n\n%s\n\nBe concise and clear.",
		responseSystemPrompt, responseUserPrompt(intent, data))

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		logger.ErrorCF("ai", "Anthropic response generation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return ResponseFallback
	}

	if text := firstTextBlock(resp); text != "" {
		return text
	}
	return "Request processed successfully."
}

func firstTextBlock(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}
