package ai

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/omnibridge/omnibridge/pkg/logger"
)

const openaiCallTimeout = 30 * time.Second

// OpenAIProvider implements Provider using the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  openai.GPT3Dot5Turbo,
	}
}

func (p *OpenAIProvider) ProcessNaturalLanguage(ctx context.Context, text string, msgCtx map[string]string) Intent {
	ctx, cancel := context.WithTimeout(ctx, openaiCallTimeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: intentSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.3,
	})
	if err != nil {
		logger.ErrorCF("ai", "OpenAI intent extraction failed", map[string]interface{}{
			"error": err.Error(),
		})
		return errorIntent(err)
	}

	content := "{}"
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		content = resp.Choices[0].Message.Content
	}

	intent, err := parseIntent(content)
	if err != nil {
		logger.ErrorCF("ai", "OpenAI returned malformed intent", map[string]interface{}{
			"error": err.Error(),
		})
		return errorIntent(err)
	}

	logger.DebugCF("ai", "Processed intent from OpenAI", map[string]interface{}{
		"action":     intent.Action,
		"confidence": intent.Confidence,
	})
	return intent
}

func (p *OpenAIProvider) GenerateResponse(ctx context.Context, intent Intent, data interface{}, msgCtx map[string]string) string {
	ctx, cancel := context.WithTimeout(ctx, openaiCallTimeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: responseSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: responseUserPrompt(intent, data)},
		},
		Temperature: 0.7,
	})
	if err != nil {
		logger.ErrorCF("ai", "OpenAI response generation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return ResponseFallback
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "Request processed successfully."
	}
	return resp.Choices[0].Message.Content
}
