package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const intentSystemPrompt = `You are an AI assistant that processes natural language requests and extracts structured intent.
Analyze the user's message and return a JSON object with:
- action: the main action the user wants to perform (e.g., "create", "read", "update", "delete", "query", "search")
- entities: key-value pairs of relevant information extracted from the message
- confidence: a number between 0 and 1 indicating confidence in the interpretation

Examples:
"Create a new user named John" -> {"action": "create", "entities": {"type": "user", "name": "John"}, "confidence": 0.9}
"Get all orders from last week" -> {"action": "query", "entities": {"type": "orders", "timeframe": "last week"}, "confidence": 0.85}
"Update product price to $50" -> {"action": "update", "entities": {"type": "product", "price": 50}, "confidence": 0.8}`

const responseSystemPrompt = `You are a helpful AI assistant that generates natural language responses based on structured data.
The user made a request that resulted in some data. Generate a friendly, conversational response that explains what happened.`

func responseUserPrompt(intent Intent, data interface{}) string {
	intentJSON, _ := json.Marshal(intent)
	dataJSON, _ := json.Marshal(data)
	return fmt.Sprintf("User's intent: %s\nResult data: %s\nGenerate a natural language response.",
		intentJSON, dataJSON)
}

// parseIntent decodes a model's JSON reply into an Intent, defensively:
// code fences are stripped, absent fields get safe substitutes
// (action "unknown", empty entities, confidence 0.5). Malformed JSON is an
// error for the caller to fold into an error intent.
func parseIntent(content string) (Intent, error) {
	content = stripCodeFences(content)

	var raw struct {
		Action     string                 `json:"action"`
		Entities   map[string]interface{} `json:"entities"`
		Confidence float64                `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}

	intent := Intent{
		Action:     raw.Action,
		Entities:   raw.Entities,
		Confidence: raw.Confidence,
	}
	if intent.Action == "" {
		intent.Action = "unknown"
	}
	if intent.Entities == nil {
		intent.Entities = map[string]interface{}{}
	}
	if intent.Confidence == 0 {
		intent.Confidence = 0.5
	}
	return intent, nil
}

// stripCodeFences removes a surrounding markdown code block, which models
// often wrap JSON in despite instructions.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
