package validationengine

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/durableflow/engine/corepkg/advance"
)

// AnthropicEngine validates via Anthropic's Messages API. Grounded on
// teacher graph/model/anthropic.ChatModel's client construction and
// system-prompt-as-separate-parameter convention.
type AnthropicEngine struct {
	apiKey    string
	modelName string
}

// NewAnthropicEngine constructs an AnthropicEngine. An empty
// modelName defaults to the same current Claude model the teacher's
// adapter defaults to.
func NewAnthropicEngine(apiKey, modelName string) *AnthropicEngine {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicEngine{apiKey: apiKey, modelName: modelName}
}

func (e *AnthropicEngine) Validate(ctx context.Context, notesMarkdown, criteria string, sessionContext map[string]any) (advance.ValidationResult, error) {
	if e.apiKey == "" {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(e.apiKey))
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(e.modelName),
		MaxTokens: 1024,
		System:    []anthropicsdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(buildUserPrompt(notesMarkdown, criteria, sessionContext))),
		},
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: anthropic request: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			text += b.Text
		}
	}
	return parseVerdict(text)
}
