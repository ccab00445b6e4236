package validationengine

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/durableflow/engine/corepkg/advance"
)

// OpenAIEngine validates via OpenAI's Chat Completions API. Grounded
// on teacher graph/model/openai.ChatModel's client construction.
type OpenAIEngine struct {
	apiKey    string
	modelName string
}

// NewOpenAIEngine constructs an OpenAIEngine. An empty modelName
// defaults to the same current model the teacher's adapter defaults
// to.
func NewOpenAIEngine(apiKey, modelName string) *OpenAIEngine {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &OpenAIEngine{apiKey: apiKey, modelName: modelName}
}

func (e *OpenAIEngine) Validate(ctx context.Context, notesMarkdown, criteria string, sessionContext map[string]any) (advance.ValidationResult, error) {
	if e.apiKey == "" {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: openai API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(e.apiKey))
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(e.modelName),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(buildUserPrompt(notesMarkdown, criteria, sessionContext)),
		},
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: openai returned no choices")
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}
