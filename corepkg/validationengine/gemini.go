package validationengine

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/durableflow/engine/corepkg/advance"
)

// GeminiEngine validates via Google's Gemini API. Grounded on teacher
// graph/model/google.ChatModel's client construction and
// close-after-call discipline.
type GeminiEngine struct {
	apiKey    string
	modelName string
}

// NewGeminiEngine constructs a GeminiEngine. An empty modelName
// defaults to the same current model the teacher's adapter defaults
// to.
func NewGeminiEngine(apiKey, modelName string) *GeminiEngine {
	if modelName == "" {
		modelName = "gemini-pro"
	}
	return &GeminiEngine{apiKey: apiKey, modelName: modelName}
}

func (e *GeminiEngine) Validate(ctx context.Context, notesMarkdown, criteria string, sessionContext map[string]any) (advance.ValidationResult, error) {
	if e.apiKey == "" {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: gemini API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: gemini client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(e.modelName)
	genModel.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))

	resp, err := genModel.GenerateContent(ctx, genai.Text(buildUserPrompt(notesMarkdown, criteria, sessionContext)))
	if err != nil {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: gemini request: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: gemini returned no candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return parseVerdict(text)
}
