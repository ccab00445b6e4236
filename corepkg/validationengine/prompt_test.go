package validationengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUserPrompt_IncludesCriteriaNotesAndContext(t *testing.T) {
	prompt := buildUserPrompt("did the thing", "must mention the thing", map[string]any{"runId": "run_a"})
	assert.Contains(t, prompt, "must mention the thing")
	assert.Contains(t, prompt, "did the thing")
	assert.Contains(t, prompt, "run_a")
}

func TestBuildUserPrompt_OmitsContextSectionWhenEmpty(t *testing.T) {
	prompt := buildUserPrompt("notes", "criteria", nil)
	assert.NotContains(t, prompt, "Session context")
}

func TestParseVerdict_DecodesBareJSON(t *testing.T) {
	result, err := parseVerdict(`{"valid": true, "issues": [], "suggestions": [], "warnings": ["minor"]}`)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"minor"}, result.Warnings)
}

func TestParseVerdict_ExtractsJSONFromSurroundingProse(t *testing.T) {
	raw := "Here is my assessment:\n```json\n{\"valid\": false, \"issues\": [\"missing field\"]}\n```\nLet me know if you need more."
	result, err := parseVerdict(raw)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"missing field"}, result.Issues)
}

func TestParseVerdict_RejectsResponseWithNoJSON(t *testing.T) {
	_, err := parseVerdict("I cannot evaluate this.")
	assert.Error(t, err)
}

func TestNewAnthropicEngine_DefaultsModelName(t *testing.T) {
	e := NewAnthropicEngine("key", "")
	assert.NotEmpty(t, e.modelName)
}

func TestNewOpenAIEngine_DefaultsModelName(t *testing.T) {
	e := NewOpenAIEngine("key", "")
	assert.Equal(t, "gpt-4o", e.modelName)
}

func TestNewGeminiEngine_DefaultsModelName(t *testing.T) {
	e := NewGeminiEngine("key", "")
	assert.Equal(t, "gemini-pro", e.modelName)
}
