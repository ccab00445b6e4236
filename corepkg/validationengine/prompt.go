// Package validationengine supplies concrete, LLM-backed
// implementations of advance.ValidationEngine: Anthropic, OpenAI, and
// Gemini adapters, each turning (notesMarkdown, criteria, context)
// into the engine's {valid, issues, suggestions, warnings} verdict.
// Grounded on the teacher's graph/model/{anthropic,openai,google}
// provider adapters — same request/response mapping and
// context-cancellation discipline, repurposed from open-ended chat to
// one structured validation call per advance.
package validationengine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/durableflow/engine/corepkg/advance"
)

// systemPrompt instructs the model to act as a deterministic output
// validator and to answer with nothing but the JSON verdict object.
const systemPrompt = `You validate a workflow step's recorded output against its completion criteria.
Respond with a single JSON object and nothing else, matching this shape exactly:
{"valid": bool, "issues": [string], "suggestions": [string], "warnings": [string]}
"issues" lists concrete reasons the output fails criteria (empty if valid).
"suggestions" lists concrete fixes for any issue raised.
"warnings" lists non-blocking concerns worth surfacing even when valid.`

// buildUserPrompt renders the notes, criteria, and merged context into
// the single user turn every provider adapter sends.
func buildUserPrompt(notesMarkdown, criteria string, context map[string]any) string {
	var b strings.Builder
	b.WriteString("## Completion criteria\n")
	b.WriteString(criteria)
	b.WriteString("\n\n## Recorded output notes\n")
	b.WriteString(notesMarkdown)
	if len(context) > 0 {
		if ctxJSON, err := json.Marshal(context); err == nil {
			b.WriteString("\n\n## Session context\n")
			b.Write(ctxJSON)
		}
	}
	return b.String()
}

// parseVerdict decodes a provider's raw text response into a
// ValidationResult. Providers are instructed to answer with bare
// JSON, but models occasionally wrap it in prose or a fenced code
// block; parseVerdict tolerates both by extracting the first
// '{'..last '}' span before decoding.
func parseVerdict(raw string) (advance.ValidationResult, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: no JSON object in response: %q", raw)
	}

	var verdict advance.ValidationResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &verdict); err != nil {
		return advance.ValidationResult{}, fmt.Errorf("validationengine: decode verdict: %w", err)
	}
	return verdict, nil
}
