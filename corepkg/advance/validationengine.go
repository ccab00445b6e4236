package advance

import (
	"context"
	"time"

	"github.com/durableflow/engine/corepkg/apperr"
)

func wrapValidationError(err error) error {
	return apperr.NewAdvanceApplyFailed("validation engine failed or timed out", err)
}

// ValidationDeadline is the soft deadline spec.md §4.7/§5 gives the
// validation engine; a timeout or engine failure surfaces as
// advance_apply_failed, never as a silent pass.
const ValidationDeadline = 30 * time.Second

// ValidationResult is the outcome of one validation engine
// invocation.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ValidationEngine is the port the core consumes (spec.md §6.3);
// corepkg's top-level validationengine package supplies concrete
// backends (Anthropic, OpenAI, Gemini) implementing this interface.
type ValidationEngine interface {
	Validate(ctx context.Context, notesMarkdown, criteria string, context map[string]any) (ValidationResult, error)
}

// runValidation invokes engine under ValidationDeadline, translating a
// timeout or engine error into advance_apply_failed per spec.md §4.7
// step 3.
func runValidation(ctx context.Context, engine ValidationEngine, notesMarkdown, criteria string, mergedContext map[string]any) (ValidationResult, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, ValidationDeadline)
	defer cancel()

	result, err := engine.Validate(deadlineCtx, notesMarkdown, criteria, mergedContext)
	if err != nil {
		return ValidationResult{}, wrapValidationError(err)
	}
	if deadlineCtx.Err() != nil {
		return ValidationResult{}, wrapValidationError(deadlineCtx.Err())
	}
	return result, nil
}
