package advance

import (
	"fmt"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/reason"
	"github.com/durableflow/engine/corepkg/statemachine"
)

// MaxContextBytes is spec.md §6.2's MAX_CONTEXT_BYTES: merged context
// is rejected if its canonical UTF-8 byte size exceeds this.
const MaxContextBytes = 262144

// reservedContextKeys is the closed set of keys shallowMerge rejects
// outright, regardless of autonomy or risk policy, to keep a
// maliciously-shaped context object from reaching into Go's own
// reflection-adjacent machinery downstream (mirrors the classic
// prototype-pollution guard from JS hosts; spec.md names the same
// three keys).
var reservedContextKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// ErrReservedKeyRejected is returned when mergedContext construction
// encounters one of reservedContextKeys.
var ErrReservedKeyRejected = fmt.Errorf("RESERVED_KEY_REJECTED")

// Input is the raw, untrusted request to Advance.
type Input struct {
	StoredContext   map[string]any
	IncomingContext map[string]any // nil if no context was supplied

	StepDefinition StepDefinition

	NotesMarkdown string
	Artifacts     []Artifact

	Autonomy   string
	RiskPolicy string
}

// StepDefinition is the subset of a compiled workflow step the
// boundary needs: its validation criteria and output contract.
type StepDefinition struct {
	StepId             string
	ValidationCriteria string
	OutputContract     *OutputContract
}

// OutputContract names what a step's output must satisfy; nil means
// no requirement.
type OutputContract struct {
	ContractRef string
	Required    bool
}

// Artifact is one caller-supplied artifact pending normalization into
// an output.
type Artifact struct {
	ContentType string
	Content     any
}

// ValidatedAdvanceInputs is the boundary's pure output; the rest of
// the pipeline trusts it completely and never re-validates.
type ValidatedAdvanceInputs struct {
	PendingStep        statemachine.PendingStep
	MergedContext      map[string]any
	InputContextObj    map[string]any // non-nil only if IncomingContext was a JSON object
	ValidationCriteria string
	OutputContract     *OutputContract
	NotesMarkdown      string
	Artifacts          []Artifact
	Autonomy           reason.Autonomy
	RiskPolicy         reason.RiskPolicy
}

// ValidateBoundary runs the boundary validation step of spec.md
// §4.7: derives the pending step, merges context with tombstone
// semantics, and narrows autonomy/riskPolicy from free strings.
func ValidateBoundary(mode Mode, in Input) (ValidatedAdvanceInputs, error) {
	pending := statemachine.DerivePendingStep(SnapshotOf(mode))
	if pending == nil {
		return ValidatedAdvanceInputs{}, apperr.ErrNoPendingStep
	}

	merged, err := shallowMerge(in.StoredContext, in.IncomingContext)
	if err != nil {
		return ValidatedAdvanceInputs{}, err
	}
	if size, err := canonicalByteSize(merged); err != nil {
		return ValidatedAdvanceInputs{}, apperr.NewAdvanceApplyFailed("failed to canonicalize merged context", err)
	} else if size > MaxContextBytes {
		return ValidatedAdvanceInputs{}, apperr.NewAdvanceApplyFailed(
			fmt.Sprintf("merged context %d bytes exceeds MAX_CONTEXT_BYTES=%d", size, MaxContextBytes), nil)
	}

	autonomy, err := narrowAutonomy(in.Autonomy)
	if err != nil {
		return ValidatedAdvanceInputs{}, err
	}
	risk, err := narrowRiskPolicy(in.RiskPolicy)
	if err != nil {
		return ValidatedAdvanceInputs{}, err
	}

	return ValidatedAdvanceInputs{
		PendingStep:        *pending,
		MergedContext:      merged,
		InputContextObj:    in.IncomingContext,
		ValidationCriteria: in.StepDefinition.ValidationCriteria,
		OutputContract:     in.StepDefinition.OutputContract,
		NotesMarkdown:      in.NotesMarkdown,
		Artifacts:          in.Artifacts,
		Autonomy:           autonomy,
		RiskPolicy:         risk,
	}, nil
}

// MergeContext is shallowMerge exported for callers that need to fold
// a session's recorded context_set events into a stored context
// before building an Input (coreapi reconstructs storedContext this
// way, since no durable "current context" value exists outside the
// context_set event stream itself).
func MergeContext(stored, incoming map[string]any) (map[string]any, error) {
	return shallowMerge(stored, incoming)
}

// shallowMerge merges incoming over stored; a null value in incoming
// tombstones (deletes) the corresponding key from the result.
func shallowMerge(stored, incoming map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(stored)+len(incoming))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range incoming {
		if reservedContextKeys[k] {
			return nil, fmt.Errorf("%w: %q", ErrReservedKeyRejected, k)
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged, nil
}

func canonicalByteSize(v any) (int, error) {
	b, err := canonjson.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func narrowAutonomy(s string) (reason.Autonomy, error) {
	switch reason.Autonomy(s) {
	case reason.AutonomyGuided, reason.AutonomyFullAutoStopOnUserDeps, reason.AutonomyFullAutoNeverStop:
		return reason.Autonomy(s), nil
	default:
		return "", apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest, fmt.Sprintf("unknown autonomy %q", s))
	}
}

func narrowRiskPolicy(s string) (reason.RiskPolicy, error) {
	switch reason.RiskPolicy(s) {
	case reason.RiskConservative, reason.RiskBalanced, reason.RiskAggressive:
		return reason.RiskPolicy(s), nil
	default:
		return "", apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest, fmt.Sprintf("unknown riskPolicy %q", s))
	}
}
