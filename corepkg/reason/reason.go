// Package reason implements the pure reason/blocker/gap model of
// spec.md §3.6 and §4.5: closed tagged unions plus small, pure policy
// functions over them. Grounded on the teacher's graph/policy.go style
// of small, well-documented pure functions operating on plain config
// types (computeBackoff, (*RetryPolicy).Validate) rather than a
// rules-engine abstraction.
package reason

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/id"
)

// Byte budgets enforced by reasonToBlocker and buildBlockerReport.
// spec.md §4.5 names these as engine-level tunables
// (MAX_BLOCKER_MESSAGE_BYTES, MAX_BLOCKER_SUGGESTED_FIX_BYTES,
// MAX_BLOCKERS) without pinning numeric defaults; this package fixes
// them as package-level defaults (overridable via the WithX options in
// BuildBlockerReport) rather than introducing a separate config
// package for three integers.
const (
	DefaultMaxBlockerMessageBytes      = 4096
	DefaultMaxBlockerSuggestedFixBytes = 4096
	DefaultMaxBlockers                 = 50
)

// Autonomy is the closed set of autonomy modes narrowed from a free
// string at the advance boundary.
type Autonomy string

const (
	AutonomyGuided                 Autonomy = "guided"
	AutonomyFullAutoStopOnUserDeps Autonomy = "full_auto_stop_on_user_deps"
	AutonomyFullAutoNeverStop      Autonomy = "full_auto_never_stop"
)

// RiskPolicy is the closed set of risk policies.
type RiskPolicy string

const (
	RiskConservative RiskPolicy = "conservative"
	RiskBalanced     RiskPolicy = "balanced"
	RiskAggressive   RiskPolicy = "aggressive"
)

// Kind is the closed tagged-union discriminant for ReasonV1.
type Kind string

const (
	KindMissingRequiredOutput         Kind = "missing_required_output"
	KindMissingContextKey             Kind = "missing_context_key"
	KindRequiredCapabilityUnavailable Kind = "required_capability_unavailable"
	KindUserOnlyDependency            Kind = "user_only_dependency"
	KindInvariantViolation            Kind = "invariant_violation"
	KindStorageCorruptionDetected     Kind = "storage_corruption_detected"
	KindEvaluationError               Kind = "evaluation_error"
)

// Reason is the closed tagged union ReasonV1. Exactly the fields
// relevant to Kind are populated; callers switch on Kind.
type Reason struct {
	Kind Kind `json:"kind"`

	ContractRef string `json:"contractRef,omitempty"`
	Key         string `json:"key,omitempty"`
	Capability  string `json:"capability,omitempty"`
	Detail      string `json:"detail,omitempty"`
	StepId      string `json:"stepId,omitempty"`
	Message     string `json:"message,omitempty"`

	// Advisory marks a reason demoted by applyGuardrails from blocking
	// to advisory; the original Kind and fields are unchanged.
	Advisory bool `json:"-"`
}

// PointerKind discriminates what part of the request a blocker's
// pointer targets.
type PointerKind string

const (
	PointerContract PointerKind = "contract"
	PointerContext  PointerKind = "context"
	PointerSystem   PointerKind = "system"
)

// Pointer locates the offending field for a BlockerV1.
type Pointer struct {
	Kind   PointerKind `json:"kind"`
	Stable string      `json:"stable"`
}

// Blocker is the UI-facing projection BlockerV1.
type Blocker struct {
	Code         string  `json:"code"`
	Pointer      Pointer `json:"pointer"`
	Message      string  `json:"message"`
	SuggestedFix string  `json:"suggestedFix,omitempty"`
}

// BlockerReport is the output of buildBlockerReport.
type BlockerReport struct {
	Blockers []Blocker `json:"blockers"`
}

// GapSeverity is the closed severity set for GapV1 records.
type GapSeverity string

const (
	GapSeverityInfo     GapSeverity = "info"
	GapSeverityWarning  GapSeverity = "warning"
	GapSeverityCritical GapSeverity = "critical"
)

// Gap is the record form used when autonomy chooses to continue
// anyway instead of blocking (spec.md §3.6).
type Gap struct {
	Reason   Reason      `json:"reason"`
	Severity GapSeverity `json:"severity"`
}

// OutputRequirement is the input to DetectBlockingReasons: the
// evaluated state of a step's required outputs.
type OutputRequirement struct {
	MissingContractRefs     []string
	MissingContextKeys      []string
	UnavailableCapabilities []string
	UserOnlyDependencies    []UserOnlyDependency
	EvaluationErrors        []string
}

// UserOnlyDependency names a dependency that only a human can satisfy.
type UserOnlyDependency struct {
	Detail string
	StepId string
}

// DetectBlockingReasons turns a requirement evaluation into one reason
// per unmet requirement, in a fixed, deterministic order: missing
// outputs, then missing context keys, then unavailable capabilities,
// then user-only dependencies, then evaluation errors.
func DetectBlockingReasons(req OutputRequirement) []Reason {
	var reasons []Reason
	for _, ref := range req.MissingContractRefs {
		reasons = append(reasons, Reason{Kind: KindMissingRequiredOutput, ContractRef: ref})
	}
	for _, key := range req.MissingContextKeys {
		reasons = append(reasons, Reason{Kind: KindMissingContextKey, Key: key})
	}
	for _, capability := range req.UnavailableCapabilities {
		reasons = append(reasons, Reason{Kind: KindRequiredCapabilityUnavailable, Capability: capability})
	}
	for _, dep := range req.UserOnlyDependencies {
		reasons = append(reasons, Reason{Kind: KindUserOnlyDependency, Detail: dep.Detail, StepId: dep.StepId})
	}
	for _, msg := range req.EvaluationErrors {
		reasons = append(reasons, Reason{Kind: KindEvaluationError, Message: msg})
	}
	return reasons
}

// GuardrailResult splits reasons into blocking and advisory sets.
type GuardrailResult struct {
	Blocking []Reason
	Advisory []Reason
}

// demotableUnderAggressive is the closed set of reason kinds an
// aggressive risk policy may demote from blocking to advisory; the
// invariant/corruption/capability kinds are never demotable, since
// proceeding past them would violate §3.7 ownership/immutability
// guarantees or leave a step silently unexecuted.
var demotableUnderAggressive = map[Kind]bool{
	KindMissingContextKey:  true,
	KindEvaluationError:    true,
	KindUserOnlyDependency: false,
}

// ApplyGuardrails filters reasons by risk policy. Under
// RiskAggressive, a fixed subset of non-critical reason kinds is
// demoted to advisory; conservative and balanced never demote.
func ApplyGuardrails(policy RiskPolicy, reasons []Reason) GuardrailResult {
	result := GuardrailResult{}
	for _, r := range reasons {
		if policy == RiskAggressive && demotableUnderAggressive[r.Kind] {
			demoted := r
			demoted.Advisory = true
			result.Advisory = append(result.Advisory, demoted)
			continue
		}
		result.Blocking = append(result.Blocking, r)
	}
	return result
}

// ShouldBlock implements spec.md §4.5's autonomy/reasons truth table.
func ShouldBlock(autonomy Autonomy, effectiveReasons []Reason) bool {
	if len(effectiveReasons) == 0 {
		return false
	}
	switch autonomy {
	case AutonomyFullAutoNeverStop:
		return false
	case AutonomyFullAutoStopOnUserDeps, AutonomyGuided:
		return true
	default:
		return true
	}
}

// ReasonToBlocker validates the reason's embedded identifiers and
// converts it into its UI-facing BlockerV1 projection, enforcing the
// message/suggested-fix UTF-8 byte budgets.
func ReasonToBlocker(r Reason, maxMessageBytes, maxSuggestedFixBytes int) (Blocker, error) {
	code := string(r.Kind)

	var pointer Pointer
	var message string
	var suggestedFix string

	switch r.Kind {
	case KindMissingRequiredOutput:
		if err := validateContractRef(r.ContractRef); err != nil {
			return Blocker{}, err
		}
		pointer = Pointer{Kind: PointerContract, Stable: r.ContractRef}
		message = fmt.Sprintf("Missing required output for contractRef=%s", r.ContractRef)
	case KindMissingContextKey:
		if err := id.ValidateDelimiterSafe(r.Key); err != nil {
			return Blocker{}, fmt.Errorf("%w: context key", err)
		}
		pointer = Pointer{Kind: PointerContext, Stable: r.Key}
		message = fmt.Sprintf("Missing required context key=%s", r.Key)
	case KindRequiredCapabilityUnavailable:
		pointer = Pointer{Kind: PointerSystem, Stable: r.Capability}
		message = fmt.Sprintf("Required capability unavailable: %s", r.Capability)
	case KindUserOnlyDependency:
		if r.StepId != "" {
			if err := id.ValidateDelimiterSafe(r.StepId); err != nil {
				return Blocker{}, fmt.Errorf("%w: stepId", err)
			}
		}
		pointer = Pointer{Kind: PointerSystem, Stable: r.StepId}
		message = r.Detail
		suggestedFix = "This step requires a human to act; resume after completing it."
	case KindInvariantViolation, KindStorageCorruptionDetected:
		pointer = Pointer{Kind: PointerSystem, Stable: string(r.Kind)}
		message = r.Message
		if message == "" {
			message = string(r.Kind)
		}
	case KindEvaluationError:
		pointer = Pointer{Kind: PointerSystem, Stable: "evaluation"}
		message = r.Message
	default:
		return Blocker{}, fmt.Errorf("%w: unknown reason kind %q", apperr.ErrInvariantViolation, r.Kind)
	}

	if utf8.RuneCountInString(message) > 0 && len([]byte(message)) > maxMessageBytes {
		return Blocker{}, fmt.Errorf("%w: %d bytes > %d", apperr.ErrBlockerMessageTooLarge, len(message), maxMessageBytes)
	}
	if len([]byte(suggestedFix)) > maxSuggestedFixBytes {
		return Blocker{}, fmt.Errorf("%w: %d bytes > %d", apperr.ErrBlockerSuggestedFixTooLarge, len(suggestedFix), maxSuggestedFixBytes)
	}

	return Blocker{Code: code, Pointer: pointer, Message: message, SuggestedFix: suggestedFix}, nil
}

func validateContractRef(ref string) error {
	if err := id.ValidateDelimiterSafe(ref); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrInvalidContractRef, ref)
	}
	return nil
}

// BuildBlockerReport converts reasons to blockers, sorts them by
// (code, pointer.kind, pointer.stable) in ASCII order, and caps the
// result at maxBlockers.
func BuildBlockerReport(reasons []Reason, maxMessageBytes, maxSuggestedFixBytes, maxBlockers int) (BlockerReport, error) {
	blockers := make([]Blocker, 0, len(reasons))
	for _, r := range reasons {
		b, err := ReasonToBlocker(r, maxMessageBytes, maxSuggestedFixBytes)
		if err != nil {
			return BlockerReport{}, err
		}
		blockers = append(blockers, b)
	}

	sort.Slice(blockers, func(i, j int) bool {
		a, b := blockers[i], blockers[j]
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.Pointer.Kind != b.Pointer.Kind {
			return a.Pointer.Kind < b.Pointer.Kind
		}
		return a.Pointer.Stable < b.Pointer.Stable
	})

	if len(blockers) > maxBlockers {
		blockers = blockers[:maxBlockers]
	}
	return BlockerReport{Blockers: blockers}, nil
}

// ReasonToGap wraps a reason as a GapV1 record with the given
// severity, used on the full_auto_never_stop continue-anyway path.
func ReasonToGap(r Reason, severity GapSeverity) Gap {
	return Gap{Reason: r, Severity: severity}
}
