package advance

import (
	"context"
	"fmt"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/gate"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/reason"
	"github.com/durableflow/engine/corepkg/sessionstore"
	"github.com/durableflow/engine/corepkg/snapshotstore"
	"github.com/durableflow/engine/corepkg/statemachine"
	"github.com/durableflow/engine/corepkg/trace"
)

// Deps bundles the durable stores Advance needs. One Deps is built per
// process and reused across requests.
type Deps struct {
	Sessions  *sessionstore.Store
	Snapshots *snapshotstore.Store
	Engine    ValidationEngine // may be nil if no step in the pinned workflow ever sets validationCriteria
}

// Request is everything one Advance call needs beyond the stores: the
// session/run/attempt identity, the mode, the compiled workflow to
// route with, and the raw boundary input.
type Request struct {
	SessionId id.SessionId
	RunId     id.RunId
	AttemptId id.AttemptId
	Mode      Mode
	Compiled  statemachine.CompiledWorkflow
	Input     Input

	// WorkflowRecommendedAutonomy/RiskPolicy are the pinned workflow's
	// recommended preferences; a request whose effective preference
	// exceeds them in permissiveness records a recommendation-warning
	// gap on the success path.
	WorkflowRecommendedAutonomy   reason.Autonomy
	WorkflowRecommendedRiskPolicy reason.RiskPolicy

	// SourceHasOutgoingEdge reports whether nodeIdOf(mode) already has
	// an outgoing edge, deciding intentional_fork vs non_tip_advance.
	SourceHasOutgoingEdge bool

	// ArtifactsForEval is what the compiled workflow's router sees;
	// distinct from validated.Artifacts (the raw, un-normalized
	// artifact inputs) because routing only needs their shape, not
	// their persisted form.
	ArtifactsForEval []any
}

// Result is Advance's pure return value once its append plan has been
// committed; both the blocked and success paths are "successful"
// mutations of the durable log, they differ only in Blocked/State.
type Result struct {
	State         statemachine.State
	AppendResult  sessionstore.AppendResult
	Blocked       bool
	BlockerReport reason.BlockerReport
}

// Advance is the unified entrypoint for the single mutation of the
// durable log spec.md §4.7 describes. It never partially applies: any
// error returned means no bytes were written to the session log.
func Advance(ctx context.Context, witness *gate.Witness, deps Deps, req Request) (Result, error) {
	pending := statemachine.DerivePendingStep(SnapshotOf(req.Mode))
	if pending == nil {
		return Result{}, apperr.ErrNoPendingStep
	}

	validated, err := ValidateBoundary(req.Mode, req.Input)
	if err != nil {
		return Result{}, err
	}

	var validation *ValidationResult
	if validated.ValidationCriteria != "" && validated.NotesMarkdown != "" {
		if deps.Engine == nil {
			return Result{}, apperr.NewAdvanceApplyFailed("step requires validation but no validation engine is configured", nil)
		}
		v, err := runValidation(ctx, deps.Engine, validated.NotesMarkdown, validated.ValidationCriteria, validated.MergedContext)
		if err != nil {
			return Result{}, err
		}
		validation = &v
	}

	outputReq := computeOutputRequirement(validated, validation)
	reasons := reason.DetectBlockingReasons(outputReq)
	guard := reason.ApplyGuardrails(validated.RiskPolicy, reasons)
	effective := guard.Blocking
	blockNow := len(effective) > 0 && reason.ShouldBlock(validated.Autonomy, effective)

	if blockNow {
		return advanceBlocked(witness, deps, req, validated, validation, effective)
	}
	return advanceSuccess(witness, deps, req, validated, validation, guard)
}

// computeOutputRequirement derives the unmet-requirement set from the
// boundary's validated inputs and the (optional) validation result.
// spec.md §4.7 step 4 names the inputs this is computed from without
// pinning an exact algorithm; this is the pure, minimal rule that
// satisfies it: an absent required output is the only structural
// requirement, and a failed validation surfaces its issues as
// evaluation errors rather than a second, redundant blocking kind.
func computeOutputRequirement(v ValidatedAdvanceInputs, validation *ValidationResult) reason.OutputRequirement {
	var req reason.OutputRequirement
	if v.OutputContract != nil && v.OutputContract.Required {
		hasOutput := v.NotesMarkdown != "" || len(v.Artifacts) > 0
		if !hasOutput {
			req.MissingContractRefs = append(req.MissingContractRefs, v.OutputContract.ContractRef)
		}
	}
	if validation != nil && !validation.Valid {
		req.EvaluationErrors = append(req.EvaluationErrors, validation.Issues...)
	}
	return req
}

func effectiveValidationPayload(validation *ValidationResult) ValidationResult {
	if validation != nil {
		return *validation
	}
	// A synthetic result records that no engine ran, per spec.md
	// §4.7's "synthetic result if the engine was not run".
	return ValidationResult{Valid: true}
}

// advanceBlocked implements the blocked path of spec.md §4.7: a
// validation_performed event (synthetic if the engine did not run),
// a BlockerReport, and a new blocked_attempt node/edge pair.
func advanceBlocked(witness *gate.Witness, deps Deps, req Request, validated ValidatedAdvanceInputs, validation *ValidationResult, effective []reason.Reason) (Result, error) {
	report, err := reason.BuildBlockerReport(effective, reason.DefaultMaxBlockerMessageBytes, reason.DefaultMaxBlockerSuggestedFixBytes, reason.DefaultMaxBlockers)
	if err != nil {
		return Result{}, err
	}
	if len(report.Blockers) == 0 {
		return Result{}, apperr.NewAdvanceApplyFailed("blocked path produced no blockers", nil)
	}
	primary := effective[0]

	current, err := deps.Sessions.LoadStrict(req.SessionId)
	if err != nil {
		return Result{}, err
	}
	nextIdx := current.ExpectedFirstEventIndex()
	sourceNode := NodeIdOf(req.Mode)

	validationPayload := effectiveValidationPayload(validation)
	validationRef, err := deps.Snapshots.Put(validationPayload)
	if err != nil {
		return Result{}, err
	}

	toNodeID, err := id.NewNodeId()
	if err != nil {
		return Result{}, err
	}

	blockedState := statemachine.Block(validated.PendingStep, primary, report.Blockers, string(validationRef), string(req.AttemptId))
	newSnapshotRef, err := deps.Snapshots.Put(blockedState)
	if err != nil {
		return Result{}, err
	}

	events := make([]event.Event, 0, 4)

	validationEvt, nextIdx, err := mintEvent(req.SessionId, nextIdx, event.KindValidationPerformed,
		dedupeKeyValidationPerformed(req.SessionId, req.AttemptId),
		event.Scope{RunId: req.RunId, NodeId: sourceNode}, validationPayload)
	if err != nil {
		return Result{}, err
	}
	events = append(events, validationEvt)

	causeKind := DeriveCauseKind(req.SourceHasOutgoingEdge)
	advanceEvt, nextIdx, err := mintEvent(req.SessionId, nextIdx, event.KindAdvanceRecorded,
		DedupeKeyAdvanceRecorded(req.SessionId, sourceNode, req.AttemptId),
		event.Scope{RunId: req.RunId, NodeId: sourceNode},
		map[string]any{"outcome": "advanced", "toNodeId": toNodeID, "causeKind": string(causeKind)})
	if err != nil {
		return Result{}, err
	}
	events = append(events, advanceEvt)

	nodeEvt, nextIdx, err := mintEvent(req.SessionId, nextIdx, event.KindNodeCreated,
		DedupeKeyNodeCreated(req.SessionId, req.RunId, toNodeID),
		event.Scope{RunId: req.RunId, NodeId: toNodeID},
		map[string]any{"kind": string(NodeKindBlockedAttempt), "snapshotRef": string(newSnapshotRef)})
	if err != nil {
		return Result{}, err
	}
	events = append(events, nodeEvt)

	edgeEvt, _, err := mintEvent(req.SessionId, nextIdx, event.KindEdgeCreated,
		DedupeKeyEdgeCreated(req.SessionId, req.RunId, sourceNode, toNodeID),
		event.Scope{RunId: req.RunId},
		map[string]any{"from": sourceNode, "to": toNodeID, "kind": string(EdgeAckedStep)})
	if err != nil {
		return Result{}, err
	}
	events = append(events, edgeEvt)

	plan := sessionstore.Plan{
		Events: events,
		SnapshotPins: []sessionstore.SnapshotPin{{
			EventIndex:       nodeEvt.EventIndex,
			SnapshotRef:      newSnapshotRef,
			CreatedByEventId: nodeEvt.EventId,
		}},
	}

	appendResult, err := deps.Sessions.Append(witness, req.SessionId, plan)
	if err != nil {
		return Result{}, err
	}
	return Result{State: blockedState, AppendResult: appendResult, Blocked: true, BlockerReport: report}, nil
}

// advanceSuccess implements the success path of spec.md §4.7.
func advanceSuccess(witness *gate.Witness, deps Deps, req Request, validated ValidatedAdvanceInputs, validation *ValidationResult, guard reason.GuardrailResult) (Result, error) {
	nextResult := statemachine.Next(req.Compiled, SnapshotOf(req.Mode), validated.MergedContext, req.ArtifactsForEval)
	advancedState := nextResult.State

	budgeted := trace.Build(toTraceEntries(nextResult.Trace), trace.DefaultMaxEntries, trace.DefaultMaxSummaryBytes, trace.DefaultMaxTotalBytes)

	newSnapshotRef, err := deps.Snapshots.Put(advancedState)
	if err != nil {
		return Result{}, err
	}

	outputs, err := buildOutputs(req.AttemptId, validated, validation)
	if err != nil {
		return Result{}, err
	}

	current, err := deps.Sessions.LoadStrict(req.SessionId)
	if err != nil {
		return Result{}, err
	}
	nextIdx := current.ExpectedFirstEventIndex()
	sourceNode := NodeIdOf(req.Mode)

	toNodeID, err := id.NewNodeId()
	if err != nil {
		return Result{}, err
	}
	causeKind := DeriveCauseKind(req.SourceHasOutgoingEdge)

	events := make([]event.Event, 0, 8)

	advanceEvt, nextIdx, err := mintEvent(req.SessionId, nextIdx, event.KindAdvanceRecorded,
		DedupeKeyAdvanceRecorded(req.SessionId, sourceNode, req.AttemptId),
		event.Scope{RunId: req.RunId, NodeId: sourceNode},
		map[string]any{"outcome": "advanced", "toNodeId": toNodeID, "causeKind": string(causeKind)})
	if err != nil {
		return Result{}, err
	}
	events = append(events, advanceEvt)

	// Extra events, in the fixed order spec.md §4.7 names.
	if validated.Autonomy == reason.AutonomyFullAutoNeverStop && len(guard.Blocking) > 0 {
		for _, r := range guard.Blocking {
			gapEvt, n, err := mintGapEvent(req.SessionId, nextIdx, req.RunId, sourceNode, r, gapSeverityFor(r))
			if err != nil {
				return Result{}, err
			}
			events = append(events, gapEvt)
			nextIdx = n
		}
	}
	for _, r := range recommendationWarningReasons(req, validated) {
		gapEvt, n, err := mintGapEvent(req.SessionId, nextIdx, req.RunId, sourceNode, r, reason.GapSeverityWarning)
		if err != nil {
			return Result{}, err
		}
		events = append(events, gapEvt)
		nextIdx = n
	}
	if validated.InputContextObj != nil {
		ctxEvt, n, err := mintEvent(req.SessionId, nextIdx, event.KindContextSet,
			dedupeKeyContextSet(req.SessionId, req.AttemptId),
			event.Scope{RunId: req.RunId, NodeId: sourceNode}, validated.InputContextObj)
		if err != nil {
			return Result{}, err
		}
		events = append(events, ctxEvt)
		nextIdx = n
	}
	if EmitValidationOnSuccess(req.Mode) {
		payload := effectiveValidationPayload(validation)
		vEvt, n, err := mintEvent(req.SessionId, nextIdx, event.KindValidationPerformed,
			dedupeKeyValidationPerformed(req.SessionId, req.AttemptId),
			event.Scope{RunId: req.RunId, NodeId: sourceNode}, payload)
		if err != nil {
			return Result{}, err
		}
		events = append(events, vEvt)
		nextIdx = n
	}
	if len(budgeted.Entries) > 0 {
		traceID, err := traceDigestID(budgeted)
		if err != nil {
			return Result{}, err
		}
		tEvt, n, err := mintEvent(req.SessionId, nextIdx, event.KindDecisionTraceAppended,
			DedupeKeyDecisionTraceAppended(req.SessionId, traceID),
			event.Scope{RunId: req.RunId, NodeId: sourceNode}, budgeted)
		if err != nil {
			return Result{}, err
		}
		events = append(events, tEvt)
		nextIdx = n
	}

	nodeEvt, nextIdx, err := mintEvent(req.SessionId, nextIdx, event.KindNodeCreated,
		DedupeKeyNodeCreated(req.SessionId, req.RunId, toNodeID),
		event.Scope{RunId: req.RunId, NodeId: toNodeID},
		map[string]any{"kind": string(SuccessNodeKind(req.Mode)), "snapshotRef": string(newSnapshotRef)})
	if err != nil {
		return Result{}, err
	}
	events = append(events, nodeEvt)

	edgeEvt, nextIdx, err := mintEvent(req.SessionId, nextIdx, event.KindEdgeCreated,
		DedupeKeyEdgeCreated(req.SessionId, req.RunId, sourceNode, toNodeID),
		event.Scope{RunId: req.RunId},
		map[string]any{"from": sourceNode, "to": toNodeID, "kind": string(EdgeAckedStep)})
	if err != nil {
		return Result{}, err
	}
	events = append(events, edgeEvt)

	for _, o := range outputs {
		outEvt, n, err := mintEvent(req.SessionId, nextIdx, event.KindNodeOutputAppended,
			DedupeKeyNodeOutputAppended(req.SessionId, o.OutputId),
			event.Scope{RunId: req.RunId, NodeId: toNodeID}, o)
		if err != nil {
			return Result{}, err
		}
		events = append(events, outEvt)
		nextIdx = n
	}

	outcome := Outcome{Kind: "advanced", ToNodeId: toNodeID, SnapshotRef: newSnapshotRef, CauseKind: causeKind}
	mintedIds := MintedIds{NodeCreatedEventId: nodeEvt.EventId, EdgeCreatedEventId: edgeEvt.EventId, OutputEventIds: outputEventIds(events, toNodeID)}
	if err := outcome.Validate(mintedIds, len(outputs)); err != nil {
		return Result{}, apperr.NewAdvanceApplyFailed("append plan failed pure pre-I/O invariant check", err)
	}

	plan := sessionstore.Plan{
		Events: events,
		SnapshotPins: []sessionstore.SnapshotPin{{
			EventIndex:       nodeEvt.EventIndex,
			SnapshotRef:      newSnapshotRef,
			CreatedByEventId: nodeEvt.EventId,
		}},
	}

	appendResult, err := deps.Sessions.Append(witness, req.SessionId, plan)
	if err != nil {
		return Result{}, err
	}
	return Result{State: advancedState, AppendResult: appendResult, Blocked: false}, nil
}

func gapSeverityFor(r reason.Reason) reason.GapSeverity {
	switch r.Kind {
	case reason.KindMissingRequiredOutput:
		// A contract-violation-class reason demoted to a gap is still
		// a broken output contract, not routine advisory noise.
		return reason.GapSeverityCritical
	case reason.KindUserOnlyDependency, reason.KindInvariantViolation, reason.KindStorageCorruptionDetected:
		return reason.GapSeverityWarning
	default:
		return reason.GapSeverityInfo
	}
}

func autonomyRank(a reason.Autonomy) int {
	switch a {
	case reason.AutonomyGuided:
		return 0
	case reason.AutonomyFullAutoStopOnUserDeps:
		return 1
	case reason.AutonomyFullAutoNeverStop:
		return 2
	default:
		return 0
	}
}

func riskRank(r reason.RiskPolicy) int {
	switch r {
	case reason.RiskConservative:
		return 0
	case reason.RiskBalanced:
		return 1
	case reason.RiskAggressive:
		return 2
	default:
		return 0
	}
}

// recommendationWarningReasons synthesizes a reason per exceeded
// preference, purely so gapSeverityFor/ReasonToGap can reuse the same
// machinery as blocking reasons; these are never treated as blocking
// since they never enter detectBlockingReasons.
func recommendationWarningReasons(req Request, validated ValidatedAdvanceInputs) []reason.Reason {
	var out []reason.Reason
	if autonomyRank(validated.Autonomy) > autonomyRank(req.WorkflowRecommendedAutonomy) {
		out = append(out, reason.Reason{
			Kind:    reason.KindEvaluationError,
			Message: fmt.Sprintf("requested autonomy %q exceeds workflow-recommended %q", validated.Autonomy, req.WorkflowRecommendedAutonomy),
		})
	}
	if riskRank(validated.RiskPolicy) > riskRank(req.WorkflowRecommendedRiskPolicy) {
		out = append(out, reason.Reason{
			Kind:    reason.KindEvaluationError,
			Message: fmt.Sprintf("requested riskPolicy %q exceeds workflow-recommended %q", validated.RiskPolicy, req.WorkflowRecommendedRiskPolicy),
		})
	}
	return out
}

func buildOutputs(attemptID id.AttemptId, validated ValidatedAdvanceInputs, validation *ValidationResult) ([]Output, error) {
	var outputs []Output

	recapEligible := validated.NotesMarkdown != "" && (validated.ValidationCriteria == "" || (validation != nil && validation.Valid))
	if recapEligible {
		payload := map[string]any{"schema": "notes_v1", "markdown": validated.NotesMarkdown}
		b, err := canonjson.Marshal(payload)
		if err != nil {
			return nil, apperr.NewAdvanceApplyFailed("failed to canonicalize recap output", err)
		}
		outputs = append(outputs, Output{
			OutputId:    "out_recap_" + string(attemptID),
			Channel:     "recap",
			ContentType: "application/json",
			Sha256:      id.Sha256Hex(b),
			ByteLength:  len(b),
			Content:     payload,
		})
	}

	for _, a := range validated.Artifacts {
		b, err := canonjson.Marshal(a.Content)
		if err != nil {
			return nil, apperr.NewAdvanceApplyFailed("artifact content is not canonicalizable JSON", err)
		}
		outputs = append(outputs, Output{
			Channel:     "artifact",
			ContentType: "application/json",
			Sha256:      id.Sha256Hex(b),
			ByteLength:  len(b),
			Content:     a.Content,
		})
	}

	normalized := NormalizeOutputsForDeterminism(outputs)
	for i := range normalized {
		if normalized[i].Channel == "artifact" {
			digest := normalized[i].Sha256
			normalized[i].OutputId = "out_artifact_" + digest[len("sha256:"):len("sha256:")+16]
		}
	}
	return normalized, nil
}

// mintEvent allocates a fresh EventId and the next sequential
// EventIndex for one event, returning the updated next index.
func mintEvent(sid id.SessionId, nextIdx int64, kind event.Kind, dedupeKey string, scope event.Scope, data any) (event.Event, int64, error) {
	eid, err := id.NewEventId()
	if err != nil {
		return event.Event{}, nextIdx, err
	}
	evt := event.New(sid, kind, dedupeKey, scope, data)
	evt.EventId = eid
	evt.EventIndex = nextIdx
	return evt, nextIdx + 1, nil
}

func mintGapEvent(sid id.SessionId, nextIdx int64, runID id.RunId, scopeNode id.NodeId, r reason.Reason, severity reason.GapSeverity) (event.Event, int64, error) {
	gap := reason.ReasonToGap(r, severity)
	gapBytes, err := canonjson.Marshal(gap)
	if err != nil {
		return event.Event{}, nextIdx, err
	}
	gapID := id.Sha256Hex(gapBytes)
	gapID = gapID[len("sha256:") : len("sha256:")+16]
	return mintEvent(sid, nextIdx, event.KindGapRecorded, DedupeKeyGapRecorded(sid, gapID), event.Scope{RunId: runID, NodeId: scopeNode}, gap)
}

func traceDigestID(r trace.Result) (string, error) {
	b, err := canonjson.Marshal(r)
	if err != nil {
		return "", err
	}
	digest := id.Sha256Hex(b)
	return digest[len("sha256:") : len("sha256:")+16], nil
}

func dedupeKeyValidationPerformed(sid id.SessionId, attempt id.AttemptId) string {
	return fmt.Sprintf("validation_performed:%s:%s", sid, attempt)
}

func dedupeKeyContextSet(sid id.SessionId, attempt id.AttemptId) string {
	// context_set is intentionally not deduplicated (spec.md §4.7): the
	// attempt id alone would collide on retry, so a temp suffix keeps
	// every emission's dedupeKey unique.
	return fmt.Sprintf("context_set:%s:%s:%s", sid, attempt, id.NewTempSuffix())
}

func toTraceEntries(in []statemachine.TraceEntry) []trace.Entry {
	out := make([]trace.Entry, len(in))
	for i, e := range in {
		out[i] = trace.Entry{Summary: e.Summary, Detail: e.Detail}
	}
	return out
}

func outputEventIds(events []event.Event, toNodeID id.NodeId) []id.EventId {
	var ids []id.EventId
	for _, e := range events {
		if e.Kind == event.KindNodeOutputAppended && e.Scope.NodeId == toNodeID {
			ids = append(ids, e.EventId)
		}
	}
	return ids
}
