package advance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/gate"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/reason"
	"github.com/durableflow/engine/corepkg/sessionstore"
	"github.com/durableflow/engine/corepkg/snapshotstore"
	"github.com/durableflow/engine/corepkg/statemachine"
)

type linearWorkflow struct {
	next *statemachine.PendingStep
}

func (w linearWorkflow) RouteNext(stepID string, loopPath []statemachine.LoopFrame, ctx map[string]any, artifacts []any) (*statemachine.PendingStep, []statemachine.TraceEntry) {
	return w.next, []statemachine.TraceEntry{{Summary: "routed from " + stepID}}
}

type fakeEngine struct {
	result ValidationResult
	err    error
}

func (e fakeEngine) Validate(ctx context.Context, notesMarkdown, criteria string, context map[string]any) (ValidationResult, error) {
	return e.result, e.err
}

func setupDeps(t *testing.T) (Deps, *gate.Gate, id.SessionId) {
	t.Helper()
	dir := t.TempDir()
	sessions := sessionstore.New(dir)
	snapshots, err := snapshotstore.New(dir + "/snapshots")
	require.NoError(t, err)
	sid := id.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	return Deps{Sessions: sessions, Snapshots: snapshots}, gate.New(dir), sid
}

func seedSession(t *testing.T, deps Deps, w *gate.Witness, sid id.SessionId) {
	t.Helper()
	plan := sessionstore.Plan{Events: []event.Event{{
		V: event.SchemaVersion, EventId: id.EventId("evt_root"), EventIndex: 0, SessionId: sid,
		Kind: event.KindSessionCreated, DedupeKey: "session_created:" + string(sid),
		Data: map[string]any{"workflowId": "wf1"},
	}}}
	_, err := deps.Sessions.Append(w, sid, plan)
	require.NoError(t, err)
}

func freshMode() Mode {
	return Mode{
		Kind:         ModeFresh,
		SourceNodeId: id.NodeId("node_source"),
		Snapshot: statemachine.State{
			Phase:       statemachine.PhaseRunning,
			PendingStep: &statemachine.PendingStep{StepId: "step1"},
		},
	}
}

func TestAdvance_SuccessPathCompletesRun(t *testing.T) {
	deps, g, sid := setupDeps(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()
	seedSession(t, deps, w, sid)

	req := Request{
		SessionId: sid,
		RunId:     id.RunId("run_1"),
		AttemptId: id.AttemptId("attempt_1"),
		Mode:      freshMode(),
		Compiled:  linearWorkflow{next: nil},
		Input: Input{
			StoredContext:  map[string]any{},
			StepDefinition: StepDefinition{StepId: "step1"},
			Autonomy:       string(reason.AutonomyGuided),
			RiskPolicy:     string(reason.RiskBalanced),
		},
	}

	result, err := Advance(context.Background(), w, deps, req)
	require.NoError(t, err)
	assert.False(t, result.Blocked)
	assert.Equal(t, statemachine.PhaseComplete, result.State.Phase)
	assert.False(t, result.AppendResult.IdempotentReplay)

	loaded, err := deps.Sessions.LoadStrict(sid)
	require.NoError(t, err)
	var sawNodeCreated, sawEdgeCreated, sawAdvanceRecorded bool
	for _, e := range loaded.Events {
		switch e.Kind {
		case event.KindNodeCreated:
			sawNodeCreated = true
		case event.KindEdgeCreated:
			sawEdgeCreated = true
		case event.KindAdvanceRecorded:
			sawAdvanceRecorded = true
		}
	}
	assert.True(t, sawNodeCreated)
	assert.True(t, sawEdgeCreated)
	assert.True(t, sawAdvanceRecorded)
}

func TestAdvance_SuccessPathWithRecapOutput(t *testing.T) {
	deps, g, sid := setupDeps(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()
	seedSession(t, deps, w, sid)

	req := Request{
		SessionId: sid,
		RunId:     id.RunId("run_1"),
		AttemptId: id.AttemptId("attempt_1"),
		Mode:      freshMode(),
		Compiled:  linearWorkflow{next: &statemachine.PendingStep{StepId: "step2"}},
		Input: Input{
			StoredContext:  map[string]any{},
			StepDefinition: StepDefinition{StepId: "step1"},
			NotesMarkdown:  "did the thing",
			Autonomy:       string(reason.AutonomyGuided),
			RiskPolicy:     string(reason.RiskBalanced),
		},
	}

	result, err := Advance(context.Background(), w, deps, req)
	require.NoError(t, err)
	assert.False(t, result.Blocked)
	assert.Equal(t, statemachine.PhaseRunning, result.State.Phase)

	loaded, err := deps.Sessions.LoadStrict(sid)
	require.NoError(t, err)
	var sawOutput bool
	for _, e := range loaded.Events {
		if e.Kind == event.KindNodeOutputAppended {
			sawOutput = true
		}
	}
	assert.True(t, sawOutput)
}

func TestAdvance_BlockedPathOnMissingRequiredOutput(t *testing.T) {
	deps, g, sid := setupDeps(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()
	seedSession(t, deps, w, sid)

	req := Request{
		SessionId: sid,
		RunId:     id.RunId("run_1"),
		AttemptId: id.AttemptId("attempt_1"),
		Mode:      freshMode(),
		Compiled:  linearWorkflow{next: nil},
		Input: Input{
			StoredContext: map[string]any{},
			StepDefinition: StepDefinition{
				StepId:         "step1",
				OutputContract: &OutputContract{ContractRef: "contract_out", Required: true},
			},
			Autonomy:   string(reason.AutonomyGuided),
			RiskPolicy: string(reason.RiskBalanced),
		},
	}

	result, err := Advance(context.Background(), w, deps, req)
	require.NoError(t, err)
	assert.True(t, result.Blocked)
	assert.Equal(t, statemachine.PhaseBlocked, result.State.Phase)
	require.Len(t, result.BlockerReport.Blockers, 1)
	assert.Equal(t, string(reason.KindMissingRequiredOutput), result.BlockerReport.Blockers[0].Code)

	loaded, err := deps.Sessions.LoadStrict(sid)
	require.NoError(t, err)
	var sawValidation, sawBlockedNode bool
	for _, e := range loaded.Events {
		if e.Kind == event.KindValidationPerformed {
			sawValidation = true
		}
		if e.Kind == event.KindNodeCreated {
			data := e.Data.(map[string]any)
			if data["kind"] == string(NodeKindBlockedAttempt) {
				sawBlockedNode = true
			}
		}
	}
	assert.True(t, sawValidation)
	assert.True(t, sawBlockedNode)
}

func TestAdvance_FullAutoNeverStopContinuesPastBlockingReason(t *testing.T) {
	deps, g, sid := setupDeps(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()
	seedSession(t, deps, w, sid)

	req := Request{
		SessionId: sid,
		RunId:     id.RunId("run_1"),
		AttemptId: id.AttemptId("attempt_1"),
		Mode:      freshMode(),
		Compiled:  linearWorkflow{next: nil},
		Input: Input{
			StoredContext: map[string]any{},
			StepDefinition: StepDefinition{
				StepId:         "step1",
				OutputContract: &OutputContract{ContractRef: "contract_out", Required: true},
			},
			Autonomy:   string(reason.AutonomyFullAutoNeverStop),
			RiskPolicy: string(reason.RiskBalanced),
		},
	}

	result, err := Advance(context.Background(), w, deps, req)
	require.NoError(t, err)
	assert.False(t, result.Blocked)

	loaded, err := deps.Sessions.LoadStrict(sid)
	require.NoError(t, err)
	var sawGap bool
	for _, e := range loaded.Events {
		if e.Kind == event.KindGapRecorded {
			sawGap = true
		}
	}
	assert.True(t, sawGap)
}

func TestAdvance_NoPendingStepFails(t *testing.T) {
	deps, g, sid := setupDeps(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()
	seedSession(t, deps, w, sid)

	req := Request{
		SessionId: sid,
		RunId:     id.RunId("run_1"),
		AttemptId: id.AttemptId("attempt_1"),
		Mode: Mode{
			Kind:         ModeFresh,
			SourceNodeId: id.NodeId("node_source"),
			Snapshot:     statemachine.State{Phase: statemachine.PhaseComplete},
		},
		Compiled: linearWorkflow{},
		Input: Input{
			Autonomy:   string(reason.AutonomyGuided),
			RiskPolicy: string(reason.RiskBalanced),
		},
	}

	_, err = Advance(context.Background(), w, deps, req)
	assert.Error(t, err)
}

func TestAdvance_ValidationEngineTimeoutSurfacesAsApplyFailed(t *testing.T) {
	deps, g, sid := setupDeps(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()
	seedSession(t, deps, w, sid)
	deps.Engine = fakeEngine{err: context.DeadlineExceeded}

	req := Request{
		SessionId: sid,
		RunId:     id.RunId("run_1"),
		AttemptId: id.AttemptId("attempt_1"),
		Mode:      freshMode(),
		Compiled:  linearWorkflow{},
		Input: Input{
			StoredContext:  map[string]any{},
			StepDefinition: StepDefinition{StepId: "step1", ValidationCriteria: "must look right"},
			NotesMarkdown:  "notes",
			Autonomy:       string(reason.AutonomyGuided),
			RiskPolicy:     string(reason.RiskBalanced),
		},
	}

	_, err = Advance(context.Background(), w, deps, req)
	assert.Error(t, err)
}
