package coreapi

import (
	"context"
	"fmt"

	"github.com/durableflow/engine/corepkg/advance"
	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/emit"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/projection"
	"github.com/durableflow/engine/corepkg/reason"
	"github.com/durableflow/engine/corepkg/statemachine"
	"github.com/durableflow/engine/corepkg/token"
)

// ContinueWorkflowRequest is continueWorkflow's input, spec.md §6.2.
// Exactly one of AckToken, StateToken or SessionId should be set:
// AckToken authorizes a mutating advance; StateToken or a bare
// SessionId both resolve a read-only rehydrate.
type ContinueWorkflowRequest struct {
	AckToken   string
	StateToken string
	SessionId  id.SessionId

	Context       map[string]any
	NotesMarkdown string
	Artifacts     []advance.Artifact
	Autonomy      string
	RiskPolicy    string
}

// ContinueWorkflowResult is continueWorkflow's output.
type ContinueWorkflowResult struct {
	StateToken      string
	AckToken        string // empty once the run is complete
	CheckpointToken string
	IsComplete      bool
	Pending         *statemachine.PendingStep
	Blocked         bool
	BlockerReport   reason.BlockerReport
}

// ContinueWorkflow implements spec.md §6.2's continueWorkflow. Without
// an ackToken it is a pure rehydrate (rehydrate-pure-no-writes): zero
// new events, zero new snapshots. With an ackToken it may append, and
// only then (advance-append-capable).
func (a *API) ContinueWorkflow(ctx context.Context, req ContinueWorkflowRequest) (ContinueWorkflowResult, error) {
	if req.AckToken != "" {
		return a.continueMutating(ctx, req)
	}
	return a.continueRehydrate(req)
}

// continueRehydrate resolves the target session/node without ever
// calling sessionstore.Append or snapshotstore.Put.
func (a *API) continueRehydrate(req ContinueWorkflowRequest) (ContinueWorkflowResult, error) {
	var sessionID id.SessionId
	var pinnedNode id.NodeId
	haveNode := false

	switch {
	case req.StateToken != "":
		p, err := token.Verify(a.TokenKey, token.KindState, req.StateToken)
		if err != nil {
			return ContinueWorkflowResult{}, err
		}
		sessionID, pinnedNode, haveNode = p.SessionId, p.NodeId, true
	case req.SessionId != "":
		sessionID = req.SessionId
	default:
		return ContinueWorkflowResult{}, ErrNoToken
	}

	prefix, err := a.Sessions.LoadValidatedPrefix(sessionID)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}
	if len(prefix.Loaded.Events) == 0 {
		return ContinueWorkflowResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	dag := projection.BuildDAG(prefix.Loaded.Events)
	nodeID := pinnedNode
	if !haveNode {
		tip, ok := dag.PreferredTip()
		if !ok {
			return ContinueWorkflowResult{}, fmt.Errorf("%w: %s has no nodes", ErrSessionNotFound, sessionID)
		}
		nodeID = tip
	}

	state, err := a.nodeSnapshot(dag, nodeID)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}
	runID, _ := runIdForNode(prefix.Loaded.Events, nodeID)
	workflowHash, _ := workflowHashForRun(prefix.Loaded.Events, runID)

	return a.resultFor(dag, sessionID, runID, nodeID, state, workflowHash, false, reason.BlockerReport{})
}

// continueMutating resolves the ackToken's coordinate, rebuilds the
// advance.Mode it authorizes, and calls advance.Advance — the only
// path through this package capable of appending.
func (a *API) continueMutating(ctx context.Context, req ContinueWorkflowRequest) (ContinueWorkflowResult, error) {
	p, err := token.Verify(a.TokenKey, token.KindAck, req.AckToken)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}

	witness, err := a.Gate.Acquire(p.SessionId)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}
	defer witness.Release()

	// LoadStrict, not LoadValidatedPrefix: salvage-read-only requires
	// writes to be refused outright while the session's tail is
	// corrupt, and LoadStrict already fails closed on any corruption.
	loaded, err := a.Sessions.LoadStrict(p.SessionId)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}
	if len(loaded.Events) == 0 {
		return ContinueWorkflowResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, p.SessionId)
	}

	dag := projection.BuildDAG(loaded.Events)
	sourceNode := p.NodeId
	state, err := a.nodeSnapshot(dag, sourceNode)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}
	if state.Phase == statemachine.PhaseComplete {
		return ContinueWorkflowResult{}, fmt.Errorf("%w: %s", ErrAlreadyComplete, p.SessionId)
	}

	expectedAttempt := attemptIdForAdvanceFrom(dag, sourceNode, state)
	if expectedAttempt != p.AttemptId {
		// replay-fail-closed: a token whose attempt coordinate no
		// longer matches recorded facts never silently falls back to
		// a fresh advance.
		return ContinueWorkflowResult{}, apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest,
			fmt.Sprintf("ackToken attemptId %q does not match recorded attempt %q for node %s", p.AttemptId, expectedAttempt, sourceNode))
	}

	workflowHash, ok := workflowHashForRun(loaded.Events, p.RunId)
	if !ok {
		return ContinueWorkflowResult{}, fmt.Errorf("%w: run %s has no recorded workflowHash", ErrSessionNotFound, p.RunId)
	}
	wf, err := a.Workflows.FetchByHash(workflowHash)
	if err != nil {
		return ContinueWorkflowResult{}, fmt.Errorf("%w: %s: %v", ErrWorkflowNotFound, workflowHash, err)
	}

	mode := advance.Mode{Snapshot: state}
	if state.Phase == statemachine.PhaseBlocked {
		mode.Kind = advance.ModeRetry
		mode.BlockedNodeId = sourceNode
	} else {
		mode.Kind = advance.ModeFresh
		mode.SourceNodeId = sourceNode
	}

	storedContext, err := reconstructStoredContext(loaded.Events, p.RunId)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}

	input := advance.Input{
		StoredContext:   storedContext,
		IncomingContext: req.Context,
		StepDefinition:  advance.StepDefinition{StepId: mode.Snapshot.PendingStep.StepId},
		NotesMarkdown:   req.NotesMarkdown,
		Artifacts:       req.Artifacts,
		Autonomy:        defaultString(req.Autonomy, string(reason.AutonomyGuided)),
		RiskPolicy:      defaultString(req.RiskPolicy, string(reason.RiskConservative)),
	}

	advReq := advance.Request{
		SessionId:                     p.SessionId,
		RunId:                         p.RunId,
		AttemptId:                     p.AttemptId,
		Mode:                          mode,
		Compiled:                      wf.Compiled,
		Input:                         input,
		WorkflowRecommendedAutonomy:   wf.Source.Autonomy(),
		WorkflowRecommendedRiskPolicy: wf.Source.RiskPolicy(),
		SourceHasOutgoingEdge:         dag.HasOutgoingEdge(sourceNode),
		ArtifactsForEval:              artifactsForEval(req.Artifacts),
	}

	deps := advance.Deps{Sessions: a.Sessions, Snapshots: a.Snapshots, Engine: a.Engine}
	result, err := advance.Advance(ctx, witness, deps, advReq)
	if err != nil {
		if a.Metrics != nil {
			a.Metrics.RecordAdvance(0, "error", "")
		}
		return ContinueWorkflowResult{}, err
	}

	if a.Metrics != nil {
		a.Metrics.RecordAdvance(0, outcomeLabel(result.Blocked), string(advance.DeriveCauseKind(advReq.SourceHasOutgoingEdge)))
	}
	a.emit(emit.Event{SessionId: p.SessionId, RunId: p.RunId, NodeId: sourceNode, Kind: "continue_workflow"})

	reloaded, err := a.Sessions.LoadStrict(p.SessionId)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}
	newDag := projection.BuildDAG(reloaded.Events)
	tip, ok := newDag.PreferredTip()
	if !ok {
		return ContinueWorkflowResult{}, fmt.Errorf("%w: advance committed but no tip node found", ErrSessionNotFound)
	}

	return a.resultFor(newDag, p.SessionId, p.RunId, tip, result.State, workflowHash, result.Blocked, result.BlockerReport)
}

// resultFor mints the response triple for (sessionID, nodeID, state)
// and shapes the ContinueWorkflowResult.
func (a *API) resultFor(dag projection.DAG, sessionID id.SessionId, runID id.RunId, nodeID id.NodeId, state statemachine.State,
	workflowHash id.WorkflowHash, blocked bool, report reason.BlockerReport) (ContinueWorkflowResult, error) {

	attempt := attemptIdForAdvanceFrom(dag, nodeID, state)
	stateTok, err := a.mintStateToken(sessionID, runID, nodeID, attempt, workflowHash)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}

	res := ContinueWorkflowResult{
		StateToken:    stateTok,
		IsComplete:    state.Phase == statemachine.PhaseComplete,
		Pending:       statemachine.DerivePendingStep(state),
		Blocked:       blocked,
		BlockerReport: report,
	}
	if res.IsComplete {
		return res, nil
	}

	_, ackTok, checkpointTok, err := a.mintTriple(sessionID, runID, nodeID, attempt, workflowHash)
	if err != nil {
		return ContinueWorkflowResult{}, err
	}
	res.AckToken = ackTok
	res.CheckpointToken = checkpointTok
	return res, nil
}

func (a *API) mintStateToken(sid id.SessionId, run id.RunId, node id.NodeId, attempt id.AttemptId, workflowHash id.WorkflowHash) (string, error) {
	p := token.Payload{TokenKind: token.KindState, SessionId: sid, RunId: run, NodeId: node, AttemptId: attempt, WorkflowHashRef: string(workflowHash)}
	return token.Mint(a.TokenKey, p)
}

func outcomeLabel(blocked bool) string {
	if blocked {
		return "blocked"
	}
	return "advanced"
}

// reconstructStoredContext folds every context_set event recorded for
// runID, in event order, through advance.MergeContext's tombstone
// semantics. No durable "current context" value exists outside this
// event stream, so every read starts from this replay.
func reconstructStoredContext(events []event.Event, runID id.RunId) (map[string]any, error) {
	var merged map[string]any
	for _, e := range events {
		if e.Kind != event.KindContextSet || e.Scope.RunId != runID {
			continue
		}
		data, ok := e.Data.(map[string]any)
		if !ok {
			continue
		}
		m, err := advance.MergeContext(merged, data)
		if err != nil {
			return nil, err
		}
		merged = m
	}
	return merged, nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func artifactsForEval(artifacts []advance.Artifact) []any {
	if len(artifacts) == 0 {
		return nil
	}
	out := make([]any, len(artifacts))
	for i, art := range artifacts {
		out[i] = art.Content
	}
	return out
}

func runIdForNode(events []event.Event, nodeID id.NodeId) (id.RunId, bool) {
	for _, e := range events {
		if e.Kind == event.KindNodeCreated && e.Scope.NodeId == nodeID {
			return e.Scope.RunId, true
		}
	}
	return "", false
}
