package coreapi

import (
	"fmt"

	"github.com/durableflow/engine/corepkg/emit"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/sessionstore"
	"github.com/durableflow/engine/corepkg/statemachine"
	"github.com/durableflow/engine/corepkg/token"
)

// StartWorkflowRequest is startWorkflow's input, spec.md §6.2.
type StartWorkflowRequest struct {
	WorkflowId     string
	InitialContext map[string]any
}

// StartWorkflowResult is startWorkflow's output.
type StartWorkflowResult struct {
	SessionId       id.SessionId
	StateToken      string
	AckToken        string
	CheckpointToken string
	Pending         *statemachine.PendingStep
}

// StartWorkflow implements spec.md §6.2's startWorkflow: resolves
// workflowId, mints a fresh session/run/root-node identity, and
// appends session_created, run_started, node_created(root) as one
// atomic plan.
func (a *API) StartWorkflow(req StartWorkflowRequest) (StartWorkflowResult, error) {
	wf, err := a.Workflows.FetchById(req.WorkflowId)
	if err != nil {
		return StartWorkflowResult{}, fmt.Errorf("%w: %s: %v", ErrWorkflowNotFound, req.WorkflowId, err)
	}

	sessionID, err := id.NewSessionId()
	if err != nil {
		return StartWorkflowResult{}, err
	}
	runID, err := id.NewRunId()
	if err != nil {
		return StartWorkflowResult{}, err
	}
	rootNodeID, err := id.NewNodeId()
	if err != nil {
		return StartWorkflowResult{}, err
	}

	pending := &statemachine.PendingStep{StepId: wf.Source.EntryStepId()}
	rootState := statemachine.State{Phase: statemachine.PhaseRunning, PendingStep: pending}

	witness, err := a.Gate.Acquire(sessionID)
	if err != nil {
		return StartWorkflowResult{}, err
	}
	defer witness.Release()

	snapshotRef, err := a.Snapshots.Put(rootState)
	if err != nil {
		return StartWorkflowResult{}, err
	}

	var idx int64
	sessionEvt, idx, err := mintEvent(sessionID, idx, event.KindSessionCreated,
		dedupeKeySessionCreated(sessionID), event.Scope{}, map[string]any{})
	if err != nil {
		return StartWorkflowResult{}, err
	}

	runEvt, idx, err := mintEvent(sessionID, idx, event.KindRunStarted,
		dedupeKeyRunStarted(sessionID, runID), event.Scope{RunId: runID},
		map[string]any{"workflowHash": string(wf.Hash), "workflowId": wf.WorkflowId})
	if err != nil {
		return StartWorkflowResult{}, err
	}

	events := []event.Event{sessionEvt, runEvt}
	if req.InitialContext != nil {
		var ctxEvt event.Event
		ctxEvt, idx, err = mintEvent(sessionID, idx, event.KindContextSet,
			dedupeKeyInitialContextSet(sessionID), event.Scope{RunId: runID, NodeId: rootNodeID}, req.InitialContext)
		if err != nil {
			return StartWorkflowResult{}, err
		}
		events = append(events, ctxEvt)
	}

	nodeEvt, _, err := mintEvent(sessionID, idx, event.KindNodeCreated,
		dedupeKeyNodeCreated(sessionID, runID, rootNodeID), event.Scope{RunId: runID, NodeId: rootNodeID},
		map[string]any{"kind": "root", "snapshotRef": string(snapshotRef)})
	if err != nil {
		return StartWorkflowResult{}, err
	}
	events = append(events, nodeEvt)

	plan := sessionstore.Plan{
		Events: events,
		SnapshotPins: []sessionstore.SnapshotPin{{
			EventIndex:       nodeEvt.EventIndex,
			SnapshotRef:      snapshotRef,
			CreatedByEventId: nodeEvt.EventId,
		}},
	}
	if _, err := a.Sessions.Append(witness, sessionID, plan); err != nil {
		return StartWorkflowResult{}, err
	}

	attempt := id.DeriveAttemptId(rootAttemptSeed, rootNodeID)
	stateTok, ackTok, checkpointTok, err := a.mintTriple(sessionID, runID, rootNodeID, attempt, wf.Hash)
	if err != nil {
		return StartWorkflowResult{}, err
	}

	if a.Metrics != nil {
		a.Metrics.SetSessionsActive(1)
	}
	a.emit(emit.Event{SessionId: sessionID, RunId: runID, Kind: "start_workflow"})

	return StartWorkflowResult{
		SessionId: sessionID, StateToken: stateTok, AckToken: ackTok, CheckpointToken: checkpointTok,
		Pending: pending,
	}, nil
}

// mintTriple mints the state/ack/checkpoint token set bound to one
// coordinate, the shape every operation that hands control back to a
// caller returns.
func (a *API) mintTriple(sid id.SessionId, run id.RunId, node id.NodeId, attempt id.AttemptId, workflowHash id.WorkflowHash) (stateTok, ackTok, checkpointTok string, err error) {
	base := token.Payload{SessionId: sid, RunId: run, NodeId: node, AttemptId: attempt, WorkflowHashRef: string(workflowHash)}

	state := base
	state.TokenKind = token.KindState
	if stateTok, err = token.Mint(a.TokenKey, state); err != nil {
		return "", "", "", err
	}

	ack := base
	ack.TokenKind = token.KindAck
	if ackTok, err = token.Mint(a.TokenKey, ack); err != nil {
		return "", "", "", err
	}

	chk := base
	chk.TokenKind = token.KindCheckpoint
	if checkpointTok, err = token.Mint(a.TokenKey, chk); err != nil {
		return "", "", "", err
	}
	return stateTok, ackTok, checkpointTok, nil
}
