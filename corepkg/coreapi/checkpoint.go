package coreapi

import (
	"crypto/sha256"
	"fmt"

	"github.com/durableflow/engine/corepkg/advance"
	"github.com/durableflow/engine/corepkg/emit"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/projection"
	"github.com/durableflow/engine/corepkg/sessionstore"
	"github.com/durableflow/engine/corepkg/token"
)

// CheckpointWorkflowRequest is checkpointWorkflow's input, spec.md
// §6.2. CheckpointToken authorizes the checkpoint the same way an
// ackToken authorizes an advance; it never mutates execution state,
// only marks a point in the DAG as worth returning to directly.
type CheckpointWorkflowRequest struct {
	CheckpointToken string
}

// CheckpointWorkflowResult is checkpointWorkflow's output.
type CheckpointWorkflowResult struct {
	StateToken string
}

// CheckpointWorkflow implements spec.md §6.2's checkpointWorkflow: an
// idempotent node_created(checkpoint)+edge_created(checkpoint) pair
// appended under the node the checkpoint token names, reusing that
// node's existing snapshotRef unchanged — a checkpoint records a place
// in the log, it never advances execution. A repeated call for the same
// node appends nothing and returns a state token for the same
// checkpoint node.
func (a *API) CheckpointWorkflow(req CheckpointWorkflowRequest) (CheckpointWorkflowResult, error) {
	p, err := token.Verify(a.TokenKey, token.KindCheckpoint, req.CheckpointToken)
	if err != nil {
		return CheckpointWorkflowResult{}, err
	}

	witness, err := a.Gate.Acquire(p.SessionId)
	if err != nil {
		return CheckpointWorkflowResult{}, err
	}
	defer witness.Release()

	loaded, err := a.Sessions.LoadStrict(p.SessionId)
	if err != nil {
		return CheckpointWorkflowResult{}, err
	}
	if len(loaded.Events) == 0 {
		return CheckpointWorkflowResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, p.SessionId)
	}

	dag := projection.BuildDAG(loaded.Events)
	tip, ok := dag.Nodes[p.NodeId]
	if !ok {
		return CheckpointWorkflowResult{}, fmt.Errorf("%w: %s", ErrNodeNotFound, p.NodeId)
	}

	// Derived from the checkpointed coordinate, so a repeated call plans
	// the same dedupe keys and Append treats it as an idempotent replay.
	sum := sha256.Sum256([]byte(string(p.SessionId) + "|" + string(p.RunId) + "|" + string(p.NodeId) + "|checkpoint"))
	checkpointNodeID := id.NodeId("node_" + id.EncodeBase32Lower(sum[:16]))

	nextIdx := loaded.ExpectedFirstEventIndex()
	nodeEvt, nextIdx, err := mintEvent(p.SessionId, nextIdx, event.KindNodeCreated,
		dedupeKeyNodeCreated(p.SessionId, p.RunId, checkpointNodeID),
		event.Scope{RunId: p.RunId, NodeId: checkpointNodeID},
		map[string]any{"kind": string(advance.NodeKindCheckpoint), "snapshotRef": string(tip.SnapshotRef)})
	if err != nil {
		return CheckpointWorkflowResult{}, err
	}

	edgeEvt, _, err := mintEvent(p.SessionId, nextIdx, event.KindEdgeCreated,
		dedupeKeyEdgeCreated(p.SessionId, p.RunId, p.NodeId, checkpointNodeID, "checkpoint"),
		event.Scope{RunId: p.RunId, NodeId: checkpointNodeID},
		map[string]any{"from": string(p.NodeId), "to": string(checkpointNodeID), "kind": "checkpoint", "causeKind": string(advance.CauseCheckpointCreated)})
	if err != nil {
		return CheckpointWorkflowResult{}, err
	}

	plan := sessionstore.Plan{
		Events: []event.Event{nodeEvt, edgeEvt},
		SnapshotPins: []sessionstore.SnapshotPin{{
			EventIndex: nodeEvt.EventIndex, SnapshotRef: tip.SnapshotRef, CreatedByEventId: nodeEvt.EventId,
		}},
	}
	if _, err := a.Sessions.Append(witness, p.SessionId, plan); err != nil {
		return CheckpointWorkflowResult{}, err
	}

	a.emit(emit.Event{SessionId: p.SessionId, RunId: p.RunId, NodeId: checkpointNodeID, Kind: "checkpoint_workflow"})

	workflowHash, _ := workflowHashForRun(loaded.Events, p.RunId)
	stateTok, err := a.mintStateToken(p.SessionId, p.RunId, checkpointNodeID, attemptIdForNode(dag, p.NodeId), workflowHash)
	if err != nil {
		return CheckpointWorkflowResult{}, err
	}
	return CheckpointWorkflowResult{StateToken: stateTok}, nil
}
