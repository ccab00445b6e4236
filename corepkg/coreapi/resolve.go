package coreapi

import (
	"fmt"

	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/projection"
	"github.com/durableflow/engine/corepkg/statemachine"
)

// attemptIdForNode derives nodeID's attempt deterministically by
// folding rootAttemptSeed down the DAG's parent chain from the root to
// nodeID, per id.DeriveAttemptId's "derived from parent attempt"
// contract. It is a pure function of the DAG shape — no attempt
// lineage is ever written to disk, it is recomputed on demand every
// time a token needs minting.
func attemptIdForNode(dag projection.DAG, nodeID id.NodeId) id.AttemptId {
	var chain []id.NodeId
	for cur := nodeID; ; {
		chain = append(chain, cur)
		n, ok := dag.Nodes[cur]
		if !ok || n.ParentNodeId == "" {
			break
		}
		cur = n.ParentNodeId
	}
	attempt := rootAttemptSeed
	for i := len(chain) - 1; i >= 0; i-- {
		attempt = id.DeriveAttemptId(attempt, chain[i])
	}
	return attempt
}

// attemptIdForAdvanceFrom returns the attempt a continueWorkflow call
// advancing from sourceNode must use: for a blocked node this is the
// attempt Block() already recorded in the pinned snapshot (the retry
// reuses it verbatim), for any other phase it is the deterministic
// derivation attemptIdForNode computes.
func attemptIdForAdvanceFrom(dag projection.DAG, sourceNode id.NodeId, state statemachine.State) id.AttemptId {
	if state.Phase == statemachine.PhaseBlocked && state.AttemptId != "" {
		return id.AttemptId(state.AttemptId)
	}
	return attemptIdForNode(dag, sourceNode)
}

// workflowHashForRun scans events for the run_started record of runID
// and returns the workflowHash it pinned. Always resolved from the
// recorded event, never trusted from caller input, so a run can never
// be advanced against a workflow version other than the one it
// actually started with.
func workflowHashForRun(events []event.Event, runID id.RunId) (id.WorkflowHash, bool) {
	for _, e := range events {
		if e.Kind != event.KindRunStarted || e.Scope.RunId != runID {
			continue
		}
		data, _ := e.Data.(map[string]any)
		hash, _ := data["workflowHash"].(string)
		if hash == "" {
			return "", false
		}
		return id.WorkflowHash(hash), true
	}
	return "", false
}

// nodeSnapshot resolves nodeID's pinned execution state from dag,
// returning coreapi.ErrNodeNotFound if the DAG has no such node.
func (a *API) nodeSnapshot(dag projection.DAG, nodeID id.NodeId) (statemachine.State, error) {
	n, ok := dag.Nodes[nodeID]
	if !ok {
		return statemachine.State{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	var state statemachine.State
	if err := a.Snapshots.Get(n.SnapshotRef, &state); err != nil {
		return statemachine.State{}, err
	}
	return state, nil
}
