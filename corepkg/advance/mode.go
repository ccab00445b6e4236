// Package advance implements the advance core of spec.md §4.7: the
// single unified entrypoint that mutates the durable session log.
// Behavior is driven entirely by the AdvanceMode discriminant — there
// are no boolean flags sprinkled through the pipeline. Grounded on the
// teacher's graph/engine.go Run loop (a context-driven step executor
// that calls Next/Route to decide what happens next) and
// graph/checkpoint.go's idempotency-key computation, reused here for
// dedupe-key recipes.
package advance

import (
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/statemachine"
)

// ModeKind discriminates Fresh vs Retry advance modes.
type ModeKind string

const (
	ModeFresh ModeKind = "fresh"
	ModeRetry ModeKind = "retry"
)

// Mode is the closed union AdvanceMode = Fresh{sourceNodeId, snapshot}
// | Retry{blockedNodeId, blockedSnapshot}.
type Mode struct {
	Kind ModeKind

	// Fresh fields.
	SourceNodeId id.NodeId

	// Retry fields.
	BlockedNodeId id.NodeId

	// Common: the snapshot the mode advances from (the source node's
	// snapshot for Fresh, the blocked node's snapshot for Retry).
	Snapshot statemachine.State
}

// NodeIdOf returns the node the mode advances from.
func NodeIdOf(m Mode) id.NodeId {
	if m.Kind == ModeRetry {
		return m.BlockedNodeId
	}
	return m.SourceNodeId
}

// SnapshotOf returns the execution state the mode advances from.
func SnapshotOf(m Mode) statemachine.State {
	return m.Snapshot
}

// EmitValidationOnSuccess reports whether the success path should
// append a validation_performed event even when nothing blocked:
// false for Fresh (a successful Fresh advance appends no
// validation_performed event, even when the validation engine ran;
// only the blocked path records it), true for Retry (a retry always
// re-asserts the validation outcome that let it through).
func EmitValidationOnSuccess(m Mode) bool {
	return m.Kind == ModeRetry
}

// NodeKind is the closed set of node kinds a node_created event may
// carry.
type NodeKind string

const (
	NodeKindRoot           NodeKind = "root"
	NodeKindDefault        NodeKind = "default"
	NodeKindStep           NodeKind = "step"
	NodeKindBlockedAttempt NodeKind = "blocked_attempt"
	NodeKindCheckpoint     NodeKind = "checkpoint"
)

// SuccessNodeKind returns the node kind minted on the success path:
// "step" for a Retry (the node was already blocked, so the successful
// retry is just another step), "default" for Fresh.
func SuccessNodeKind(m Mode) NodeKind {
	if m.Kind == ModeRetry {
		return NodeKindStep
	}
	return NodeKindDefault
}
