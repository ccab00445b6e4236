// Package emit provides pluggable observability for the engine's
// advance core: a small Emitter port that every internal package
// reports through instead of writing to stdout directly. Grounded on
// the teacher's graph/emit package — same Emitter shape, Event fields
// relabeled from node-execution (runID/step/nodeID) to this engine's
// session/node/advance-lifecycle vocabulary.
package emit

import "github.com/durableflow/engine/corepkg/id"

// Event is one observability event. coreapi emits one per Core API
// call, with Kind "start_workflow", "continue_workflow" or
// "checkpoint_workflow". Kind is a free-form
// label (not the closed event.Kind schema — this is a side-channel for
// humans and tracers, never a durable fact).
type Event struct {
	SessionId id.SessionId
	RunId     id.RunId
	NodeId    id.NodeId
	Kind      string
	Msg       string
	Meta      map[string]any
}

// Advance-lifecycle event kinds a LogEmitter/OtelEmitter/BufferedEmitter
// consumer can switch on. No package in this module emits these kinds.
const (
	KindAdvanceStarted                 = "advance_started"
	KindAdvanceBlocked                 = "advance_blocked"
	KindAdvanceSucceeded               = "advance_succeeded"
	KindSessionStoreIOError            = "session_store_io_error"
	KindSessionStoreCorruptionDetected = "session_store_corruption_detected"
	KindBundleExported                 = "bundle_exported"
	KindBundleImportRejected           = "bundle_import_rejected"
)
