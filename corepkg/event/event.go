// Package event defines the domain event schema of spec.md §3.2: the
// single immutable record type appended to a session's log, and its
// closed kind set. This mirrors the shape of the teacher's
// graph/emit.Event (an observability event with RunID/Step/NodeID/Msg/
// Meta) but is repurposed here as the durable, content-addressed unit
// of record the rest of the engine replays from — not an
// observability side-channel.
package event

import (
	"github.com/durableflow/engine/corepkg/id"
)

// Kind is the closed set of domain event kinds a session log may
// contain, per spec.md §3.2. Callers must exhaustively switch over it;
// there is no "other" kind.
type Kind string

const (
	KindSessionCreated        Kind = "session_created"
	KindRunStarted            Kind = "run_started"
	KindNodeCreated           Kind = "node_created"
	KindEdgeCreated           Kind = "edge_created"
	KindAdvanceRecorded       Kind = "advance_recorded"
	KindNodeOutputAppended    Kind = "node_output_appended"
	KindContextSet            Kind = "context_set"
	KindValidationPerformed   Kind = "validation_performed"
	KindGapRecorded           Kind = "gap_recorded"
	KindDecisionTraceAppended Kind = "decision_trace_appended"
	KindObservationRecorded   Kind = "observation_recorded"
)

// Kinds lists every member of the closed set, for validation and
// exhaustiveness checks.
var Kinds = []Kind{
	KindSessionCreated,
	KindRunStarted,
	KindNodeCreated,
	KindEdgeCreated,
	KindAdvanceRecorded,
	KindNodeOutputAppended,
	KindContextSet,
	KindValidationPerformed,
	KindGapRecorded,
	KindDecisionTraceAppended,
	KindObservationRecorded,
}

// IsValid reports whether k is a member of the closed kind set.
func (k Kind) IsValid() bool {
	for _, candidate := range Kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// SchemaVersion is the current domain event schema version (spec.md
// §3.2's `v: 1`). A session store encountering any other value for an
// event's v field must treat the segment as corrupt
// (unknown_schema_version).
const SchemaVersion = 1

// Scope narrows an event to the run and/or node it pertains to, a
// subset of {runId, nodeId} depending on kind (spec.md §3.2). Both
// fields are optional; session-level events (session_created) leave
// both empty.
type Scope struct {
	RunId  id.RunId  `json:"runId,omitempty"`
	NodeId id.NodeId `json:"nodeId,omitempty"`
}

// Event is the single immutable record type appended to a session's
// event log. Every durable fact the engine records is one of these;
// nothing else is ever written to the log.
type Event struct {
	V          int          `json:"v"`
	EventId    id.EventId   `json:"eventId"`
	EventIndex int64        `json:"eventIndex"`
	SessionId  id.SessionId `json:"sessionId"`
	Kind       Kind         `json:"kind"`
	DedupeKey  string       `json:"dedupeKey"`
	Scope      Scope        `json:"scope"`
	Data       any          `json:"data"`
}

// New constructs an Event with the current schema version. EventIndex
// and EventId are left at their zero values; the caller building a
// session-store append plan assigns both (via id.NewEventId and the
// plan's expected next index) before handing the plan to Append,
// which validates but does not mint them.
func New(sessionID id.SessionId, kind Kind, dedupeKey string, scope Scope, data any) Event {
	return Event{
		V:         SchemaVersion,
		SessionId: sessionID,
		Kind:      kind,
		DedupeKey: dedupeKey,
		Scope:     scope,
		Data:      data,
	}
}
