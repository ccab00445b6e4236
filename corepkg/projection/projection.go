// Package projection implements the pure, replayable projections of
// spec.md §2/§3.3: DAG, gaps, outputs, and preferred-tip derivations
// over a session's event log prefix. Every function here is a pure
// fold over []event.Event — no I/O, no clock, no hidden state — so a
// caller can rebuild any projection by replaying the same prefix
// twice and get byte-identical results. Grounded on the teacher's
// graph/replay.go style of deterministic, hash-checked derivation
// from recorded data rather than live re-execution.
package projection

import (
	"sort"

	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/reason"
)

// Node is one DAG node, materialized from a node_created event.
type Node struct {
	NodeId       id.NodeId
	ParentNodeId id.NodeId
	Kind         string
	SnapshotRef  id.SnapshotRef
	EventIndex   int64
}

// Edge is one DAG edge, materialized from an edge_created event.
type Edge struct {
	From       id.NodeId
	To         id.NodeId
	Kind       string
	CauseKind  string
	EventIndex int64
}

// DAG is the materialized node_created/edge_created graph for one run.
// It is built once per projection request; callers needing the latest
// view re-run BuildDAG over the freshest event log prefix rather than
// incrementally updating a cached DAG, keeping the whole projection
// layer pure.
type DAG struct {
	Nodes    map[id.NodeId]Node
	Edges    []Edge
	outgoing map[id.NodeId][]Edge
}

// BuildDAG folds a session's events into a DAG. Events of any other
// kind are ignored; out-of-order or unknown node/edge references are
// tolerated (a corrupt or partial prefix still yields the DAG it can
// support), since validating event-log integrity is sessionstore's
// job, not this package's.
func BuildDAG(events []event.Event) DAG {
	dag := DAG{Nodes: make(map[id.NodeId]Node), outgoing: make(map[id.NodeId][]Edge)}
	for _, e := range events {
		switch e.Kind {
		case event.KindNodeCreated:
			data, _ := e.Data.(map[string]any)
			n := Node{NodeId: e.Scope.NodeId, EventIndex: e.EventIndex}
			if k, ok := data["kind"].(string); ok {
				n.Kind = k
			}
			if ref, ok := data["snapshotRef"].(string); ok {
				n.SnapshotRef = id.SnapshotRef(ref)
			}
			dag.Nodes[n.NodeId] = n
		case event.KindEdgeCreated:
			data, _ := e.Data.(map[string]any)
			from, _ := data["from"].(string)
			to, _ := data["to"].(string)
			kind, _ := data["kind"].(string)
			causeKind, _ := data["causeKind"].(string)
			edge := Edge{From: id.NodeId(from), To: id.NodeId(to), Kind: kind, CauseKind: causeKind, EventIndex: e.EventIndex}
			dag.Edges = append(dag.Edges, edge)
			dag.outgoing[edge.From] = append(dag.outgoing[edge.From], edge)
			if n, ok := dag.Nodes[edge.To]; ok {
				n.ParentNodeId = edge.From
				dag.Nodes[edge.To] = n
			}
		}
	}
	return dag
}

// HasOutgoingEdge reports whether n already has at least one outgoing
// edge, the input advance.DeriveCauseKind needs to choose
// intentional_fork vs non_tip_advance.
func (d DAG) HasOutgoingEdge(n id.NodeId) bool {
	return len(d.outgoing[n]) > 0
}

// PreferredTip returns the deterministically chosen leaf of the DAG:
// most recent activity (highest eventIndex) first, then lexical
// nodeId — never wall-clock time, per spec.md §3.3. Returns false if
// the DAG has no nodes.
func (d DAG) PreferredTip() (id.NodeId, bool) {
	var leaves []Node
	for nodeID, n := range d.Nodes {
		if len(d.outgoing[nodeID]) == 0 {
			leaves = append(leaves, n)
		}
	}
	if len(leaves) == 0 {
		return "", false
	}
	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].EventIndex != leaves[j].EventIndex {
			return leaves[i].EventIndex > leaves[j].EventIndex
		}
		return leaves[i].NodeId < leaves[j].NodeId
	})
	return leaves[0].NodeId, true
}

// GapRecord is one materialized gap_recorded event.
type GapRecord struct {
	Gap        reason.Gap
	NodeId     id.NodeId
	EventIndex int64
}

// BuildGaps folds every gap_recorded event into its typed Gap form, in
// event-index order.
func BuildGaps(events []event.Event) ([]GapRecord, error) {
	var gaps []GapRecord
	for _, e := range events {
		if e.Kind != event.KindGapRecorded {
			continue
		}
		var g reason.Gap
		if err := decodeEventData(e.Data, &g); err != nil {
			return nil, err
		}
		gaps = append(gaps, GapRecord{Gap: g, NodeId: e.Scope.NodeId, EventIndex: e.EventIndex})
	}
	return gaps, nil
}

// OutputRecord is one materialized node_output_appended event.
type OutputRecord struct {
	NodeId      id.NodeId
	OutputId    string `json:"outputId"`
	Channel     string `json:"channel"`
	ContentType string `json:"contentType"`
	Sha256      string `json:"sha256"`
	ByteLength  int    `json:"byteLength"`
	EventIndex  int64
}

// BuildOutputs folds every node_output_appended event into its typed
// form, in event-index order.
func BuildOutputs(events []event.Event) ([]OutputRecord, error) {
	var outputs []OutputRecord
	for _, e := range events {
		if e.Kind != event.KindNodeOutputAppended {
			continue
		}
		var o OutputRecord
		if err := decodeEventData(e.Data, &o); err != nil {
			return nil, err
		}
		o.NodeId = e.Scope.NodeId
		o.EventIndex = e.EventIndex
		outputs = append(outputs, o)
	}
	return outputs, nil
}

// StatusSignal is the pure, event-log-only status summary: the
// preferred tip, if any. The execution Phase itself (running/blocked/
// complete) lives in that node's pinned execution_snapshot, which the
// caller resolves via snapshotstore using TipSnapshotRef — combining
// that lookup here would make this package depend on snapshotstore
// and stop being a pure fold over events alone.
type StatusSignal struct {
	HasTip             bool
	PreferredTipNodeId id.NodeId
	TipSnapshotRef     id.SnapshotRef
}

// BuildStatus derives the event-log-only status signal for dag.
func BuildStatus(dag DAG) StatusSignal {
	tip, ok := dag.PreferredTip()
	if !ok {
		return StatusSignal{}
	}
	return StatusSignal{HasTip: true, PreferredTipNodeId: tip, TipSnapshotRef: dag.Nodes[tip].SnapshotRef}
}

// decodeEventData re-marshals a generically-decoded event payload
// (map[string]any, as produced by a session-log replay) into v's
// concrete type via the canonical codec, since event.Event.Data is
// typed any and loses its static shape once round-tripped through
// disk.
func decodeEventData(data any, v any) error {
	b, err := canonjson.Marshal(data)
	if err != nil {
		return err
	}
	return canonjson.UnmarshalInto(b, v)
}
