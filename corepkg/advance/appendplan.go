package advance

import (
	"fmt"
	"sort"

	"github.com/durableflow/engine/corepkg/id"
)

// CauseKind is the closed edge-cause discriminant (spec.md §3.3).
type CauseKind string

const (
	CauseIntentionalFork   CauseKind = "intentional_fork"
	CauseNonTipAdvance     CauseKind = "non_tip_advance"
	CauseIdempotentReplay  CauseKind = "idempotent_replay"
	CauseCheckpointCreated CauseKind = "checkpoint_created"
)

// EdgeKind is the closed edge-kind discriminant.
type EdgeKind string

const (
	EdgeAckedStep  EdgeKind = "acked_step"
	EdgeCheckpoint EdgeKind = "checkpoint"
)

// DeriveCauseKind implements spec.md §4.7's rule: non_tip_advance if
// the source node already has any outgoing edge, else
// intentional_fork.
func DeriveCauseKind(sourceHasOutgoingEdge bool) CauseKind {
	if sourceHasOutgoingEdge {
		return CauseNonTipAdvance
	}
	return CauseIntentionalFork
}

// Dedupe-key recipes, bit-exact per spec.md §4.7.

func DedupeKeyAdvanceRecorded(sid id.SessionId, fromNode id.NodeId, attempt id.AttemptId) string {
	return fmt.Sprintf("advance_recorded:%s:%s:%s", sid, fromNode, attempt)
}

func DedupeKeyNodeCreated(sid id.SessionId, run id.RunId, toNode id.NodeId) string {
	return fmt.Sprintf("node_created:%s:%s:%s", sid, run, toNode)
}

func DedupeKeyEdgeCreated(sid id.SessionId, run id.RunId, from, to id.NodeId) string {
	return fmt.Sprintf("edge_created:%s:%s:%s->%s:acked_step", sid, run, from, to)
}

func DedupeKeyNodeOutputAppended(sid id.SessionId, outputID string) string {
	return fmt.Sprintf("node_output_appended:%s:%s", sid, outputID)
}

func DedupeKeyGapRecorded(sid id.SessionId, gapID string) string {
	return fmt.Sprintf("gap_recorded:%s:%s", sid, gapID)
}

func DedupeKeyDecisionTraceAppended(sid id.SessionId, traceID string) string {
	return fmt.Sprintf("decision_trace_appended:%s:%s", sid, traceID)
}

// Outcome is the result of one advance attempt; Kind is always
// "advanced" in this pipeline (the engine never represents a failed
// advance as an event — failures never reach the append plan stage).
type Outcome struct {
	Kind        string
	ToNodeId    id.NodeId
	SnapshotRef id.SnapshotRef
	CauseKind   CauseKind
}

// MintedIds are the fresh identifiers an append plan assigns to the
// events it mints, generated once before any I/O so the plan stays a
// pure value (spec.md §5's "no suspension between
// buildAckAdvanceAppendPlan and sessionStore.append").
type MintedIds struct {
	NodeCreatedEventId id.EventId
	EdgeCreatedEventId id.EventId
	OutputEventIds     []id.EventId
}

// Output is a normalized node_output_appended payload, already
// computed (recap or artifact).
type Output struct {
	OutputId    string `json:"outputId"`
	Channel     string `json:"channel"` // "recap" | "artifact"
	ContentType string `json:"contentType"`
	Sha256      string `json:"sha256"`
	ByteLength  int    `json:"byteLength"`
	Content     any    `json:"content"`
}

// NormalizeOutputsForDeterminism sorts artifact outputs by
// (sha256, contentType) per spec.md §4.7, leaving a leading recap
// output (if present) in place since it always comes first by
// construction order, not by this sort.
func NormalizeOutputsForDeterminism(outputs []Output) []Output {
	sort.SliceStable(outputs, func(i, j int) bool {
		a, b := outputs[i], outputs[j]
		if a.Channel != b.Channel {
			// recap, if present, always sorts before artifacts.
			return a.Channel == "recap"
		}
		if a.Channel != "artifact" {
			return false
		}
		if a.Sha256 != b.Sha256 {
			return a.Sha256 < b.Sha256
		}
		return a.ContentType < b.ContentType
	})
	return outputs
}

// Validate checks the invariants spec.md §4.7 requires of an
// outcome.kind == advanced append plan before any I/O happens.
func (o Outcome) Validate(minted MintedIds, outputCount int) error {
	if o.Kind != "advanced" {
		return fmt.Errorf("advance: outcome.kind must be %q, got %q", "advanced", o.Kind)
	}
	if o.ToNodeId == "" || o.SnapshotRef == "" || o.CauseKind == "" {
		return fmt.Errorf("advance: outcome missing toNodeId/snapshotRef/causeKind")
	}
	if minted.NodeCreatedEventId == "" || minted.EdgeCreatedEventId == "" {
		return fmt.Errorf("advance: minted node/edge event ids missing")
	}
	if len(minted.OutputEventIds) != outputCount {
		return fmt.Errorf("advance: |outputEventIds|=%d != |normalizedOutputs|=%d", len(minted.OutputEventIds), outputCount)
	}
	return nil
}
