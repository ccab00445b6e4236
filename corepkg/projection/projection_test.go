package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
)

func nodeCreated(nodeID id.NodeId, idx int64, kind, snapshotRef string) event.Event {
	return event.Event{
		Kind: event.KindNodeCreated, EventIndex: idx,
		Scope: event.Scope{NodeId: nodeID},
		Data:  map[string]any{"kind": kind, "snapshotRef": snapshotRef},
	}
}

func edgeCreated(from, to id.NodeId, idx int64) event.Event {
	return event.Event{
		Kind: event.KindEdgeCreated, EventIndex: idx,
		Data: map[string]any{"from": string(from), "to": string(to), "kind": "acked_step", "causeKind": "intentional_fork"},
	}
}

func TestBuildDAG_PreferredTipMostRecentActivity(t *testing.T) {
	events := []event.Event{
		nodeCreated("node_a", 0, "root", "sha256:aaa"),
		nodeCreated("node_b", 1, "default", "sha256:bbb"),
		edgeCreated("node_a", "node_b", 2),
		nodeCreated("node_c", 3, "default", "sha256:ccc"),
		edgeCreated("node_a", "node_c", 4),
	}
	dag := BuildDAG(events)
	require.Len(t, dag.Nodes, 3)
	assert.True(t, dag.HasOutgoingEdge("node_a"))
	assert.False(t, dag.HasOutgoingEdge("node_b"))

	tip, ok := dag.PreferredTip()
	require.True(t, ok)
	assert.Equal(t, id.NodeId("node_c"), tip)
}

func TestBuildDAG_PreferredTipTiesBreakLexically(t *testing.T) {
	events := []event.Event{
		nodeCreated("node_a", 0, "root", "sha256:aaa"),
		nodeCreated("node_z", 1, "default", "sha256:zzz"),
		nodeCreated("node_m", 1, "default", "sha256:mmm"),
	}
	dag := BuildDAG(events)
	tip, ok := dag.PreferredTip()
	require.True(t, ok)
	assert.Equal(t, id.NodeId("node_m"), tip)
}

func TestBuildDAG_EmptyHasNoTip(t *testing.T) {
	dag := BuildDAG(nil)
	_, ok := dag.PreferredTip()
	assert.False(t, ok)
}

func TestBuildOutputs_DecodesTypedFields(t *testing.T) {
	events := []event.Event{
		{
			Kind: event.KindNodeOutputAppended, EventIndex: 0,
			Scope: event.Scope{NodeId: "node_a"},
			Data: map[string]any{
				"outputId": "out_recap_attempt_1", "channel": "recap",
				"contentType": "application/json", "sha256": "sha256:abc", "byteLength": float64(42),
				"content": map[string]any{"markdown": "hi"},
			},
		},
	}
	outputs, err := BuildOutputs(events)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "out_recap_attempt_1", outputs[0].OutputId)
	assert.Equal(t, "recap", outputs[0].Channel)
	assert.Equal(t, 42, outputs[0].ByteLength)
	assert.Equal(t, id.NodeId("node_a"), outputs[0].NodeId)
}

func TestBuildGaps_DecodesReasonAndSeverity(t *testing.T) {
	events := []event.Event{
		{
			Kind: event.KindGapRecorded, EventIndex: 0,
			Scope: event.Scope{NodeId: "node_a"},
			Data: map[string]any{
				"reason":   map[string]any{"kind": "missing_context_key", "key": "foo"},
				"severity": "info",
			},
		},
	}
	gaps, err := BuildGaps(events)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "missing_context_key", string(gaps[0].Gap.Reason.Kind))
	assert.Equal(t, "info", string(gaps[0].Gap.Severity))
}

func TestBuildStatus_ReportsTipSnapshotRef(t *testing.T) {
	events := []event.Event{
		nodeCreated("node_a", 0, "root", "sha256:"+sampleHex()),
	}
	dag := BuildDAG(events)
	status := BuildStatus(dag)
	assert.True(t, status.HasTip)
	assert.Equal(t, id.NodeId("node_a"), status.PreferredTipNodeId)
}

func sampleHex() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
