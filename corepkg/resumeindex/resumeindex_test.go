package resumeindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
)

func eventsWithOpenTip(sessionID id.SessionId) []event.Event {
	return []event.Event{
		{V: 1, EventIndex: 0, SessionId: sessionID, Kind: event.KindSessionCreated, DedupeKey: "session_created:" + string(sessionID), Data: map[string]any{}},
		{V: 1, EventIndex: 1, SessionId: sessionID, Kind: event.KindRunStarted, DedupeKey: "run_started:" + string(sessionID) + ":run_a",
			Scope: event.Scope{RunId: "run_a"}, Data: map[string]any{"workflowHash": "wf_abc"}},
		{V: 1, EventIndex: 2, SessionId: sessionID, Kind: event.KindNodeCreated, DedupeKey: "node_created:root",
			Scope: event.Scope{RunId: "run_a", NodeId: "node_root"}, Data: map[string]any{"kind": "root", "snapshotRef": "sha256:" + sha256Zeros()}},
	}
}

func sha256Zeros() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}

func openIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestRebuild_MarksSessionWithOpenTipAsPending(t *testing.T) {
	idx := openIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "sess_a", eventsWithOpenTip("sess_a"), 1000))

	pending, err := idx.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id.SessionId("sess_a"), pending[0].SessionId)
	assert.Equal(t, "node_root", pending[0].PendingStepId)
	assert.Equal(t, int64(2), pending[0].LastEventIndex)
}

func TestRebuild_SessionWithNoNodesIsNotPending(t *testing.T) {
	idx := openIndex(t)
	ctx := context.Background()

	events := []event.Event{
		{V: 1, EventIndex: 0, SessionId: "sess_b", Kind: event.KindSessionCreated, DedupeKey: "session_created:sess_b", Data: map[string]any{}},
	}
	require.NoError(t, idx.Rebuild(ctx, "sess_b", events, 1000))

	pending, err := idx.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRebuild_IsIdempotentAndOverwritesPriorRow(t *testing.T) {
	idx := openIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "sess_a", eventsWithOpenTip("sess_a"), 1000))
	require.NoError(t, idx.Rebuild(ctx, "sess_a", eventsWithOpenTip("sess_a"), 2000))

	pending, err := idx.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestListPending_OrdersByLastEventIndexDescending(t *testing.T) {
	idx := openIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "sess_early", eventsWithOpenTip("sess_early"), 1000))
	laterEvents := append(eventsWithOpenTip("sess_later"), event.Event{
		V: 1, EventIndex: 3, SessionId: "sess_later", Kind: event.KindEdgeCreated, DedupeKey: "edge:extra",
		Scope: event.Scope{RunId: "run_a"}, Data: map[string]any{"from": "node_root", "to": "node_child", "kind": "sequential", "causeKind": "normal"},
	}, event.Event{
		V: 1, EventIndex: 4, SessionId: "sess_later", Kind: event.KindNodeCreated, DedupeKey: "node:child",
		Scope: event.Scope{RunId: "run_a", NodeId: "node_child"}, Data: map[string]any{"kind": "step", "snapshotRef": "sha256:" + sha256Zeros()},
	})
	require.NoError(t, idx.Rebuild(ctx, "sess_later", laterEvents, 1001))

	pending, err := idx.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, id.SessionId("sess_later"), pending[0].SessionId)
	assert.Equal(t, id.SessionId("sess_early"), pending[1].SessionId)
}

func TestForget_RemovesSessionFromIndex(t *testing.T) {
	idx := openIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "sess_a", eventsWithOpenTip("sess_a"), 1000))
	require.NoError(t, idx.Forget(ctx, "sess_a"))

	pending, err := idx.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOpen_CreatesSchemaOnFreshDatabase(t *testing.T) {
	idx := openIndex(t)
	ctx := context.Background()
	pending, err := idx.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
