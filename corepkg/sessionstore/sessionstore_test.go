package sessionstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/gate"
	"github.com/durableflow/engine/corepkg/id"
)

func testSetup(t *testing.T) (*Store, *gate.Gate, id.SessionId) {
	t.Helper()
	dir := t.TempDir()
	return New(dir), gate.New(dir), id.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
}

func sessionCreatedEvent(sid id.SessionId, idx int64) event.Event {
	return event.Event{
		V:          event.SchemaVersion,
		EventId:    id.EventId("evt_root"),
		EventIndex: idx,
		SessionId:  sid,
		Kind:       event.KindSessionCreated,
		DedupeKey:  "session_created:" + string(sid),
		Data:       map[string]any{"workflowId": "wf1"},
	}
}

func TestAppend_FirstPlanSucceeds(t *testing.T) {
	store, g, sid := testSetup(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()

	plan := Plan{Events: []event.Event{sessionCreatedEvent(sid, 0)}}
	result, err := store.Append(w, sid, plan)
	require.NoError(t, err)
	assert.False(t, result.IdempotentReplay)
	assert.Equal(t, 1, result.AppendedCount)

	loaded, err := store.LoadStrict(sid)
	require.NoError(t, err)
	require.Len(t, loaded.Events, 1)
	assert.Equal(t, event.KindSessionCreated, loaded.Events[0].Kind)
	require.Len(t, loaded.Manifest, 1)
	assert.Equal(t, ManifestSegmentClosed, loaded.Manifest[0].Kind)
}

func TestAppend_IdempotentReplay(t *testing.T) {
	store, g, sid := testSetup(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()

	plan := Plan{Events: []event.Event{sessionCreatedEvent(sid, 0)}}
	_, err = store.Append(w, sid, plan)
	require.NoError(t, err)

	result, err := store.Append(w, sid, plan)
	require.NoError(t, err)
	assert.True(t, result.IdempotentReplay)

	loaded, err := store.LoadStrict(sid)
	require.NoError(t, err)
	assert.Len(t, loaded.Events, 1)
}

func TestAppend_PartialDedupeCollisionFails(t *testing.T) {
	store, g, sid := testSetup(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()

	first := Plan{Events: []event.Event{sessionCreatedEvent(sid, 0)}}
	_, err = store.Append(w, sid, first)
	require.NoError(t, err)

	mixed := Plan{Events: []event.Event{
		sessionCreatedEvent(sid, 0), // already present dedupeKey
		{
			V: event.SchemaVersion, EventId: id.EventId("evt_run"), EventIndex: 1, SessionId: sid,
			Kind: event.KindRunStarted, DedupeKey: "run_started:" + string(sid) + ":run1",
		},
	}}
	_, err = store.Append(w, sid, mixed)
	var invErr *apperr.InvariantError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, apperr.InvariantPartialDedupeCollision, invErr.Kind)
}

func TestAppend_UsingReleasedWitnessFails(t *testing.T) {
	store, g, sid := testSetup(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	require.NoError(t, w.Release())

	plan := Plan{Events: []event.Event{sessionCreatedEvent(sid, 0)}}
	_, err = store.Append(w, sid, plan)
	assert.ErrorIs(t, err, apperr.ErrSessionStoreInvariantViolation)
}

func TestAppend_WrongEventIndexRejected(t *testing.T) {
	store, g, sid := testSetup(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()

	plan := Plan{Events: []event.Event{sessionCreatedEvent(sid, 5)}}
	_, err = store.Append(w, sid, plan)
	var invErr *apperr.InvariantError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, apperr.InvariantMalformedAdvanceRequest, invErr.Kind)
}

func TestLoadStrict_EmptySessionReturnsEmpty(t *testing.T) {
	store, _, sid := testSetup(t)
	loaded, err := store.LoadStrict(sid)
	require.NoError(t, err)
	assert.Empty(t, loaded.Events)
	assert.Empty(t, loaded.Manifest)
}

func TestLoadStrict_DetectsDigestMismatch(t *testing.T) {
	store, g, sid := testSetup(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	plan := Plan{Events: []event.Event{sessionCreatedEvent(sid, 0)}}
	_, err = store.Append(w, sid, plan)
	require.NoError(t, err)
	require.NoError(t, w.Release())

	segPath := filepath.Join(store.sessionDir(sid), "events", "00000000-00000000.jsonl")
	require.NoError(t, os.WriteFile(segPath, []byte(`{"v":1,"eventId":"evt_root","eventIndex":0,"sessionId":"sess_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","kind":"session_created","dedupeKey":"tampered","scope":{},"data":{}}`+"\n"), 0o644))

	_, err = store.LoadStrict(sid)
	var corruptErr *apperr.CorruptionError
	require.ErrorAs(t, err, &corruptErr)
	assert.Equal(t, apperr.ReasonDigestMismatch, corruptErr.Reason)
}

func TestLoadValidatedPrefix_SalvagesTailCorruption(t *testing.T) {
	store, g, sid := testSetup(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)

	_, err = store.Append(w, sid, Plan{Events: []event.Event{sessionCreatedEvent(sid, 0)}})
	require.NoError(t, err)

	second := event.Event{
		V: event.SchemaVersion, EventId: id.EventId("evt_run"), EventIndex: 1, SessionId: sid,
		Kind: event.KindRunStarted, DedupeKey: "run_started:x",
	}
	_, err = store.Append(w, sid, Plan{Events: []event.Event{second}})
	require.NoError(t, err)
	require.NoError(t, w.Release())

	segPath := filepath.Join(store.sessionDir(sid), "events", "00000001-00000001.jsonl")
	require.NoError(t, os.WriteFile(segPath, []byte("not valid json\n"), 0o644))

	result, err := store.LoadValidatedPrefix(sid)
	require.NoError(t, err)
	assert.False(t, result.IsComplete)
	assert.Len(t, result.Loaded.Events, 1)
	assert.Equal(t, apperr.ReasonDigestMismatch, result.TailReason)
}

func TestAppend_SnapshotPinAttestedInManifest(t *testing.T) {
	store, g, sid := testSetup(t)
	w, err := g.Acquire(sid)
	require.NoError(t, err)
	defer w.Release()

	nodeEvent := event.Event{
		V: event.SchemaVersion, EventId: id.EventId("evt_node"), EventIndex: 0, SessionId: sid,
		Kind: event.KindNodeCreated, DedupeKey: "node_created:x",
		Data: map[string]any{"snapshotRef": "sha256:" + sampleHex()},
	}
	plan := Plan{
		Events: []event.Event{nodeEvent},
		SnapshotPins: []SnapshotPin{{
			EventIndex:       0,
			SnapshotRef:      id.SnapshotRef("sha256:" + sampleHex()),
			CreatedByEventId: id.EventId("evt_node"),
		}},
	}
	_, err = store.Append(w, sid, plan)
	require.NoError(t, err)

	loaded, err := store.LoadStrict(sid)
	require.NoError(t, err)
	require.Len(t, loaded.Manifest, 2)
	assert.Equal(t, ManifestSnapshotPinned, loaded.Manifest[1].Kind)
}

func sampleHex() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
