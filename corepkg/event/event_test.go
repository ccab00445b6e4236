package event

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/durableflow/engine/corepkg/id"
)

func TestKind_IsValid(t *testing.T) {
	assert.True(t, KindSessionCreated.IsValid())
	assert.True(t, KindObservationRecorded.IsValid())
	assert.False(t, Kind("not_a_real_kind").IsValid())
	assert.Len(t, Kinds, 11)
}

func TestNew_SetsSchemaVersion(t *testing.T) {
	sid := id.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	e := New(sid, KindRunStarted, "run_started:sess_x:run_y", Scope{RunId: id.RunId("run_y")}, map[string]any{"workflowId": "wf1"})

	assert.Equal(t, SchemaVersion, e.V)
	assert.Equal(t, sid, e.SessionId)
	assert.Equal(t, KindRunStarted, e.Kind)
	assert.Equal(t, "run_started:sess_x:run_y", e.DedupeKey)
	assert.Equal(t, id.RunId("run_y"), e.Scope.RunId)
	assert.Empty(t, e.Scope.NodeId)
	// EventId/EventIndex are assigned by the store, not by New.
	assert.Empty(t, e.EventId)
	assert.Zero(t, e.EventIndex)
}
