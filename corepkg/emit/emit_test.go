package emit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullEmitter_DiscardsEverything(t *testing.T) {
	n := NewNullEmitter()
	n.Emit(Event{Kind: KindAdvanceStarted})
	require.NoError(t, n.EmitBatch(context.Background(), []Event{{Kind: KindAdvanceBlocked}}))
	require.NoError(t, n.Flush(context.Background()))
}

func TestLogEmitter_WritesOneRecordPerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	le := NewLogEmitter(logger)

	le.Emit(Event{SessionId: "sess_a", Kind: KindAdvanceSucceeded, Msg: "advance_succeeded", Meta: map[string]any{"toNodeId": "node_b"}})

	out := buf.String()
	assert.Contains(t, out, "advance_succeeded")
	assert.Contains(t, out, "sess_a")
	assert.Contains(t, out, "node_b")
}

func TestLogEmitter_EmitBatchWritesAllEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	le := NewLogEmitter(logger)

	err := le.EmitBatch(context.Background(), []Event{
		{SessionId: "sess_a", Msg: "advance_started"},
		{SessionId: "sess_a", Msg: "advance_succeeded"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestBufferedEmitter_FlushForwardsToInner(t *testing.T) {
	var buf bytes.Buffer
	inner := NewLogEmitter(slog.New(slog.NewJSONHandler(&buf, nil)))
	be := NewBufferedEmitter(inner)

	be.Emit(Event{SessionId: "sess_a", Msg: "advance_started"})
	be.Emit(Event{SessionId: "sess_b", Msg: "advance_blocked"})
	assert.Len(t, be.History("sess_a"), 1)

	require.NoError(t, be.Flush(context.Background()))
	assert.Contains(t, buf.String(), "advance_started")
	assert.Contains(t, buf.String(), "advance_blocked")
	assert.Empty(t, be.History("sess_a"), "Flush should drain the buffer")
}

func TestBufferedEmitter_FlushWithNilInnerDropsEvents(t *testing.T) {
	be := NewBufferedEmitter(nil)
	be.Emit(Event{SessionId: "sess_a", Msg: "advance_started"})
	require.NoError(t, be.Flush(context.Background()))
	assert.Empty(t, be.History("sess_a"))
}
