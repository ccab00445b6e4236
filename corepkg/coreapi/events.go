package coreapi

import (
	"fmt"

	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
)

// mintEvent allocates a fresh EventId and sequential EventIndex for
// one event, mirroring advance's own internal mintEvent — duplicated
// rather than exported from advance, since advance's plan-building is
// deliberately self-contained and coreapi only ever mints the small,
// fixed set of events startWorkflow/checkpointWorkflow need outside
// the advance core's own append plans.
func mintEvent(sid id.SessionId, nextIdx int64, kind event.Kind, dedupeKey string, scope event.Scope, data any) (event.Event, int64, error) {
	eid, err := id.NewEventId()
	if err != nil {
		return event.Event{}, nextIdx, err
	}
	evt := event.New(sid, kind, dedupeKey, scope, data)
	evt.EventId = eid
	evt.EventIndex = nextIdx
	return evt, nextIdx + 1, nil
}

func dedupeKeySessionCreated(sid id.SessionId) string {
	return fmt.Sprintf("session_created:%s", sid)
}

func dedupeKeyRunStarted(sid id.SessionId, run id.RunId) string {
	return fmt.Sprintf("run_started:%s:%s", sid, run)
}

func dedupeKeyNodeCreated(sid id.SessionId, run id.RunId, node id.NodeId) string {
	return fmt.Sprintf("node_created:%s:%s:%s", sid, run, node)
}

func dedupeKeyEdgeCreated(sid id.SessionId, run id.RunId, from, to id.NodeId, kind string) string {
	return fmt.Sprintf("edge_created:%s:%s:%s->%s:%s", sid, run, from, to, kind)
}

func dedupeKeyInitialContextSet(sid id.SessionId) string {
	return fmt.Sprintf("context_set:%s:initial", sid)
}
