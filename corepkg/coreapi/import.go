package coreapi

import (
	"sort"

	"github.com/durableflow/engine/corepkg/bundle"
	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/sessionstore"
	"github.com/durableflow/engine/corepkg/workflowfile"
)

// ImportSessionRequest is importSession's input, spec.md §6.2.
type ImportSessionRequest struct {
	Bundle bundle.Bundle
}

// ImportSessionResult is importSession's output: the freshly minted
// sessionId the bundle was imported as.
type ImportSessionResult struct {
	SessionId id.SessionId
}

// ImportSession implements spec.md §6.2's importSession / §4.9's
// importSession transform: delegates validation and sessionId
// rewriting to bundle.ImportSession, then persists the rewritten
// session, its snapshots and any pinned workflows the importing
// instance doesn't already have. Import is always "import as new" —
// a bundle never resurrects its original sessionId.
func (a *API) ImportSession(req ImportSessionRequest) (ImportSessionResult, error) {
	newSessionID, err := id.NewSessionId()
	if err != nil {
		return ImportSessionResult{}, err
	}

	imported, err := bundle.ImportSession(req.Bundle, newSessionID)
	if err != nil {
		if a.Metrics != nil {
			a.Metrics.RecordBundleImport("rejected")
		}
		return ImportSessionResult{}, err
	}

	for hash, raw := range imported.PinnedWorkflows {
		if _, err := a.Workflows.FetchByHash(hash); err == nil {
			continue // already pinned on this instance
		}
		src, err := decodeSource(raw)
		if err != nil {
			if a.Metrics != nil {
				a.Metrics.RecordBundleImport("rejected")
			}
			return ImportSessionResult{}, err
		}
		if _, err := a.Workflows.EnsurePinned(src); err != nil {
			return ImportSessionResult{}, err
		}
	}

	for ref, raw := range imported.Snapshots {
		var existing any
		if err := a.Snapshots.Get(ref, &existing); err == nil {
			continue // already pinned on this instance
		}
		if _, err := a.Snapshots.Put(raw); err != nil {
			return ImportSessionResult{}, err
		}
	}

	witness, err := a.Gate.Acquire(newSessionID)
	if err != nil {
		return ImportSessionResult{}, err
	}
	defer witness.Release()

	plan := sessionstore.Plan{
		Events:       imported.Events,
		SnapshotPins: snapshotPinsFor(imported.Events),
	}
	if _, err := a.Sessions.Append(witness, newSessionID, plan); err != nil {
		return ImportSessionResult{}, err
	}

	if a.Metrics != nil {
		a.Metrics.RecordBundleImport("imported")
	}
	return ImportSessionResult{SessionId: newSessionID}, nil
}

// decodeSource converts a bundle's generically-decoded pinned-workflow
// value back into a typed workflowfile.Source via a canonical
// marshal/unmarshal round trip.
func decodeSource(raw any) (workflowfile.Source, error) {
	b, err := canonjson.Marshal(raw)
	if err != nil {
		return workflowfile.Source{}, err
	}
	var src workflowfile.Source
	if err := canonjson.UnmarshalInto(b, &src); err != nil {
		return workflowfile.Source{}, err
	}
	return src, nil
}

// snapshotPinsFor rebuilds the SnapshotPin records every node_created
// event in events implies, so the imported session's manifest records
// the same snapshot-pinned facts the original session did.
func snapshotPinsFor(events []event.Event) []sessionstore.SnapshotPin {
	var pins []sessionstore.SnapshotPin
	for _, e := range events {
		if e.Kind != event.KindNodeCreated {
			continue
		}
		data, _ := e.Data.(map[string]any)
		refStr, _ := data["snapshotRef"].(string)
		if refStr == "" {
			continue
		}
		pins = append(pins, sessionstore.SnapshotPin{
			EventIndex: e.EventIndex, SnapshotRef: id.SnapshotRef(refStr), CreatedByEventId: e.EventId,
		})
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].EventIndex < pins[j].EventIndex })
	return pins
}
