package bundle

import (
	"fmt"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/sessionstore"
)

// Imported is the rewritten session payload ready for a caller to
// write through sessionstore/snapshotstore: every event carries
// newSessionID instead of the bundle's original sessionId, and
// everything else is unchanged.
type Imported struct {
	SessionId       id.SessionId
	Events          []event.Event
	Manifest        []sessionstore.ManifestRecord
	Snapshots       map[id.SnapshotRef]any
	PinnedWorkflows map[id.WorkflowHash]any
}

// ImportSession validates b in the fixed order spec.md §4.9 requires
// — schema, then integrity, then ordering, then references — and, if
// every stage passes, returns the session rewritten under newSessionID
// (minted by the caller; import is always "import as new", a bundle
// never resurrects its original sessionId). No disk I/O happens here;
// the caller persists the returned Imported value through its stores.
func ImportSession(b Bundle, newSessionID id.SessionId) (Imported, error) {
	if err := validateFormat(b); err != nil {
		return Imported{}, err
	}
	if err := validateIntegrity(b); err != nil {
		return Imported{}, err
	}
	if err := validateOrdering(b); err != nil {
		return Imported{}, err
	}
	if err := validateReferences(b); err != nil {
		return Imported{}, err
	}

	events := make([]event.Event, len(b.Session.Events))
	for i, e := range b.Session.Events {
		e.SessionId = newSessionID
		events[i] = e
	}

	return Imported{
		SessionId:       newSessionID,
		Events:          events,
		Manifest:        b.Session.Manifest,
		Snapshots:       b.Session.Snapshots,
		PinnedWorkflows: b.Session.PinnedWorkflows,
	}, nil
}

func validateFormat(b Bundle) error {
	if b.BundleId == "" || b.Integrity.Kind == "" || b.Session.SessionId == "" {
		return apperr.ErrBundleInvalidFormat
	}
	if b.BundleSchemaVersion == 0 {
		return apperr.ErrBundleInvalidFormat
	}
	if b.BundleSchemaVersion != SchemaVersion {
		return apperr.ErrBundleUnsupportedVersion
	}
	if b.Integrity.Kind != IntegrityKindSha256Manifest {
		return apperr.ErrBundleInvalidFormat
	}
	return nil
}

// validateIntegrity recomputes every entry bundle.BuildExportBundle
// would have produced and requires an exact match, path for path,
// digest for digest — a bundle with extra or missing entries fails
// just as surely as one with a tampered digest.
func validateIntegrity(b Bundle) error {
	want, err := BuildExportBundle(b.Session.SessionId, b.Session.Events, b.Session.Manifest,
		b.Session.Snapshots, b.Session.PinnedWorkflows, b.Producer, b.BundleId, b.ExportedAt)
	if err != nil {
		return apperr.ErrBundleInvalidFormat
	}

	have := make(map[string]IntegrityEntry, len(b.Integrity.Entries))
	for _, e := range b.Integrity.Entries {
		have[e.Path] = e
	}
	if len(have) != len(want.Integrity.Entries) {
		return apperr.ErrBundleIntegrityFailed
	}
	for _, wantEntry := range want.Integrity.Entries {
		gotEntry, ok := have[wantEntry.Path]
		if !ok || gotEntry.Sha256 != wantEntry.Sha256 || gotEntry.Bytes != wantEntry.Bytes {
			return apperr.ErrBundleIntegrityFailed
		}
	}
	return nil
}

func validateOrdering(b Bundle) error {
	for i, e := range b.Session.Events {
		if e.EventIndex != int64(i) {
			return apperr.ErrBundleEventOrderInvalid
		}
	}
	for i, m := range b.Session.Manifest {
		if m.ManifestIndex != int64(i) {
			return apperr.ErrBundleManifestOrderInvalid
		}
	}
	return nil
}

// validateReferences requires every snapshotRef a node_created event
// names, and every workflowHash a run_started event names, to resolve
// within the bundle's own Snapshots/PinnedWorkflows maps — a bundle is
// self-contained or it is rejected, never partially importable.
func validateReferences(b Bundle) error {
	for _, e := range b.Session.Events {
		switch e.Kind {
		case event.KindNodeCreated:
			data, _ := e.Data.(map[string]any)
			ref, _ := data["snapshotRef"].(string)
			if ref == "" {
				continue
			}
			if _, ok := b.Session.Snapshots[id.SnapshotRef(ref)]; !ok {
				return fmt.Errorf("%w: snapshotRef %q", apperr.ErrBundleMissingSnapshot, ref)
			}
		case event.KindRunStarted:
			data, _ := e.Data.(map[string]any)
			hash, _ := data["workflowHash"].(string)
			if hash == "" {
				continue
			}
			if _, ok := b.Session.PinnedWorkflows[id.WorkflowHash(hash)]; !ok {
				return fmt.Errorf("%w: workflowHash %q", apperr.ErrBundleMissingPinnedWorkflow, hash)
			}
		}
	}
	return nil
}
