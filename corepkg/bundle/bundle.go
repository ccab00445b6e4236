// Package bundle implements the pure export/import transform of
// spec.md §4.9: a session's events, manifest, pinned snapshots and
// pinned compiled workflows, collected into one self-verifying value
// with a sha256 integrity manifest. Both buildExportBundle and
// importSession are pure functions over already-loaded data — the
// disk/store I/O that gathers a session's events or writes an
// imported one back lives in the caller, the same split the teacher's
// graph/store keeps between its outbox records and the transport that
// ships them.
package bundle

import (
	"fmt"
	"sort"

	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/sessionstore"
)

// SchemaVersion is the only bundleSchemaVersion this package produces
// or accepts.
const SchemaVersion = 1

// IntegrityKind is the closed set of integrity-manifest algorithms;
// today there is exactly one.
const IntegrityKindSha256Manifest = "sha256_manifest_v1"

// Producer records what built the bundle, for display only — it never
// participates in integrity or import validation.
type Producer struct {
	AppVersion        string `json:"appVersion"`
	AppliedConfigHash string `json:"appliedConfigHash,omitempty"`
}

// IntegrityEntry is one covered path's digest and size.
type IntegrityEntry struct {
	Path   string `json:"path"`
	Sha256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
}

// Integrity is the bundle's self-verifying manifest: one entry per
// covered path, each hashed over the canonical bytes of that path's
// value.
type Integrity struct {
	Kind    string           `json:"kind"`
	Entries []IntegrityEntry `json:"entries"`
}

// Session is the portable payload: one session's full event log, its
// manifest, every snapshot its events reference, and every pinned
// workflow its snapshots reference. Tokens are never part of this —
// they are minted fresh at import time.
type Session struct {
	SessionId       id.SessionId                  `json:"sessionId"`
	Events          []event.Event                 `json:"events"`
	Manifest        []sessionstore.ManifestRecord `json:"manifest"`
	Snapshots       map[id.SnapshotRef]any        `json:"snapshots"`
	PinnedWorkflows map[id.WorkflowHash]any       `json:"pinnedWorkflows"`
}

// Bundle is the full export artifact, spec.md §4.9.
type Bundle struct {
	BundleSchemaVersion int       `json:"bundleSchemaVersion"`
	BundleId            string    `json:"bundleId"`
	ExportedAt          string    `json:"exportedAt"`
	Producer            Producer  `json:"producer"`
	Integrity           Integrity `json:"integrity"`
	Session             Session   `json:"session"`
}

func snapshotPath(ref id.SnapshotRef) string {
	return fmt.Sprintf("session/snapshots/%s", ref)
}

func workflowPath(hash id.WorkflowHash) string {
	return fmt.Sprintf("session/pinnedWorkflows/%s", hash)
}

// integrityEntry canonicalizes v and returns the IntegrityEntry that
// covers it at path.
func integrityEntry(path string, v any) (IntegrityEntry, error) {
	canonical, err := canonjson.Marshal(v)
	if err != nil {
		return IntegrityEntry{}, err
	}
	return IntegrityEntry{Path: path, Sha256: id.Sha256Hex(canonical), Bytes: len(canonical)}, nil
}

// BuildExportBundle assembles and seals a Bundle for one session. The
// caller has already loaded everything: the full event/manifest log,
// every snapshot referenced by a node_created event's snapshotRef, and
// every pinned workflow referenced by a run_started event's
// workflowHash (field names per spec.md §3.2). bundleID and exportedAt
// are supplied by the caller since this package never reads the clock
// or mints identifiers itself.
func BuildExportBundle(sessionID id.SessionId, events []event.Event, manifest []sessionstore.ManifestRecord,
	snapshots map[id.SnapshotRef]any, pinnedWorkflows map[id.WorkflowHash]any,
	producer Producer, bundleID, exportedAt string) (Bundle, error) {

	entries := make([]IntegrityEntry, 0, 2+len(snapshots)+len(pinnedWorkflows))

	eventsEntry, err := integrityEntry("session/events", events)
	if err != nil {
		return Bundle{}, err
	}
	entries = append(entries, eventsEntry)

	manifestEntry, err := integrityEntry("session/manifest", manifest)
	if err != nil {
		return Bundle{}, err
	}
	entries = append(entries, manifestEntry)

	snapshotRefs := make([]id.SnapshotRef, 0, len(snapshots))
	for ref := range snapshots {
		snapshotRefs = append(snapshotRefs, ref)
	}
	sort.Slice(snapshotRefs, func(i, j int) bool { return snapshotRefs[i] < snapshotRefs[j] })
	for _, ref := range snapshotRefs {
		entry, err := integrityEntry(snapshotPath(ref), snapshots[ref])
		if err != nil {
			return Bundle{}, err
		}
		entries = append(entries, entry)
	}

	workflowHashes := make([]id.WorkflowHash, 0, len(pinnedWorkflows))
	for hash := range pinnedWorkflows {
		workflowHashes = append(workflowHashes, hash)
	}
	sort.Slice(workflowHashes, func(i, j int) bool { return workflowHashes[i] < workflowHashes[j] })
	for _, hash := range workflowHashes {
		entry, err := integrityEntry(workflowPath(hash), pinnedWorkflows[hash])
		if err != nil {
			return Bundle{}, err
		}
		entries = append(entries, entry)
	}

	return Bundle{
		BundleSchemaVersion: SchemaVersion,
		BundleId:            bundleID,
		ExportedAt:          exportedAt,
		Producer:            producer,
		Integrity:           Integrity{Kind: IntegrityKindSha256Manifest, Entries: entries},
		Session: Session{
			SessionId:       sessionID,
			Events:          events,
			Manifest:        manifest,
			Snapshots:       snapshots,
			PinnedWorkflows: pinnedWorkflows,
		},
	}, nil
}
