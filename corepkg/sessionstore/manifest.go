package sessionstore

import "github.com/durableflow/engine/corepkg/id"

// ManifestRecordKind is the closed manifest record discriminant
// (spec.md §3.5).
type ManifestRecordKind string

const (
	ManifestSegmentClosed  ManifestRecordKind = "segment_closed"
	ManifestSnapshotPinned ManifestRecordKind = "snapshot_pinned"
)

// ManifestRecord is one line of manifest.jsonl. Exactly the fields
// relevant to Kind are populated.
type ManifestRecord struct {
	ManifestIndex int64              `json:"manifestIndex"`
	Kind          ManifestRecordKind `json:"kind"`

	// segment_closed fields.
	FirstEventIndex int64  `json:"firstEventIndex,omitempty"`
	LastEventIndex  int64  `json:"lastEventIndex,omitempty"`
	SegmentRelPath  string `json:"segmentRelPath,omitempty"`
	Sha256          string `json:"sha256,omitempty"`
	Bytes           int64  `json:"bytes,omitempty"`

	// snapshot_pinned fields.
	EventIndex       int64          `json:"eventIndex,omitempty"`
	SnapshotRef      id.SnapshotRef `json:"snapshotRef,omitempty"`
	CreatedByEventId id.EventId     `json:"createdByEventId,omitempty"`
}
