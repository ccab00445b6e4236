// Package sessionstore implements the append-only, crash-safe session
// event log of spec.md §4.2: segmented JSONL event files plus a
// separate JSONL attestation manifest, written via
// open(tmp,O_TRUNC) -> writeAll -> fsync(file) -> rename(tmp->final)
// -> fsync(dir), with idempotent replay on dedupe-key collision and
// two load modes (strict, validated-prefix).
//
// Grounded on vinayprograms-agent's FileStore.Save
// (write-tmp-then-rename JSON persistence), extended with the
// fsync-file/fsync-dir steps and closed-segment/manifest-attestation
// scheme spec.md §4.2 requires (the grounding source has no fsync or
// manifest; this package adds both to meet the crash-safety
// invariant), and on the teacher's graph/store package's
// idempotency-key/outbox pattern for the dedupe-key semantics.
package sessionstore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/gate"
	"github.com/durableflow/engine/corepkg/id"
)

// Store is a session event log store rooted at one data directory
// (the `<data>` prefix of spec.md's on-disk layout).
type Store struct {
	dataDir string
}

// New constructs a Store rooted at dataDir.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) sessionDir(sid id.SessionId) string {
	return filepath.Join(s.dataDir, "sessions", string(sid))
}

func (s *Store) eventsDir(sid id.SessionId) string {
	return filepath.Join(s.sessionDir(sid), "events")
}

func (s *Store) manifestPath(sid id.SessionId) string {
	return filepath.Join(s.sessionDir(sid), "manifest.jsonl")
}

// SnapshotPin is the subset of a snapshot_pinned manifest record an
// append plan supplies; ManifestIndex is assigned by the store.
type SnapshotPin struct {
	EventIndex       int64
	SnapshotRef      id.SnapshotRef
	CreatedByEventId id.EventId
}

// Plan is the pure value handed to Append: a non-empty ordered list
// of events (with EventIndex/EventId already assigned by the caller
// starting at the store's expectedFirstEventIndex) plus any snapshot
// pins introduced by those events.
type Plan struct {
	Events       []event.Event
	SnapshotPins []SnapshotPin
}

// AppendResult reports what Append actually did.
type AppendResult struct {
	// IdempotentReplay is true when every dedupeKey in the plan was
	// already present and nothing was written.
	IdempotentReplay bool
	AppendedCount    int
}

// Loaded is the result of a load: the manifest and the events it
// attests, in order.
type Loaded struct {
	Manifest []ManifestRecord
	Events   []event.Event
}

// ExpectedFirstEventIndex returns the eventIndex the next Append call
// must start at.
func (l Loaded) ExpectedFirstEventIndex() int64 {
	return int64(len(l.Events))
}

// Append validates and commits plan to sid's log. witness must still
// be held; using a released witness is itself an invariant_violation.
func (s *Store) Append(witness *gate.Witness, sid id.SessionId, plan Plan) (AppendResult, error) {
	if err := witness.MustBeHeld(); err != nil {
		return AppendResult{}, err
	}
	if len(plan.Events) == 0 {
		return AppendResult{}, apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest, "append plan has no events")
	}

	current, err := s.LoadStrict(sid)
	if err != nil {
		return AppendResult{}, err
	}

	replay, err := checkIdempotency(current.Events, plan.Events)
	if err != nil {
		return AppendResult{}, err
	}
	if replay {
		return AppendResult{IdempotentReplay: true}, nil
	}

	if err := s.validatePlan(sid, current, plan); err != nil {
		return AppendResult{}, err
	}

	segment, err := encodeSegment(plan.Events)
	if err != nil {
		return AppendResult{}, err
	}

	firstIdx := plan.Events[0].EventIndex
	lastIdx := plan.Events[len(plan.Events)-1].EventIndex
	relPath := segmentRelPath(firstIdx, lastIdx)
	segPath := filepath.Join(s.sessionDir(sid), relPath)

	if err := os.MkdirAll(filepath.Dir(segPath), 0o755); err != nil {
		return AppendResult{}, apperr.NewSessionStoreIOError("mkdir", filepath.Dir(segPath), err)
	}
	if err := writeFileAtomic(segPath, segment); err != nil {
		return AppendResult{}, err
	}

	nextManifestIdx := int64(len(current.Manifest))
	segClosed := ManifestRecord{
		ManifestIndex:   nextManifestIdx,
		Kind:            ManifestSegmentClosed,
		FirstEventIndex: firstIdx,
		LastEventIndex:  lastIdx,
		SegmentRelPath:  relPath,
		Sha256:          id.Sha256Hex(segment),
		Bytes:           int64(len(segment)),
	}
	if err := s.appendManifestRecords(sid, []ManifestRecord{segClosed}); err != nil {
		return AppendResult{}, err
	}
	nextManifestIdx++

	if len(plan.SnapshotPins) > 0 {
		pins := make([]SnapshotPin, len(plan.SnapshotPins))
		copy(pins, plan.SnapshotPins)
		sort.Slice(pins, func(i, j int) bool {
			if pins[i].SnapshotRef != pins[j].SnapshotRef {
				return pins[i].SnapshotRef < pins[j].SnapshotRef
			}
			if pins[i].EventIndex != pins[j].EventIndex {
				return pins[i].EventIndex < pins[j].EventIndex
			}
			return pins[i].CreatedByEventId < pins[j].CreatedByEventId
		})
		records := make([]ManifestRecord, len(pins))
		for i, p := range pins {
			records[i] = ManifestRecord{
				ManifestIndex:    nextManifestIdx + int64(i),
				Kind:             ManifestSnapshotPinned,
				EventIndex:       p.EventIndex,
				SnapshotRef:      p.SnapshotRef,
				CreatedByEventId: p.CreatedByEventId,
			}
		}
		if err := s.appendManifestRecords(sid, records); err != nil {
			return AppendResult{}, err
		}
	}

	return AppendResult{AppendedCount: len(plan.Events)}, nil
}

// checkIdempotency implements spec.md §4.2 step 3: all dedupeKeys
// already present -> replay (no-op success); some but not all ->
// partial_dedupe_collision invariant violation.
func checkIdempotency(existing []event.Event, planned []event.Event) (bool, error) {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e.DedupeKey] = true
	}
	present, absent := 0, 0
	for _, e := range planned {
		if seen[e.DedupeKey] {
			present++
		} else {
			absent++
		}
	}
	switch {
	case absent == 0:
		return true, nil
	case present == 0:
		return false, nil
	default:
		return false, apperr.NewInvariantViolation(apperr.InvariantPartialDedupeCollision,
			fmt.Sprintf("%d of %d dedupeKeys already present", present, len(planned)))
	}
}

func (s *Store) validatePlan(sid id.SessionId, current Loaded, plan Plan) error {
	expected := current.ExpectedFirstEventIndex()
	for i, e := range plan.Events {
		if e.V != event.SchemaVersion {
			return apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest,
				fmt.Sprintf("event %d has schema version %d, want %d", i, e.V, event.SchemaVersion))
		}
		if e.SessionId != sid {
			return apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest,
				fmt.Sprintf("event %d sessionId %q != %q", i, e.SessionId, sid))
		}
		if e.EventIndex != expected+int64(i) {
			return apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest,
				fmt.Sprintf("event %d eventIndex %d != expected %d", i, e.EventIndex, expected+int64(i)))
		}
		if !e.Kind.IsValid() {
			return apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest,
				fmt.Sprintf("event %d has unknown kind %q", i, e.Kind))
		}
	}

	planIndices := make(map[int64]bool, len(plan.Events))
	for _, e := range plan.Events {
		planIndices[e.EventIndex] = true
	}
	for _, pin := range plan.SnapshotPins {
		if !planIndices[pin.EventIndex] {
			return apperr.NewInvariantViolation(apperr.InvariantMalformedAdvanceRequest,
				fmt.Sprintf("snapshot pin references eventIndex %d outside plan", pin.EventIndex))
		}
	}
	return nil
}

func segmentRelPath(first, last int64) string {
	return filepath.Join("events", fmt.Sprintf("%08d-%08d.jsonl", first, last))
}

func encodeSegment(events []event.Event) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range events {
		line, err := canonjson.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// writeFileAtomic implements spec.md §4.2 step 6:
// open(tmp,O_TRUNC) -> writeAll -> fsync(file) -> rename(tmp->final)
// -> fsync(dir).
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp-" + id.NewTempSuffix()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.NewSessionStoreIOError("open", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperr.NewSessionStoreIOError("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperr.NewSessionStoreIOError("fsync", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return apperr.NewSessionStoreIOError("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperr.NewSessionStoreIOError("rename", path, err)
	}
	if err := fsyncDir(filepath.Dir(path)); err != nil {
		return apperr.NewSessionStoreIOError("fsync_dir", filepath.Dir(path), err)
	}
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (s *Store) appendManifestRecords(sid id.SessionId, records []ManifestRecord) error {
	path := s.manifestPath(sid)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.NewSessionStoreIOError("mkdir", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperr.NewSessionStoreIOError("open", path, err)
	}
	defer f.Close()

	for _, r := range records {
		line, err := canonjson.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return apperr.NewSessionStoreIOError("write", path, err)
		}
	}
	if err := f.Sync(); err != nil {
		return apperr.NewSessionStoreIOError("fsync", path, err)
	}
	return nil
}

// readJSONLLines reads path line by line, returning the raw lines (or
// nil, nil if the file does not exist).
func readJSONLLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.NewSessionStoreIOError("open", path, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.NewSessionStoreIOError("read", path, err)
	}
	return lines, nil
}
