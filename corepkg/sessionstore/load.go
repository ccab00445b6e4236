package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
)

// LoadStrict implements spec.md §4.2's strict load: it returns
// {manifest, events} only if every segment hash matches its
// segment_closed attestation, every attested segment's event indices
// are contiguous starting at 0, and every snapshotRef introduced by a
// node_created event has a matching snapshot_pinned record. On any
// mismatch it returns *apperr.CorruptionError.
func (s *Store) LoadStrict(sid id.SessionId) (Loaded, error) {
	loaded, isComplete, _, err := s.load(sid, true)
	if err != nil {
		return Loaded{}, err
	}
	if !isComplete {
		// load(strict=true) always either returns a fully validated
		// result or an error; isComplete=false here would be a logic
		// error in load itself.
		return Loaded{}, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonSchemaValidationFailed, "strict load returned incomplete result")
	}
	return loaded, nil
}

// ValidatedPrefixResult is the result of LoadValidatedPrefix.
type ValidatedPrefixResult struct {
	Loaded     Loaded
	IsComplete bool
	TailReason apperr.CorruptionReason
}

// LoadValidatedPrefix returns the longest strictly validated prefix of
// the session log, salvaging "tail" corruption (rather than failing
// outright the way LoadStrict does) while still failing on "head"
// corruption, per spec.md §4.2.
func (s *Store) LoadValidatedPrefix(sid id.SessionId) (ValidatedPrefixResult, error) {
	loaded, isComplete, tailReason, err := s.load(sid, false)
	if err != nil {
		return ValidatedPrefixResult{}, err
	}
	return ValidatedPrefixResult{Loaded: loaded, IsComplete: isComplete, TailReason: tailReason}, nil
}

// load is the shared implementation for both load modes. When strict
// is true, any validation failure (head or tail) returns an error.
// When strict is false, a head failure still returns an error but a
// tail failure instead returns the longest validated prefix with
// isComplete=false and the tailReason set.
func (s *Store) load(sid id.SessionId, strict bool) (Loaded, bool, apperr.CorruptionReason, error) {
	manifestLines, err := readJSONLLines(s.manifestPath(sid))
	if err != nil {
		return Loaded{}, false, "", err
	}
	if len(manifestLines) == 0 {
		return Loaded{}, true, "", nil
	}

	manifest := make([]ManifestRecord, 0, len(manifestLines))
	for i, line := range manifestLines {
		var rec ManifestRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			if i == 0 {
				return Loaded{}, false, "", apperr.NewCorruption(apperr.CorruptionHead, apperr.ReasonSchemaValidationFailed, err.Error())
			}
			if strict {
				return Loaded{}, false, "", apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonSchemaValidationFailed, err.Error())
			}
			return Loaded{Manifest: manifest, Events: nil}, false, apperr.ReasonSchemaValidationFailed, nil
		}
		if rec.ManifestIndex != int64(i) {
			reason := apperr.ReasonNonContiguousIndices
			if i == 0 {
				return Loaded{}, false, "", apperr.NewCorruption(apperr.CorruptionHead, reason, "manifestIndex must start at 0")
			}
			if strict {
				return Loaded{}, false, "", apperr.NewCorruption(apperr.CorruptionTail, reason, "non-contiguous manifestIndex")
			}
			return Loaded{Manifest: manifest, Events: nil}, false, reason, nil
		}
		manifest = append(manifest, rec)
	}

	var allEvents []event.Event
	var expectedFirst int64
	pinned := make(map[id.SnapshotRef]bool)

	for i, rec := range manifest {
		switch rec.Kind {
		case ManifestSegmentClosed:
			segEvents, segErr := s.loadAndVerifySegment(sid, rec)
			if segErr != nil {
				if i == 0 {
					return Loaded{}, false, "", wrapHeadOrTail(segErr, true)
				}
				if strict {
					return Loaded{}, false, "", wrapHeadOrTail(segErr, false)
				}
				reason := corruptionReasonOf(segErr)
				return Loaded{Manifest: manifest[:i], Events: allEvents}, false, reason, nil
			}
			if segEvents[0].EventIndex != expectedFirst {
				err := apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonNonContiguousIndices, "segment does not continue prior event index")
				if i == 0 {
					return Loaded{}, false, "", apperr.NewCorruption(apperr.CorruptionHead, apperr.ReasonNonContiguousIndices, "segment does not start at 0")
				}
				if strict {
					return Loaded{}, false, "", err
				}
				return Loaded{Manifest: manifest[:i], Events: allEvents}, false, apperr.ReasonNonContiguousIndices, nil
			}
			allEvents = append(allEvents, segEvents...)
			expectedFirst += int64(len(segEvents))

		case ManifestSnapshotPinned:
			pinned[rec.SnapshotRef] = true
		}
	}

	// Every snapshotRef introduced by a node_created event must have a
	// matching snapshot_pinned manifest entry (spec.md §3.2).
	for _, e := range allEvents {
		ref, ok := snapshotRefOf(e)
		if !ok {
			continue
		}
		if !pinned[ref] {
			err := apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonMissingAttestedSegment,
				fmt.Sprintf("node_created snapshotRef %s has no snapshot_pinned record", ref))
			if strict {
				return Loaded{}, false, "", err
			}
			return Loaded{Manifest: manifest, Events: allEvents}, false, apperr.ReasonMissingAttestedSegment, nil
		}
	}

	return Loaded{Manifest: manifest, Events: allEvents}, true, "", nil
}

// snapshotRefOf extracts the snapshotRef a node_created event's data
// introduces, if any. Event.Data is a generic map (decoded via
// encoding/json) since events are read back off disk rather than
// round-tripped in-process.
func snapshotRefOf(e event.Event) (id.SnapshotRef, bool) {
	if e.Kind != event.KindNodeCreated {
		return "", false
	}
	m, ok := e.Data.(map[string]any)
	if !ok {
		return "", false
	}
	ref, ok := m["snapshotRef"].(string)
	if !ok || ref == "" {
		return "", false
	}
	return id.SnapshotRef(ref), true
}

func wrapHeadOrTail(err error, head bool) error {
	var ce *apperr.CorruptionError
	if as, ok := err.(*apperr.CorruptionError); ok {
		ce = as
	} else {
		return err
	}
	if head {
		ce.Location = apperr.CorruptionHead
	}
	return ce
}

func corruptionReasonOf(err error) apperr.CorruptionReason {
	if ce, ok := err.(*apperr.CorruptionError); ok {
		return ce.Reason
	}
	return apperr.ReasonSchemaValidationFailed
}

// loadAndVerifySegment reads the segment file rec attests, verifies
// its bytes hash to rec.Sha256, and decodes its events.
func (s *Store) loadAndVerifySegment(sid id.SessionId, rec ManifestRecord) ([]event.Event, error) {
	path := filepath.Join(s.sessionDir(sid), rec.SegmentRelPath)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonMissingAttestedSegment, path)
		}
		return nil, apperr.NewSessionStoreIOError("read", path, err)
	}
	actual := id.Sha256Hex(raw)
	if actual != rec.Sha256 {
		return nil, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonDigestMismatch, path)
	}

	lines, err := canonjson.SplitJSONLLines(raw)
	if err != nil {
		return nil, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonSchemaValidationFailed, err.Error())
	}

	events := make([]event.Event, 0, len(lines))
	for _, line := range lines {
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonSchemaValidationFailed, err.Error())
		}
		if e.V != event.SchemaVersion {
			return nil, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonUnknownSchemaVersion, fmt.Sprintf("v=%d", e.V))
		}
		if !e.Kind.IsValid() {
			return nil, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonSchemaValidationFailed, fmt.Sprintf("unknown kind %q", e.Kind))
		}
		events = append(events, e)
	}
	if len(events) == 0 {
		return nil, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonSchemaValidationFailed, "empty segment")
	}
	for i := 1; i < len(events); i++ {
		if events[i].EventIndex != events[i-1].EventIndex+1 {
			return nil, apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonNonContiguousIndices, "segment internal gap")
		}
	}
	return events, nil
}
