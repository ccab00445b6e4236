package coreapi

import (
	"fmt"

	"github.com/durableflow/engine/corepkg/bundle"
	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
)

// ExportSessionRequest is exportSession's input, spec.md §6.2.
type ExportSessionRequest struct {
	SessionId id.SessionId

	AppVersion        string
	AppliedConfigHash string
	BundleId          string
	ExportedAt        string
}

// ExportSessionResult is exportSession's output: the self-verifying
// bundle ready for a caller to serialize to disk.
type ExportSessionResult struct {
	Bundle bundle.Bundle
}

// ExportSession implements spec.md §6.2's exportSession / §4.9's
// buildExportBundle: gather everything the session's own events
// reference — every pinned snapshot, every pinned workflow — and
// delegate sealing to bundle.BuildExportBundle.
func (a *API) ExportSession(req ExportSessionRequest) (ExportSessionResult, error) {
	loaded, err := a.Sessions.LoadStrict(req.SessionId)
	if err != nil {
		return ExportSessionResult{}, err
	}
	if len(loaded.Events) == 0 {
		return ExportSessionResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionId)
	}

	snapshots := make(map[id.SnapshotRef]any)
	for _, e := range loaded.Events {
		if e.Kind != event.KindNodeCreated {
			continue
		}
		data, _ := e.Data.(map[string]any)
		refStr, _ := data["snapshotRef"].(string)
		if refStr == "" {
			continue
		}
		ref := id.SnapshotRef(refStr)
		if _, ok := snapshots[ref]; ok {
			continue
		}
		var v any
		if err := a.Snapshots.Get(ref, &v); err != nil {
			return ExportSessionResult{}, err
		}
		snapshots[ref] = v
	}
	pinnedWorkflows := make(map[id.WorkflowHash]any)
	for _, e := range loaded.Events {
		if e.Kind != event.KindRunStarted {
			continue
		}
		data, _ := e.Data.(map[string]any)
		hashStr, _ := data["workflowHash"].(string)
		if hashStr == "" {
			continue
		}
		hash := id.WorkflowHash(hashStr)
		if _, ok := pinnedWorkflows[hash]; ok {
			continue
		}
		wf, err := a.Workflows.FetchByHash(hash)
		if err != nil {
			return ExportSessionResult{}, fmt.Errorf("%w: %s: %v", ErrWorkflowNotFound, hash, err)
		}
		pinnedWorkflows[hash] = wf.Source
	}

	producer := bundle.Producer{AppVersion: req.AppVersion, AppliedConfigHash: req.AppliedConfigHash}
	b, err := bundle.BuildExportBundle(req.SessionId, loaded.Events, loaded.Manifest, snapshots, pinnedWorkflows,
		producer, req.BundleId, req.ExportedAt)
	if err != nil {
		return ExportSessionResult{}, err
	}

	if a.Metrics != nil {
		a.Metrics.RecordBundleExport()
	}
	return ExportSessionResult{Bundle: b}, nil
}
