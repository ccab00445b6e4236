// Package coreapi wires the pure/mechanical packages below it —
// gate, sessionstore, snapshotstore, workflowfile, advance, bundle and
// projection — into the five operations spec.md §6.2 names as the
// engine's Core API: startWorkflow, continueWorkflow,
// checkpointWorkflow, exportSession and importSession. Nothing here
// is novel mechanism; it is orchestration, the same role the
// teacher's graph/engine.go Run loop plays over its own Scheduler,
// Store and Emitter collaborators.
package coreapi

import (
	"fmt"

	"github.com/durableflow/engine/corepkg/advance"
	"github.com/durableflow/engine/corepkg/emit"
	"github.com/durableflow/engine/corepkg/gate"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/metrics"
	"github.com/durableflow/engine/corepkg/sessionstore"
	"github.com/durableflow/engine/corepkg/snapshotstore"
	"github.com/durableflow/engine/corepkg/workflowfile"
)

// WorkflowProvider is the subset of workflowfile.Loader the core API
// depends on (spec.md §6.3's WorkflowProvider port, extended with
// fetchByHash so a run keeps routing against the exact workflow
// version it was started with, even after a hot-reload repins a
// newer version under the same workflowId).
type WorkflowProvider interface {
	FetchById(workflowId string) (workflowfile.Workflow, error)
	FetchByHash(hash id.WorkflowHash) (workflowfile.Workflow, error)

	// EnsurePinned pins src if not already present, returning its
	// content-addressed hash. importSession uses this to re-materialize
	// a bundled workflow the importing instance never had on disk.
	EnsurePinned(src workflowfile.Source) (id.WorkflowHash, error)
}

// Errors specific to the orchestration layer; these sit alongside
// apperr's closed taxonomy rather than inside it, since they describe
// coreapi-level request shape problems, not engine invariants.
var (
	ErrWorkflowNotFound = fmt.Errorf("coreapi: workflow not found")
	ErrSessionNotFound  = fmt.Errorf("coreapi: session not found")
	ErrNodeNotFound     = fmt.Errorf("coreapi: node not found")
	ErrNoToken          = fmt.Errorf("coreapi: no token or sessionId supplied")
	ErrAlreadyComplete  = fmt.Errorf("coreapi: run already complete")
)

// API bundles the durable stores and ports one process needs to serve
// every Core API operation. One API is built per process and reused
// across requests, mirroring advance.Deps.
type API struct {
	Gate      *gate.Gate
	Sessions  *sessionstore.Store
	Snapshots *snapshotstore.Store
	Workflows WorkflowProvider
	Engine    advance.ValidationEngine // may be nil; forwarded to advance.Deps unchanged

	// TokenKey signs every stateToken/ackToken/checkpointToken this API
	// mints. It never touches disk or the session log.
	TokenKey []byte

	Metrics *metrics.Metrics // optional; nil disables metrics recording
	Emitter emit.Emitter     // optional; nil disables observability events
}

// New constructs an API. metrics and emitter may be nil.
func New(gt *gate.Gate, sessions *sessionstore.Store, snapshots *snapshotstore.Store,
	workflows WorkflowProvider, engine advance.ValidationEngine, tokenKey []byte,
	m *metrics.Metrics, emitter emit.Emitter) *API {
	return &API{
		Gate: gt, Sessions: sessions, Snapshots: snapshots,
		Workflows: workflows, Engine: engine, TokenKey: tokenKey,
		Metrics: m, Emitter: emitter,
	}
}

func (a *API) emit(e emit.Event) {
	if a.Emitter != nil {
		a.Emitter.Emit(e)
	}
}

// rootAttemptSeed anchors the deterministic attempt-id derivation
// attemptIdForNode walks from: every node's attempt is reconstructible
// purely from the DAG shape, so no attempt lineage needs to be
// persisted anywhere outside the event log that already exists.
const rootAttemptSeed id.AttemptId = "attempt_root_seed"
