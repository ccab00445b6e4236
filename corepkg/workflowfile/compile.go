package workflowfile

import (
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/snapshotstore"
	"github.com/durableflow/engine/corepkg/statemachine"
)

// Workflow bundles a compiled workflow with the source it was
// compiled from and the hash it is pinned under, so callers that need
// more than routing (e.g. cmd/workflowctl show) don't have to
// recompile or re-fetch.
type Workflow struct {
	WorkflowId string
	Hash       id.WorkflowHash
	Source     Source
	Compiled   statemachine.CompiledWorkflow
}

// Pin canonicalizes src and writes it into store (rooted at
// `<data>/workflows/`), returning the resulting content-addressed
// WorkflowHash. A second Pin of byte-identical source is a no-op, per
// snapshotstore.Store.Put's content-addressing guarantee.
func Pin(store *snapshotstore.Store, src Source) (id.WorkflowHash, error) {
	ref, err := store.Put(src)
	if err != nil {
		return "", err
	}
	return id.WorkflowHash(ref), nil
}

// Resolve reads back the Source pinned at hash and compiles it.
func Resolve(store *snapshotstore.Store, hash id.WorkflowHash) (Workflow, error) {
	var src Source
	if err := store.Get(id.SnapshotRef(hash), &src); err != nil {
		return Workflow{}, err
	}
	return Workflow{WorkflowId: src.WorkflowId, Hash: hash, Source: src, Compiled: Compile(src)}, nil
}
