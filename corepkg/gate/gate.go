// Package gate implements the per-session process-wide lock of
// spec.md §3.7/§5: within one process, each session directory is
// exclusively owned by at most one lock holder at a time, for the
// duration of exactly one append (read-validate-write-attest).
// Grounded on the teacher's in-process synchronization idiom
// (graph/engine.go's e.mu sync.RWMutex guarding engine state), plus the
// on-disk `lock` file spec.md §4.2 names. Exclusion is in-process only:
// Acquire creates the lock file and writes the holder's pid into it but
// takes no OS-level lock on it, so two processes sharing one data
// directory are not kept from appending to the same session at once.
package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/id"
)

// Gate owns the in-process registry of per-session locks for one data
// root. A process only ever needs one Gate.
type Gate struct {
	dataDir string

	mu      sync.Mutex
	holders map[id.SessionId]*sync.Mutex
}

// New constructs a Gate rooted at dataDir (the `<data>` prefix of
// spec.md §4.2's on-disk layout).
func New(dataDir string) *Gate {
	return &Gate{dataDir: dataDir, holders: make(map[id.SessionId]*sync.Mutex)}
}

func (g *Gate) sessionMutex(sid id.SessionId) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.holders[sid]
	if !ok {
		m = &sync.Mutex{}
		g.holders[sid] = m
	}
	return m
}

func (g *Gate) lockFilePath(sid id.SessionId) string {
	return filepath.Join(g.dataDir, "sessions", string(sid), "lock")
}

// Witness is returned by Acquire; it wraps the per-session mutex and
// advisory lock file and asserts isHeld before forwarding any
// operation to the store, so misuse after Release is an
// invariant_violation rather than a silent bug.
type Witness struct {
	gate *Gate
	sid  id.SessionId
	mu   *sync.Mutex
	file *os.File
	held bool
}

// Acquire takes the per-session lock, blocking until available, then
// creates the advisory on-disk lock file. The returned Witness must be
// released via Release exactly once.
func (g *Gate) Acquire(sid id.SessionId) (*Witness, error) {
	mu := g.sessionMutex(sid)
	mu.Lock()

	path := g.lockFilePath(sid)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		mu.Unlock()
		return nil, apperr.NewSessionStoreIOError("mkdir", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		mu.Unlock()
		return nil, apperr.NewSessionStoreIOError("open", path, err)
	}
	fmt.Fprintf(f, "pid=%d\n", os.Getpid())

	return &Witness{gate: g, sid: sid, mu: mu, file: f, held: true}, nil
}

// IsHeld reports whether the witness still owns its lock.
func (w *Witness) IsHeld() bool {
	return w != nil && w.held
}

// MustBeHeld returns an invariant_violation error (witness used after
// release) unless the witness still owns its lock; it never panics.
// Callers that need a hard assertion inside a method chain use this
// to get a typed error instead of silently proceeding unlocked.
func (w *Witness) MustBeHeld() error {
	if !w.IsHeld() {
		return apperr.NewInvariantViolation(apperr.InvariantWitnessUsedAfterRelease, "session gate witness used after release")
	}
	return nil
}

// Release closes the advisory lock file and releases the in-process
// mutex. Safe to call once; a second call is a no-op returning nil
// (Release itself does not need the invariant_violation guard since
// double-release is a common defer pattern, unlike using a released
// witness to perform store I/O).
func (w *Witness) Release() error {
	if !w.held {
		return nil
	}
	w.held = false
	err := w.file.Close()
	w.mu.Unlock()
	if err != nil {
		return apperr.NewSessionStoreIOError("close", w.file.Name(), err)
	}
	return nil
}
