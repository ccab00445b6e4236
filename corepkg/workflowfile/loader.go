package workflowfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/snapshotstore"
)

// ErrWorkflowNotFound is returned by Loader.FetchById when no source
// file in the watched directory carries the requested workflowId —
// the port's "| NotFound" branch.
var ErrWorkflowNotFound = fmt.Errorf("workflowfile: workflow not found")

// Loader is the WorkflowProvider port's concrete adapter: it watches a
// directory of YAML workflow sources, keeps each one compiled and
// pinned into a snapshotstore.Store rooted at `<data>/workflows/`, and
// resolves fetchById by workflowId against the most recently pinned
// hash. Grounded on vinayprograms-agent's pager.go RunLive/watchFile
// debounced fsnotify loop, adapted from a TUI redraw trigger into a
// recompile-and-repin trigger.
type Loader struct {
	dir   string
	store *snapshotstore.Store

	mu      sync.RWMutex
	byID    map[string]Workflow
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader constructs a Loader watching dir and pinning compiled
// workflows into store. It performs one synchronous full scan before
// returning, so FetchById is usable immediately without waiting on the
// watch goroutine.
func NewLoader(dir string, store *snapshotstore.Store) (*Loader, error) {
	l := &Loader{dir: dir, store: store, byID: make(map[string]Workflow)}
	if err := l.scan(); err != nil {
		return nil, err
	}
	return l, nil
}

// FetchById implements WorkflowProvider.fetchById(workflowId) -> Workflow | NotFound.
func (l *Loader) FetchById(workflowID string) (Workflow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	wf, ok := l.byID[workflowID]
	if !ok {
		return Workflow{}, ErrWorkflowNotFound
	}
	return wf, nil
}

// FetchByHash resolves the exact pinned compiled form a run was
// started against, even if the source file has since changed and
// FetchById would now resolve to a different hash — a run always
// keeps routing against the workflow it was started with.
func (l *Loader) FetchByHash(hash id.WorkflowHash) (Workflow, error) {
	return Resolve(l.store, hash)
}

// EnsurePinned pins src into the loader's workflow store if it is not
// already present, used by session import to re-materialize a
// bundled workflow the importing instance never had on disk.
func (l *Loader) EnsurePinned(src Source) (id.WorkflowHash, error) {
	return Pin(l.store, src)
}

// scan reads every *.yaml/*.yml file in dir, recompiles and re-pins
// it, and replaces the in-memory index wholesale. A single bad file
// fails the whole scan rather than serving a half-updated index, since
// a hot-reload race should never silently drop a workflow that was
// previously resolvable.
func (l *Loader) scan() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("workflowfile: read dir %s: %w", l.dir, err)
	}

	next := make(map[string]Workflow, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		src, err := LoadSourceFile(filepath.Join(l.dir, name))
		if err != nil {
			return err
		}
		hash, err := Pin(l.store, src)
		if err != nil {
			return fmt.Errorf("workflowfile: pin %s: %w", name, err)
		}
		next[src.WorkflowId] = Workflow{WorkflowId: src.WorkflowId, Hash: hash, Source: src, Compiled: Compile(src)}
	}

	l.mu.Lock()
	l.byID = next
	l.mu.Unlock()
	return nil
}

// Watch starts the fsnotify loop that rescans dir on write/create/
// remove/rename events, debounced by 100ms to let a writer's full write settle
// before reading it back (the same debounce vinayprograms-agent's
// watchFile uses). It blocks until stop is closed or the watcher
// errors out; callers run it in its own goroutine.
func (l *Loader) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("workflowfile: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("workflowfile: watch %s: %w", l.dir, err)
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			time.Sleep(100 * time.Millisecond)
			if err := l.scan(); err != nil {
				continue
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
