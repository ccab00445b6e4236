package workflowfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durableflow/engine/corepkg/snapshotstore"
)

const sampleYAML = `
workflowId: greet_and_summarize
steps:
  - stepId: greet
    next: summarize
  - stepId: summarize
    branches:
      - key: mood
        equals: happy
        next: celebrate
    next: wrap_up
  - stepId: celebrate
  - stepId: wrap_up
`

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSourceFile_ParsesStepsAndBranches(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "wf.yaml", sampleYAML)

	src, err := LoadSourceFile(path)
	require.NoError(t, err)
	assert.Equal(t, "greet_and_summarize", src.WorkflowId)
	require.Len(t, src.Steps, 4)
	assert.Equal(t, "summarize", src.Steps[0].Next)
	require.Len(t, src.Steps[1].Branches, 1)
	assert.Equal(t, "celebrate", src.Steps[1].Branches[0].Next)
}

func TestLoadSourceFile_RejectsMissingWorkflowId(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "bad.yaml", "steps:\n  - stepId: a\n")

	_, err := LoadSourceFile(path)
	assert.Error(t, err)
}

func TestLoadSourceFile_RejectsNoSteps(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "bad.yaml", "workflowId: empty\nsteps: []\n")

	_, err := LoadSourceFile(path)
	assert.Error(t, err)
}

func TestCompile_RouteNextFollowsPlainNext(t *testing.T) {
	src, err := LoadSourceFile(writeSource(t, t.TempDir(), "wf.yaml", sampleYAML))
	require.NoError(t, err)
	compiled := Compile(src)

	next, trace := compiled.RouteNext("greet", nil, nil, nil)
	require.NotNil(t, next)
	assert.Equal(t, "summarize", next.StepId)
	assert.Empty(t, trace)
}

func TestCompile_RouteNextFollowsMatchingBranch(t *testing.T) {
	src, err := LoadSourceFile(writeSource(t, t.TempDir(), "wf.yaml", sampleYAML))
	require.NoError(t, err)
	compiled := Compile(src)

	next, trace := compiled.RouteNext("summarize", nil, map[string]any{"mood": "happy"}, nil)
	require.NotNil(t, next)
	assert.Equal(t, "celebrate", next.StepId)
	require.Len(t, trace, 1)
}

func TestCompile_RouteNextFallsBackWhenNoBranchMatches(t *testing.T) {
	src, err := LoadSourceFile(writeSource(t, t.TempDir(), "wf.yaml", sampleYAML))
	require.NoError(t, err)
	compiled := Compile(src)

	next, trace := compiled.RouteNext("summarize", nil, map[string]any{"mood": "sad"}, nil)
	require.NotNil(t, next)
	assert.Equal(t, "wrap_up", next.StepId)
	assert.Empty(t, trace)
}

func TestCompile_RouteNextCompletesAtTerminalStep(t *testing.T) {
	src, err := LoadSourceFile(writeSource(t, t.TempDir(), "wf.yaml", sampleYAML))
	require.NoError(t, err)
	compiled := Compile(src)

	next, _ := compiled.RouteNext("celebrate", nil, nil, nil)
	assert.Nil(t, next)
}

func TestCompile_RouteNextUnknownStepCompletesWithTrace(t *testing.T) {
	src, err := LoadSourceFile(writeSource(t, t.TempDir(), "wf.yaml", sampleYAML))
	require.NoError(t, err)
	compiled := Compile(src)

	next, trace := compiled.RouteNext("does_not_exist", nil, nil, nil)
	assert.Nil(t, next)
	require.Len(t, trace, 1)
}

func TestPinAndResolve_RoundTrip(t *testing.T) {
	src, err := LoadSourceFile(writeSource(t, t.TempDir(), "wf.yaml", sampleYAML))
	require.NoError(t, err)

	store, err := snapshotstore.New(t.TempDir())
	require.NoError(t, err)

	hash, err := Pin(store, src)
	require.NoError(t, err)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, string(hash))

	wf, err := Resolve(store, hash)
	require.NoError(t, err)
	assert.Equal(t, "greet_and_summarize", wf.WorkflowId)
	assert.NotNil(t, wf.Compiled)
}

func TestPin_SameSourceIsNoOp(t *testing.T) {
	src, err := LoadSourceFile(writeSource(t, t.TempDir(), "wf.yaml", sampleYAML))
	require.NoError(t, err)

	store, err := snapshotstore.New(t.TempDir())
	require.NoError(t, err)

	h1, err := Pin(store, src)
	require.NoError(t, err)
	h2, err := Pin(store, src)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestNewLoader_ScansAndResolvesByWorkflowId(t *testing.T) {
	srcDir := t.TempDir()
	writeSource(t, srcDir, "greet.yaml", sampleYAML)

	store, err := snapshotstore.New(t.TempDir())
	require.NoError(t, err)

	loader, err := NewLoader(srcDir, store)
	require.NoError(t, err)

	wf, err := loader.FetchById("greet_and_summarize")
	require.NoError(t, err)
	assert.Equal(t, "greet_and_summarize", wf.WorkflowId)
}

func TestLoader_FetchById_NotFound(t *testing.T) {
	srcDir := t.TempDir()
	store, err := snapshotstore.New(t.TempDir())
	require.NoError(t, err)

	loader, err := NewLoader(srcDir, store)
	require.NoError(t, err)

	_, err = loader.FetchById("nope")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestLoader_Watch_RepinsOnFileChange(t *testing.T) {
	srcDir := t.TempDir()
	writeSource(t, srcDir, "greet.yaml", sampleYAML)

	store, err := snapshotstore.New(t.TempDir())
	require.NoError(t, err)

	loader, err := NewLoader(srcDir, store)
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- loader.Watch(stop) }()
	defer func() {
		close(stop)
		<-done
	}()

	writeSource(t, srcDir, "wave.yaml", "workflowId: wave\nsteps:\n  - stepId: wave\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := loader.FetchById("wave"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("loader did not pick up new workflow file within deadline")
}
