// Package statemachine implements the pure execution state machine of
// spec.md §4.6: init|running|blocked|complete with deterministic
// transitions and trace-bounded advance. Grounded on the teacher's
// graph/engine.go + graph/node.go Run-loop style (NodeResult, Next,
// Route deciding the next node to execute) generalized from a single
// linear run into the spec's four explicit states plus loop-path
// tracking.
package statemachine

import (
	"github.com/durableflow/engine/corepkg/reason"
)

// Phase is the closed state-machine discriminant.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRunning  Phase = "running"
	PhaseBlocked  Phase = "blocked"
	PhaseComplete Phase = "complete"
)

// LoopFrame names one nested loop iteration a pending step is inside,
// outermost first.
type LoopFrame struct {
	LoopId    string `json:"loopId"`
	Iteration int    `json:"iteration"`
}

// PendingStep is returned by DerivePendingStep for running/blocked
// states.
type PendingStep struct {
	StepId   string      `json:"stepId"`
	LoopPath []LoopFrame `json:"loopPath"`
}

// State is the full execution state carried in a snapshot's
// enginePayload.engineState (spec.md §3.4).
type State struct {
	Phase Phase `json:"phase"`

	// Running fields.
	PendingStep *PendingStep `json:"pendingStep,omitempty"`

	// Blocked fields.
	PrimaryReason *reason.Reason   `json:"primaryReason,omitempty"`
	Blockers      []reason.Blocker `json:"blockers,omitempty"`
	ValidationRef string           `json:"validationRef,omitempty"`
	AttemptId     string           `json:"attemptId,omitempty"`
}

// DerivePendingStep returns the pending step for running/blocked
// states, or nil for init/complete.
func DerivePendingStep(s State) *PendingStep {
	switch s.Phase {
	case PhaseRunning, PhaseBlocked:
		return s.PendingStep
	default:
		return nil
	}
}

// StepCompleted is the pure event applied by ApplyEvent to advance a
// running state toward its next pending step (the next step itself is
// supplied by the caller, since only the compiled workflow knows
// routing — this function only performs the state transition, it does
// not compute routing).
type StepCompleted struct {
	Next *PendingStep
}

// ApplyEvent is pure: it transitions s according to evt without
// consulting anything outside its arguments.
func ApplyEvent(s State, evt StepCompleted) State {
	if evt.Next == nil {
		return State{Phase: PhaseComplete}
	}
	return State{Phase: PhaseRunning, PendingStep: evt.Next}
}

// TraceEntry is one unbounded decision-trace entry as produced by an
// interpreter step; budgeting into the persisted form happens in
// corepkg/trace, not here.
type TraceEntry struct {
	Summary string
	Detail  map[string]any
}

// CompiledWorkflow is the minimal surface Next needs from a pinned,
// compiled workflow: routing from a completed step to its successor,
// or nil if there is none (→ complete).
type CompiledWorkflow interface {
	// RouteNext returns the next pending step after stepID given the
	// merged context and artifacts available for evaluation, or nil if
	// the workflow has no further step (the run completes).
	RouteNext(stepID string, loopPath []LoopFrame, context map[string]any, artifacts []any) (*PendingStep, []TraceEntry)
}

// NextResult is the pure output of Next.
type NextResult struct {
	State State
	Trace []TraceEntry
}

// Next is pure given its arguments: it asks the compiled workflow to
// route from the current pending step and applies the resulting
// transition.
func Next(compiled CompiledWorkflow, current State, mergedContext map[string]any, artifacts []any) NextResult {
	pending := DerivePendingStep(current)
	if pending == nil {
		return NextResult{State: State{Phase: PhaseComplete}}
	}
	next, trace := compiled.RouteNext(pending.StepId, pending.LoopPath, mergedContext, artifacts)
	return NextResult{
		State: ApplyEvent(current, StepCompleted{Next: next}),
		Trace: trace,
	}
}

// Block transitions a running state into blocked, carrying the
// blocking report computed by the advance core.
func Block(pending PendingStep, primary reason.Reason, blockers []reason.Blocker, validationRef, attemptID string) State {
	return State{
		Phase:         PhaseBlocked,
		PendingStep:   &pending,
		PrimaryReason: &primary,
		Blockers:      blockers,
		ValidationRef: validationRef,
		AttemptId:     attemptID,
	}
}
