package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/projection"
	"github.com/durableflow/engine/corepkg/statemachine"
)

type showResult struct {
	SessionId     string   `json:"sessionId"`
	PreferredTip  string   `json:"preferredTip,omitempty"`
	Phase         string   `json:"phase,omitempty"`
	PendingStepId string   `json:"pendingStepId,omitempty"`
	NodeCount     int      `json:"nodeCount"`
	Gaps          []string `json:"gaps,omitempty"`
}

// newShowCommand implements SPEC_FULL.md's D.4: a read-only replay of
// a session's validated prefix through the projection layer, printing
// its DAG shape, preferred tip, pending step and any recorded gaps —
// it never acquires the gate and never appends.
func newShowCommand(rootOpts *RootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Replay a session's validated prefix and print its projection",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return NewExitError(ExitCommandError, "--session-id is required")
			}
			return runShow(rootOpts, id.SessionId(sessionID), cmd)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session to inspect (required)")
	return cmd
}

func runShow(rootOpts *RootOptions, sessionID id.SessionId, cmd *cobra.Command) error {
	api, err := buildAPI(rootOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize engine", err)
	}

	prefix, err := api.Sessions.LoadValidatedPrefix(sessionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load session", err)
	}
	if len(prefix.Loaded.Events) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("session %s not found", sessionID))
	}

	dag := projection.BuildDAG(prefix.Loaded.Events)
	gaps, err := projection.BuildGaps(prefix.Loaded.Events)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode gaps", err)
	}

	result := showResult{SessionId: string(sessionID), NodeCount: len(dag.Nodes)}
	for _, g := range gaps {
		result.Gaps = append(result.Gaps, fmt.Sprintf("%s:%s", g.Gap.Reason.Kind, g.Gap.Severity))
	}

	if tip, ok := dag.PreferredTip(); ok {
		result.PreferredTip = string(tip)
		var state statemachine.State
		if err := api.Snapshots.Get(dag.Nodes[tip].SnapshotRef, &state); err == nil {
			result.Phase = string(state.Phase)
			if pending := statemachine.DerivePendingStep(state); pending != nil {
				result.PendingStepId = pending.StepId
			}
		}
	}
	if !prefix.IsComplete {
		result.Gaps = append(result.Gaps, fmt.Sprintf("tail_not_validated:%s", prefix.TailReason))
	}

	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	text := fmt.Sprintf("session %s: %d node(s), tip=%s phase=%s pending=%s gaps=%v",
		result.SessionId, result.NodeCount, result.PreferredTip, result.Phase, result.PendingStepId, result.Gaps)
	return formatter.Success(result, text)
}
