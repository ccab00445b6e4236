package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/durableflow/engine/corepkg/coreapi"
	"github.com/durableflow/engine/corepkg/statemachine"
)

func newStartCommand(rootOpts *RootOptions) *cobra.Command {
	var workflowID, contextJSON string

	cmd := &cobra.Command{
		Use:           "start",
		Short:         "Start a new workflow session",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflowID == "" {
				return NewExitError(ExitCommandError, "--workflow-id is required")
			}
			initialContext, err := parseContextJSON(contextJSON)
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}

			api, err := buildAPI(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize engine", err)
			}

			result, err := api.StartWorkflow(coreapi.StartWorkflowRequest{
				WorkflowId:     workflowID,
				InitialContext: initialContext,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "startWorkflow failed", err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			text := fmt.Sprintf("started session %s, pending step %q\n  ackToken: %s\n  stateToken: %s\n  checkpointToken: %s",
				result.SessionId, pendingStepId(result.Pending), result.AckToken, result.StateToken, result.CheckpointToken)
			return formatter.Success(result, text)
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "workflowId to start (required)")
	cmd.Flags().StringVar(&contextJSON, "context-json", "{}", "initial context as a JSON object")
	return cmd
}

func parseContextJSON(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return m, nil
}

func pendingStepId(p *statemachine.PendingStep) string {
	if p == nil {
		return ""
	}
	return p.StepId
}
