package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/durableflow/engine/corepkg/coreapi"
)

func newCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	var checkpointToken string

	cmd := &cobra.Command{
		Use:           "checkpoint",
		Short:         "Pin a checkpoint node at a session's current tip",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkpointToken == "" {
				return NewExitError(ExitCommandError, "--checkpoint-token is required")
			}

			api, err := buildAPI(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize engine", err)
			}

			result, err := api.CheckpointWorkflow(coreapi.CheckpointWorkflowRequest{CheckpointToken: checkpointToken})
			if err != nil {
				return WrapExitError(ExitCommandError, "checkpointWorkflow failed", err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return formatter.Success(result, fmt.Sprintf("checkpointed, stateToken: %s", result.StateToken))
		},
	}

	cmd.Flags().StringVar(&checkpointToken, "checkpoint-token", "", "checkpointToken from a prior start/continue (required)")
	return cmd
}
