package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/durableflow/engine/corepkg/advance"
	"github.com/durableflow/engine/corepkg/coreapi"
	"github.com/durableflow/engine/corepkg/id"
)

func newContinueCommand(rootOpts *RootOptions) *cobra.Command {
	var ackToken, stateToken, sessionID, contextJSON, notes, artifactsJSON, autonomy, riskPolicy string

	cmd := &cobra.Command{
		Use:           "continue",
		Short:         "Acknowledge the pending step and advance, or rehydrate a session read-only",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctxObj, err := parseContextJSON(contextJSON)
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			artifacts, err := parseArtifactsJSON(artifactsJSON)
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}

			api, err := buildAPI(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize engine", err)
			}

			result, err := api.ContinueWorkflow(context.Background(), coreapi.ContinueWorkflowRequest{
				AckToken:      ackToken,
				StateToken:    stateToken,
				SessionId:     id.SessionId(sessionID),
				Context:       ctxObj,
				NotesMarkdown: notes,
				Artifacts:     artifacts,
				Autonomy:      autonomy,
				RiskPolicy:    riskPolicy,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "continueWorkflow failed", err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if result.Blocked {
				text := fmt.Sprintf("blocked: %d blocker(s), stateToken: %s", len(result.BlockerReport.Blockers), result.StateToken)
				_ = formatter.Success(result, text)
				return NewExitError(ExitBlocked, "workflow is blocked")
			}
			if result.IsComplete {
				return formatter.Success(result, fmt.Sprintf("run complete, stateToken: %s", result.StateToken))
			}
			text := fmt.Sprintf("pending step %q\n  ackToken: %s\n  stateToken: %s\n  checkpointToken: %s",
				pendingStepId(result.Pending), result.AckToken, result.StateToken, result.CheckpointToken)
			return formatter.Success(result, text)
		},
	}

	cmd.Flags().StringVar(&ackToken, "ack-token", "", "ackToken acknowledging a pending step (mutates)")
	cmd.Flags().StringVar(&stateToken, "state-token", "", "stateToken pinning a specific node to rehydrate (read-only)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "sessionId to rehydrate from its preferred tip (read-only)")
	cmd.Flags().StringVar(&contextJSON, "context-json", "{}", "context to merge in, as a JSON object")
	cmd.Flags().StringVar(&notes, "notes", "", "notes markdown describing what was done")
	cmd.Flags().StringVar(&artifactsJSON, "artifacts-json", "[]", `artifacts as a JSON array of {"contentType","content"}`)
	cmd.Flags().StringVar(&autonomy, "autonomy", "guided", "autonomy level (guided|full_auto_stop_on_user_deps|full_auto_never_stop)")
	cmd.Flags().StringVar(&riskPolicy, "risk-policy", "conservative", "risk policy (conservative|balanced|aggressive)")
	return cmd
}

func parseArtifactsJSON(raw string) ([]advance.Artifact, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var entries []struct {
		ContentType string `json:"contentType"`
		Content     any    `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("invalid artifacts JSON array: %w", err)
	}
	artifacts := make([]advance.Artifact, len(entries))
	for i, e := range entries {
		artifacts[i] = advance.Artifact{ContentType: e.ContentType, Content: e.Content}
	}
	return artifacts, nil
}
