package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/coreapi"
	"github.com/durableflow/engine/corepkg/id"
)

func newExportCommand(rootOpts *RootOptions) *cobra.Command {
	var sessionID, out, appVersion, bundleID, exportedAt string

	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Export a session to a self-verifying bundle file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" || out == "" || bundleID == "" || exportedAt == "" {
				return NewExitError(ExitCommandError, "--session-id, --out, --bundle-id and --exported-at are required")
			}

			api, err := buildAPI(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize engine", err)
			}

			result, err := api.ExportSession(coreapi.ExportSessionRequest{
				SessionId:         id.SessionId(sessionID),
				AppVersion:        appVersion,
				AppliedConfigHash: "",
				BundleId:          bundleID,
				ExportedAt:        exportedAt,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "exportSession failed", err)
			}

			raw, err := canonjson.Marshal(result.Bundle)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to serialize bundle", err)
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to write %s", out), err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return formatter.Success(result.Bundle, fmt.Sprintf("exported session %s to %s (%d bytes)", sessionID, out, len(raw)))
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session to export (required)")
	cmd.Flags().StringVar(&out, "out", "", "path to write the bundle file (required)")
	cmd.Flags().StringVar(&appVersion, "app-version", "", "producer appVersion recorded in the bundle")
	cmd.Flags().StringVar(&bundleID, "bundle-id", "", "bundleId to stamp on the export (required)")
	cmd.Flags().StringVar(&exportedAt, "exported-at", "", "exportedAt timestamp to stamp on the export (required)")
	return cmd
}
