package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/durableflow/engine/corepkg/bundle"
	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/coreapi"
)

func newImportCommand(rootOpts *RootOptions) *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:           "import",
		Short:         "Import a bundle file as a new session",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				return NewExitError(ExitCommandError, "--in is required")
			}

			raw, err := os.ReadFile(in)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", in), err)
			}
			var b bundle.Bundle
			if err := canonjson.UnmarshalInto(raw, &b); err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse bundle %s", in), err)
			}

			api, err := buildAPI(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize engine", err)
			}

			result, err := api.ImportSession(coreapi.ImportSessionRequest{Bundle: b})
			if err != nil {
				return WrapExitError(ExitCommandError, "importSession failed", err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return formatter.Success(result, fmt.Sprintf("imported as new session %s", result.SessionId))
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "path to the bundle file to import (required)")
	return cmd
}
