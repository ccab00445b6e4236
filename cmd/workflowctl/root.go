package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds the flags every subcommand shares: where durable
// state lives and how to render output. Grounded on the teacher's
// internal/cli RootOptions (Verbose/Format), extended with the
// data-dir/workflows-dir pair this engine's stores need.
type RootOptions struct {
	DataDir          string
	WorkflowsDir     string
	Format           string
	ValidationEngine string
	ValidationModel  string
}

var validFormats = []string{"text", "json"}

// NewRootCommand builds the workflowctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "workflowctl",
		Short: "Durable AI-agent workflow engine CLI",
		Long:  "workflowctl is a thin caller of the engine's Core API: startWorkflow, continueWorkflow, checkpointWorkflow, exportSession and importSession.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid --format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "./workflowctl-data", "directory for session/snapshot/workflow stores")
	cmd.PersistentFlags().StringVar(&opts.WorkflowsDir, "workflows-dir", "./workflows", "directory of YAML workflow sources")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.ValidationEngine, "validation-engine", "none", "validation backend (none|anthropic|openai|gemini)")
	cmd.PersistentFlags().StringVar(&opts.ValidationModel, "validation-model", "", "model name for the chosen validation backend")

	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newContinueCommand(opts))
	cmd.AddCommand(newCheckpointCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newShowCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}
