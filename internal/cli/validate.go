package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/voltlab/banksia/internal/definition"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <procedures-dir>",
		Short: "Validate test procedure definitions",
		Long: `Validate every test procedure definition in a directory.

Each document is checked against the procedure schema, decoded strictly,
and cross-checked for step references. Nothing is executed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	procs, err := definition.LoadDir(dir)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "✗ Validation failed\n\n  %v\n", err)
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	names := make([]string, 0, len(procs))
	for name := range procs {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d test procedure(s) valid\n", len(names))
	if opts.Verbose {
		for _, name := range names {
			proc := procs[name]
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d step(s) [%s]\n",
				name, len(proc.Steps), proc.Category)
		}
	}
	return nil
}
