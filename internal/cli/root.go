package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the banksia CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "banksia",
		Short: "banksia - CSIP-AUS conformance test harness",
		Long: "A conformance-test harness for CSIP-AUS/IEEE 2030.5 clients. It proxies\n" +
			"client traffic to a utility server while executing scripted test\n" +
			"procedures against the observed requests.",
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}
