package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=..."
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of vpnkitrc",
		Args:  cobra.NoArgs,
		// no control socket is needed
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vpnkitrc version %s\n", version)
		},
	}
}
