package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the daemon's debug dump of its forwards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := a.client.DumpState(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), state)
			return nil
		},
	}
}
