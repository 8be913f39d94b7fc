package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check SPEC",
		Short: "Expose and unexpose a forward, checking the daemon lists it in between",
		Long:  "Expose and unexpose a forward, checking the daemon lists it in between. " + specHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := vpnkitrc.ParseRule(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ok := color.New(color.FgGreen).SprintFunc()
			failed := color.New(color.FgRed).SprintFunc()
			if err := a.check(cmd.Context(), r); err != nil {
				fmt.Fprintf(out, "%s %s: %v\n", failed("FAIL"), r, err)
				return err
			}
			fmt.Fprintf(out, "%s %s\n", ok("OK"), r)
			return nil
		},
	}
}

func (a *app) check(ctx context.Context, r vpnkitrc.Rule) error {
	if err := a.expose(ctx, r); err != nil {
		return err
	}
	listed, err := a.listed(ctx, r)
	if err != nil {
		return err
	}
	if !listed {
		// leave nothing behind
		_ = a.unexpose(ctx, r)
		return errors.Errorf("%s is not listed after expose", r)
	}
	if err := a.unexpose(ctx, r); err != nil {
		return err
	}
	if listed, err = a.listed(ctx, r); err != nil {
		return err
	}
	if listed {
		return errors.Errorf("%s is still listed after unexpose", r)
	}
	return nil
}

func (a *app) listed(ctx context.Context, r vpnkitrc.Rule) (bool, error) {
	rules, err := a.client.List(ctx)
	if err != nil {
		return false, err
	}
	for _, l := range rules {
		if l.Equal(r) {
			return true, nil
		}
	}
	return false, nil
}
