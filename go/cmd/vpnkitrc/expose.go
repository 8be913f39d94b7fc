package main

import (
	"context"
	"fmt"

	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const specHelp = `Each SPEC is proto:inIP:inPort:proto:outIP:outPort for a TCP or UDP
forward, for example tcp:127.0.0.1:8080:tcp:0.0.0.0:80, or
unix:inPath:unix:outPath for a Unix socket forward. IPv6 addresses are
written in brackets.`

func newExposeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expose SPEC...",
		Short: "Add forwards",
		Long:  "Add forwards. " + specHelp,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := parseRules(args)
			if err != nil {
				return err
			}
			if err := forEach(cmd.Context(), rules, a.expose); err != nil {
				return err
			}
			for _, r := range rules {
				fmt.Fprintf(cmd.OutOrStdout(), "exposed %s\n", r)
			}
			return nil
		},
	}
}

func newUnexposeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unexpose SPEC...",
		Short: "Remove forwards",
		Long:  "Remove forwards. " + specHelp,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := parseRules(args)
			if err != nil {
				return err
			}
			if err := forEach(cmd.Context(), rules, a.unexpose); err != nil {
				return err
			}
			for _, r := range rules {
				fmt.Fprintf(cmd.OutOrStdout(), "unexposed %s\n", r)
			}
			return nil
		},
	}
}

func parseRules(specs []string) ([]vpnkitrc.Rule, error) {
	var rules []vpnkitrc.Rule
	for _, spec := range specs {
		r, err := vpnkitrc.ParseRule(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// forEach calls f on every rule concurrently and returns the first error.
func forEach(ctx context.Context, rules []vpnkitrc.Rule, f func(context.Context, vpnkitrc.Rule) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range rules {
		r := r
		g.Go(func() error {
			return f(ctx, r)
		})
	}
	return g.Wait()
}

// expose sends pipe rules to the pipe endpoint and the rest to the port endpoint.
func (a *app) expose(ctx context.Context, r vpnkitrc.Rule) error {
	var err error
	if r.IsPipe() {
		err = a.client.ExposePipePath(ctx, r)
	} else {
		err = a.client.ExposePort(ctx, r)
	}
	return errors.Wrapf(err, "exposing %s", r)
}

func (a *app) unexpose(ctx context.Context, r vpnkitrc.Rule) error {
	var err error
	if r.IsPipe() {
		err = a.client.UnexposePipePath(ctx, r)
	} else {
		err = a.client.UnexposePort(ctx, r)
	}
	return errors.Wrapf(err, "unexposing %s", r)
}
