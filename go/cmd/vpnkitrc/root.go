package main

import (
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc"
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc/config"
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app is shared by the subcommands. The client is created once the flags
// have been parsed.
type app struct {
	v          *viper.Viper
	configFile string
	client     vpnkitrc.Client
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	cmd := &cobra.Command{
		Use:   "vpnkitrc",
		Short: "Manipulate the port forwards of a running vpnkit",
		Long: `vpnkitrc talks to the port forwarding API of vpnkit over its control
socket to list, expose and unexpose TCP, UDP and Unix socket forwards.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	flags := cmd.PersistentFlags()
	flags.String(config.SocketKey, "", "path to vpnkit's port forwarding socket (default "+config.DefaultSocketPath()+")")
	flags.String(config.LogLevelKey, "info", "log output level (error, warn, info, debug)")
	flags.StringVar(&a.configFile, "config", "", "config file (default searches for vpnkitrc.yaml)")
	a.v.BindPFlag(config.SocketKey, flags.Lookup(config.SocketKey))
	a.v.BindPFlag(config.LogLevelKey, flags.Lookup(config.LogLevelKey))

	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newDumpCmd(a))
	cmd.AddCommand(newExposeCmd(a))
	cmd.AddCommand(newUnexposeCmd(a))
	cmd.AddCommand(newCheckCmd(a))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (a *app) init() error {
	if err := config.ReadFile(a.v, a.configFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)
	log.Debugf("using control socket %s", cfg.Socket)
	a.client, err = vpnkitrc.NewClient(cfg.Socket)
	return err
}
