package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/astromechza/canvas-sync/pkg/config"
	"github.com/astromechza/canvas-sync/pkg/logx"
	"github.com/astromechza/canvas-sync/pkg/replica"
	"github.com/astromechza/canvas-sync/pkg/syncclient"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Host       string
	Secure     bool
	Verbose    bool

	cfg *config.Config
}

// ClientOptions resolves the relay address from config and flags.
func (o *RootOptions) ClientOptions() syncclient.Options {
	opts := syncclient.OptionsFromConfig(o.cfg.Client)
	if o.Host != "" {
		opts.Host = o.Host
	}
	if o.Secure {
		opts.Secure = true
	}
	return opts
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "canvas",
		Short:         "Work with canvas rooms on a relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.Verbose {
				cfg.Logging.Level = "debug"
			}
			if err := logx.Init(logx.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a yaml config file (default $CANVAS_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Host, "host", "", "relay host[:port], overrides client.host")
	cmd.PersistentFlags().BoolVar(&opts.Secure, "secure", false, "use wss/https")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewRenderCommand(opts))

	return cmd
}

func loadReplica(path string) (*replica.Replica, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	rep, err := replica.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return rep, nil
}
