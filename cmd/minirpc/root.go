package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"oneshot-rpc/config"
	"oneshot-rpc/logging"
)

type ctxKey string

const configKey ctxKey = "config"

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	var cfgPath string
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "minirpc",
		Short:         "One request, one response, one connection RPC over TCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{"host", "port", "codec"} {
				if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
					return fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
			cfg, err := config.Load(v, cfgPath)
			if err != nil {
				return err
			}
			level, _ := logging.ParseLevel(cfg.Log.Level)
			logging.Configure(logging.Config{
				Level:     level,
				Console:   cfg.Log.Console,
				Timestamp: true,
				Out:       cmd.ErrOrStderr(),
			})
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (toml|yaml)")
	flags.String("host", "", "destination host")
	flags.Int("port", 0, "destination or listen port")
	flags.String("codec", "", "payload serializer: json, binary or proto")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCallCmd())
	cmd.AddCommand(newConfigCmd())

	cmd.Run = func(cmd *cobra.Command, args []string) { _ = cmd.Help() }

	return cmd
}

var errConfigNotLoaded = errors.New("internal error: config not loaded")

func getConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok {
		return nil, errConfigNotLoaded
	}
	return cfg, nil
}
