package main

import (
	"github.com/spf13/cobra"

	"github.com/bjaus/lessweb/config"
)

// rootFlags are the flags shared by every subcommand.
type rootFlags struct {
	configPath string
	envPrefix  string
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(f.configPath, config.WithEnvPrefix(f.envPrefix))
}

// newRootCmd builds the petstore command tree.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "petstore",
		Short: "Run the lessweb pet store",
		Long: `petstore serves a small pet adoption API built on lessweb.
Configuration is read from a TOML or YAML file and overridden by
environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a TOML or YAML config file")
	cmd.PersistentFlags().StringVar(&flags.envPrefix, "env-prefix", "PETSTORE", "prefix for environment overrides")

	cmd.AddCommand(newServeCmd(flags), newRoutesCmd(flags))
	return cmd
}
