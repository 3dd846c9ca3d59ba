package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alexandrut83/sentinel/config"
	"github.com/alexandrut83/sentinel/sentinel"
)

// options are shared by every subcommand
type options struct {
	configFile string
	v          *viper.Viper
}

// load reads the config file, environment and flags into a validated Config
func (o *options) load() (*config.Config, error) {
	return config.Load(o.v, o.configFile)
}

func newRootCommand() *cobra.Command {
	opts := &options{v: config.New()}

	root := &cobra.Command{
		Use:           "sentineld",
		Short:         fmt.Sprintf("%s network sentinel: scans for hot-listed identifiers and earns rewards", sentinel.NetworkName),
		Version:       sentinel.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to sentinel.yaml")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "auto", "Log format (auto, json, console)")
	opts.v.BindPFlag("log.level", flags.Lookup("log-level"))
	opts.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(
		newServeCommand(opts),
		newCheckCommand(opts),
		newAuthorityCommand(opts),
		newVersionCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
