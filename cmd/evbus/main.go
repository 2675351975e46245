package main

import (
	"fmt"
	"os"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/version"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	configFile string
	overrides  []string
)

func init() {
	core.SetDefProp(core.PropAppName, "evbus-cli")
	core.SetDefProp(core.PropLoggingLevel, "warn")
}

func main() {
	if undo, err := maxprocs.Set(); err == nil {
		defer undo()
	}

	rootCmd := &cobra.Command{
		Use:   "evbus",
		Short: "Operator CLI for the RabbitMQ integration event bus",
		Long: `evbus publishes integration events to the bus exchange and dumps deliveries of a queue.
Connection settings are read from the config file, environment variables and --set overrides.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (e.g. conf.yml)")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "Override config prop, KEY=VALUE (e.g. rabbitmq.host=mq.local)")

	rootCmd.AddCommand(
		newPublishCmd(),
		newListenCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if configFile != "" {
		if err := core.LoadConfigFromFile(configFile); err != nil {
			return err
		}
	}
	core.OverwriteConf(overrides)

	rail := core.EmptyRail()
	if err := core.ConfigureLogging(rail); err != nil {
		return err
	}
	core.LoadPropagationKeys(rail)
	return nil
}
