package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/dbexec/internal/queryspec"
)

func execCmd() *cobra.Command {
	var (
		connectionName string
		params         []string
		rf             resilienceFlags
	)

	cmd := &cobra.Command{
		Use:   "exec <command-text>",
		Short: "Run a non-query command and print the affected row count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistration(connectionName, rf)
			if err != nil {
				return err
			}
			defer reg.Client.Close()

			def, err := buildDefinition(args[0], connectionName, params)
			if err != nil {
				return err
			}

			affected, err := reg.Client.ExecuteNonQuery(context.Background(), def)
			if err != nil {
				return err
			}
			fmt.Printf("affected rows: %d\n", affected)
			return nil
		},
	}

	cmd.Flags().StringVar(&connectionName, "connection", "", "logical connection name (blank uses the default)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "bind a parameter as name=value (repeatable)")
	addResilienceFlags(cmd, &rf)
	return cmd
}

// buildDefinition parses the --param name=value flags into
// queryspec.Parameter values bound positionally in the given order.
func buildDefinition(commandText, connectionName string, params []string) (queryspec.Definition, error) {
	bound := make([]queryspec.Parameter, 0, len(params))
	for _, p := range params {
		name, value, err := splitParam(p)
		if err != nil {
			return queryspec.Definition{}, err
		}
		bound = append(bound, queryspec.NewParameter(name, value))
	}
	def, err := queryspec.NewText(commandText, bound...)
	if err != nil {
		return queryspec.Definition{}, err
	}
	if connectionName != "" {
		def = def.WithConnectionName(connectionName)
	}
	return def, nil
}

func splitParam(p string) (name, value string, err error) {
	for i := range p {
		if p[i] == '=' {
			return p[:i], p[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid --param %q, expected name=value", p)
}
