package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/dbexec/internal/dbexec"
)

func scalarCmd() *cobra.Command {
	var (
		connectionName string
		params         []string
		rf             resilienceFlags
	)

	cmd := &cobra.Command{
		Use:   "scalar <command-text>",
		Short: "Run a command and print the first column of the first row",
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

			value, err := dbexec.ExecuteScalar[string](context.Background(), reg.Client, def)
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}

	cmd.Flags().StringVar(&connectionName, "connection", "", "logical connection name (blank uses the default)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "bind a parameter as name=value (repeatable)")
	addResilienceFlags(cmd, &rf)
	return cmd
}
