package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/dbexec/internal/db"
	"github.com/oriys/dbexec/internal/dbexec"
)

func queryCmd() *cobra.Command {
	var (
		connectionName string
		params         []string
		rf             resilienceFlags
	)

	cmd := &cobra.Command{
		Use:   "query <command-text>",
		Short: "Run a query and print every row, tab-separated",
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

			seq, err := dbexec.Query[[]string](context.Background(), reg.Client, def, projectRow)
			if err != nil {
				return err
			}
			for row, rowErr := range seq {
				if rowErr != nil {
					return rowErr
				}
				fmt.Println(strings.Join(row, "\t"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&connectionName, "connection", "", "logical connection name (blank uses the default)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "bind a parameter as name=value (repeatable)")
	addResilienceFlags(cmd, &rf)
	return cmd
}

// projectRow renders the current row as a slice of printable strings,
// scanning into interface{} destinations so the projector works against
// any column type the driver returns.
func projectRow(rows db.Rows) ([]string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = formatCell(v)
	}
	return out, nil
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
