package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RichardKnop/braze/internal/database"
	"github.com/RichardKnop/braze/internal/protocol"
	"github.com/RichardKnop/braze/internal/stmt"
)

var (
	execDBDriver string
	execDBDSN    string
	execDialect  string
	execName     string
	execParams   []string
	execDynamic  []string
	execOutputs  []string
)

var execCmd = &cobra.Command{
	Use:   "exec [sql]",
	Short: "Execute one statement against a database directly",
	Long: `Binds the given parameters, rewrites the statement for the database's
dialect and executes it. Read statements print their rows as a table.

Example:
  braze exec --db-driver sqlite --db-dsn ./braze.db --param id=1 \
    --output id:int64 --output name:string "SELECT id, name FROM users WHERE id = :id"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execDBDriver, "db-driver", "", "database driver: postgres or sqlite")
	execCmd.Flags().StringVar(&execDBDSN, "db-dsn", "", "database connection string")
	execCmd.Flags().StringVar(&execDialect, "dialect", "", "placeholder dialect, defaults to the driver's")
	execCmd.Flags().StringVarP(&execName, "name", "n", "", "statement name")
	execCmd.Flags().StringArrayVarP(&execParams, "param", "p", nil, "input binding name[:type]=value, repeatable")
	execCmd.Flags().StringArrayVar(&execDynamic, "dynamic", nil, "replace the [name] marker, name=value, repeatable")
	execCmd.Flags().StringArrayVarP(&execOutputs, "output", "o", nil, "output binding name[:type], repeatable")
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sql, err := readSQL(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	s, err := newStatement(execName, sql, execParams, execDynamic, execOutputs)
	if err != nil {
		return err
	}

	conn, err := openDatabase(ctx, dbOverrides{driver: execDBDriver, dsn: execDBDSN, dialect: execDialect})
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("no database configured: set database.driver or --db-driver")
	}
	defer conn.Close()

	result, err := conn.Execute(ctx, s)
	if err != nil {
		return err
	}
	printResult(cmd, result)
	return nil
}

func printResult(cmd *cobra.Command, result *database.Result) {
	out := cmd.OutOrStdout()
	if len(result.Columns) > 0 {
		protocol.PrintTable(out, result.Columns, result.Rows)
	}
	if result.Kind != stmt.Read && result.RowsAffected > 0 {
		fmt.Fprintf(out, "Rows affected: %d\n", result.RowsAffected)
	}
}
