package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RichardKnop/braze/internal/stmt"
)

var (
	rewriteDialect string
	rewriteName    string
	rewriteParams  []string
	rewriteDynamic []string
	rewriteCheck   bool
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [sql]",
	Short: "Rewrite :name placeholders locally",
	Long: `Rewrites the :name placeholders of a statement into a driver dialect and
prints the result together with the arguments in placeholder order. The
statement is read from stdin when no argument is given.

With --check only the placeholders are listed and checked against --param,
nothing is rewritten.

Example:
  braze rewrite --dialect dollar --param id=5 --param id2=7 \
    "SELECT * FROM t WHERE id = :id AND note = ':fake' -- :also_fake
     AND x = :id2"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRewrite,
}

func init() {
	rewriteCmd.Flags().StringVarP(&rewriteDialect, "dialect", "d", "dollar", "dollar, question, at_name or colon_index")
	rewriteCmd.Flags().StringVarP(&rewriteName, "name", "n", "", "statement name")
	rewriteCmd.Flags().StringArrayVarP(&rewriteParams, "param", "p", nil, "input binding name[:type]=value, repeatable")
	rewriteCmd.Flags().StringArrayVar(&rewriteDynamic, "dynamic", nil, "replace the [name] marker, name=value, repeatable")
	rewriteCmd.Flags().BoolVar(&rewriteCheck, "check", false, "only list placeholders and report unbound ones")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	sql, err := readSQL(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	s, err := newStatement(rewriteName, sql, rewriteParams, rewriteDynamic, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if rewriteCheck {
		return checkPlaceholders(out, s)
	}

	d, err := stmt.ParseDialect(rewriteDialect)
	if err != nil {
		return err
	}

	bound, err := stmt.Bind(s, d)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, bound.SQL)
	for i, name := range bound.Names {
		fmt.Fprintf(out, "%d\t%s\t%v\n", i+1, name, bound.Args[i])
	}
	return nil
}

func checkPlaceholders(out io.Writer, s *stmt.Statement) error {
	names, err := stmt.Placeholders(s.Text())
	if err != nil {
		return err
	}

	var unbound []string
	for _, name := range names {
		_, ok := s.Input(name)
		status := "bound"
		if !ok {
			status = "unbound"
			unbound = append(unbound, name)
		}
		fmt.Fprintf(out, "%s\t%s\n", name, status)
	}

	if len(unbound) > 0 && s.NumInputs() > 0 {
		return fmt.Errorf("%w: %s", stmt.ErrUnknownIdentifier, strings.Join(unbound, ", "))
	}
	return nil
}

func readSQL(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if f, ok := in.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("no statement given")
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	sql := strings.TrimSpace(string(b))
	if sql == "" {
		return "", fmt.Errorf("no statement given")
	}
	return sql, nil
}
