package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RichardKnop/braze/internal/config"
	"github.com/RichardKnop/braze/internal/protocol"
	"github.com/RichardKnop/braze/internal/stmt"
)

var clientAddress string

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Interactive client for a running server",
	Long: `Reads statements terminated by ';' and executes them on the server.
Lines starting with '.' are meta commands, see .help.`,
	Args: cobra.NoArgs,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().StringVarP(&clientAddress, "address", "a", "", "address string to dial, e.g. tcp://localhost:7070?timeout=5s&retries=3")
}

func runClient(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	addr, err := clientConfig()
	if err != nil {
		return err
	}

	aClient, err := protocol.NewClient(ctx, addr.DialTarget(),
		protocol.WithClientTimeout(addr.Timeout),
		protocol.WithRetries(addr.Retries),
		protocol.WithClientLogger(logger),
	)
	if err != nil {
		return err
	}
	defer aClient.Close()

	r := &repl{
		client:  aClient,
		in:      bufio.NewReader(cmd.InOrStdin()),
		out:     cmd.OutOrStdout(),
		dialect: stmt.Dollar,
		params:  make(map[string]string),
	}
	return r.run(cmd)
}

func clientConfig() (*config.Address, error) {
	if clientAddress != "" {
		return config.ParseAddress(clientAddress)
	}
	addr, err := config.ParseAddress(cfg.Client.Address)
	if err != nil {
		return nil, err
	}
	addr.Timeout = cfg.Client.Timeout.Duration
	addr.Retries = cfg.Client.Retries
	return addr, nil
}

type repl struct {
	client  *protocol.Client
	in      *bufio.Reader
	out     io.Writer
	dialect stmt.Dialect
	params  map[string]string
}

func (r *repl) printPrompt() {
	fmt.Fprint(r.out, cliName, "> ")
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, ".help                  - Show available commands")
	fmt.Fprintln(r.out, ".exit                  - Closes program")
	fmt.Fprintln(r.out, ".ping                  - Check if the server is alive")
	fmt.Fprintln(r.out, ".set name[:type]=value - Bind a parameter for the following statements")
	fmt.Fprintln(r.out, ".unset name            - Remove a parameter, .unset without a name removes all")
	fmt.Fprintln(r.out, ".params                - List bound parameters")
	fmt.Fprintln(r.out, ".dialect name          - Dialect used by .rewrite")
	fmt.Fprintln(r.out, ".classify sql          - Show the kind of a statement")
	fmt.Fprintln(r.out, ".placeholders sql      - List the placeholders of a statement")
	fmt.Fprintln(r.out, ".rewrite sql           - Rewrite a statement without executing it")
}

func (r *repl) run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	r.printPrompt()
	for {
		input, err := r.readInput()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Print an additional line if we encountered an EOF character
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		if input == "" {
			r.printPrompt()
			continue
		}

		if !strings.HasPrefix(input, ".") {
			r.exec(cmd, input)
			r.printPrompt()
			continue
		}

		command, arg, _ := strings.Cut(input, " ")
		arg = strings.TrimSpace(arg)
		switch command {
		case ".help":
			r.printHelp()
		case ".exit":
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		case ".ping":
			if err := r.client.Ping(ctx); err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
			} else {
				fmt.Fprintln(r.out, "pong")
			}
		case ".set":
			name, _, _, err := parseParam(arg)
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
				break
			}
			r.params[name] = arg
		case ".unset":
			if arg == "" {
				clear(r.params)
			} else {
				delete(r.params, arg)
			}
		case ".params":
			for _, p := range r.params {
				fmt.Fprintln(r.out, p)
			}
		case ".dialect":
			d, err := stmt.ParseDialect(arg)
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
				break
			}
			r.dialect = d
		case ".classify":
			kind, err := r.client.Classify(ctx, trimStatement(arg))
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
				break
			}
			fmt.Fprintln(r.out, kind)
		case ".placeholders":
			names, err := r.client.Placeholders(ctx, trimStatement(arg))
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
				break
			}
			fmt.Fprintln(r.out, strings.Join(names, "\n"))
		case ".rewrite":
			r.rewrite(cmd, trimStatement(arg))
		default:
			fmt.Fprintf(r.out, "Unrecognized meta command: %s\n", input)
		}
		r.printPrompt()
	}
}

// readInput reads a meta command up to the end of the line or a statement
// up to the terminating ';'.
func (r *repl) readInput() (string, error) {
	var first []byte
	for {
		var err error
		first, err = r.in.Peek(1)
		if err != nil {
			return "", err
		}
		if first[0] != ' ' && first[0] != '\t' && first[0] != '\r' && first[0] != '\n' {
			break
		}
		if _, err := r.in.ReadByte(); err != nil {
			return "", err
		}
	}

	delim := byte(';')
	if first[0] == '.' {
		delim = '\n'
	}

	input, err := r.in.ReadString(delim)
	if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(input) == "") {
		return "", err
	}
	if delim == ';' {
		// Swallow the rest of the line so the prompt lines up.
		if rest, _ := r.in.Peek(1); len(rest) > 0 && rest[0] == '\n' {
			r.in.ReadByte()
		}
	}
	return strings.TrimSpace(input), nil
}

func trimStatement(sql string) string {
	return strings.TrimSuffix(strings.TrimSpace(sql), ";")
}

// statement binds every parameter set with .set. Unused ones are ignored by
// the rewrite.
func (r *repl) statement(sql string) (*stmt.Statement, error) {
	params := make([]string, 0, len(r.params))
	for _, p := range r.params {
		params = append(params, p)
	}
	return newStatement("repl", sql, params, nil, nil)
}

func (r *repl) exec(cmd *cobra.Command, sql string) {
	s, err := r.statement(trimStatement(sql))
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	result, err := r.client.Exec(cmd.Context(), s)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	printResult(cmd, result)
}

func (r *repl) rewrite(cmd *cobra.Command, sql string) {
	s, err := r.statement(sql)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	bound, err := r.client.Rewrite(cmd.Context(), s, r.dialect)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, bound.SQL)
	for i, name := range bound.Names {
		fmt.Fprintf(r.out, "%d\t%s\t%v\n", i+1, name, bound.Args[i])
	}
}
