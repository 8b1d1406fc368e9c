package main

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/RichardKnop/braze/internal/database"
	"github.com/RichardKnop/braze/internal/protocol"
	"github.com/RichardKnop/braze/internal/stmt"
	"github.com/RichardKnop/braze/internal/transport"
)

func TestRepl_ReadInput(t *testing.T) {
	t.Parallel()

	r := &repl{in: bufio.NewReader(strings.NewReader(".ping\n\n  SELECT 1,\n 2;\n.exit\nSELECT 3"))}

	for _, expected := range []string{".ping", "SELECT 1,\n 2;", ".exit", "SELECT 3"} {
		input, err := r.readInput()
		require.NoError(t, err)
		assert.Equal(t, expected, input)
	}

	_, err := r.readInput()
	assert.Error(t, err)
}

func TestRepl_Run(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		logger = zaptest.NewLogger(t)
	)

	conn, err := database.Open(ctx, "sqlite", ":memory:", database.WithLogger(logger))
	require.NoError(t, err)

	aTransport := transport.NewServer(transport.WithLogger(logger), transport.WithTimeout(5*time.Second))
	require.NoError(t, aTransport.Open("0", 4, false))

	serveCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		protocol.NewServer(aTransport,
			protocol.WithDatabase(conn),
			protocol.WithPollInterval(20*time.Millisecond),
			protocol.WithServerLogger(logger),
		).Serve(serveCtx)
	}()

	tcpAddr, ok := aTransport.Addr().(*net.TCPAddr)
	require.True(t, ok)
	host := "127.0.0.1"
	if tcpAddr.IP.To4() == nil {
		host = "::1"
	}

	aClient, err := protocol.NewClient(ctx, net.JoinHostPort(host, strconv.Itoa(tcpAddr.Port)), protocol.WithClientTimeout(5*time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		aClient.Close()
		cancel()
		wg.Wait()
		aTransport.Close()
		conn.Close()
	})

	input := strings.Join([]string{
		".ping",
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);",
		".set id=1",
		".set name:string=joe",
		"INSERT INTO users (id, name) VALUES (:id, :name);",
		"SELECT name FROM users WHERE id = :id;",
		".classify select 1",
		".placeholders SELECT :a, :b",
		".dialect question",
		".rewrite SELECT * FROM users WHERE id = :id",
		".dialect cobol",
		".bogus",
		"SELECT :missing;",
		".exit",
	}, "\n")

	var out bytes.Buffer
	r := &repl{
		client:  aClient,
		in:      bufio.NewReader(strings.NewReader(input)),
		out:     &out,
		dialect: stmt.Dollar,
		params:  make(map[string]string),
	}
	aCommand := &cobra.Command{}
	aCommand.SetContext(ctx)
	aCommand.SetOut(&out)

	require.NoError(t, r.run(aCommand))

	output := out.String()
	assert.Contains(t, output, "pong")
	assert.Contains(t, output, "Rows affected: 1")
	assert.Contains(t, output, "joe")
	assert.Contains(t, output, "READ")
	assert.Contains(t, output, "a\nb\n")
	assert.Contains(t, output, "SELECT * FROM users WHERE id = ?\n1\tid\t1\n")
	assert.Contains(t, output, `Error: unknown dialect "cobol"`)
	assert.Contains(t, output, "Unrecognized meta command: .bogus")
	assert.Contains(t, output, `unknown identifier: "missing"`)
	assert.Contains(t, output, "Goodbye!")
}
