package transport

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestServer_EndToEnd(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)

	aClient := dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, aClient.LocalAddr().String(), aServer.ClientAddress())

	require.NoError(t, aClient.SendSize([]byte("hello"), 5))

	data, err := aServer.ReadSize(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, aServer.SendSize([]byte("world"), 5))

	data, err = aClient.ReadSize(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)
}

func TestServer_RoundTripFidelity(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	aClient := dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	payloads := [][]byte{
		{},
		{0},
		[]byte(gofakeit.Sentence(5)),
		[]byte(gofakeit.Paragraph(3, 5, 20, "\n")),
		make([]byte, 1<<20),
	}
	for _, payload := range payloads {
		require.NoError(t, aClient.SendSize(payload, len(payload)))

		received, err := aServer.ReadSize(len(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, received)

		require.NoError(t, aServer.SendSize(received, len(received)))

		echoed, err := aClient.ReadSize(len(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, echoed)
	}
}

func TestServer_SendSizeWritesOnlyPrefix(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	aClient := dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, aServer.SendSize([]byte("abcdef"), 3))
	require.NoError(t, aServer.SendSize([]byte("xyz"), 3))

	data, err := aClient.ReadSize(6)
	require.NoError(t, err)
	assert.Equal(t, "abcxyz", string(data))

	err = aServer.SendSize([]byte("ab"), 3)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestServer_ReadSizeAcrossPartialWrites(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	aClient := dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		if err := aClient.SendSize([]byte("par"), 3); err != nil {
			done <- err
			return
		}
		time.Sleep(50 * time.Millisecond)
		done <- aClient.SendSize([]byte("tial"), 4)
	}()

	data, err := aServer.ReadSize(7)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(data))
	require.NoError(t, <-done)
}

func TestServer_WaitForConnectionTimeout(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)

	start := time.Now()
	ok, err := aServer.WaitForConnection(100 * time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, NoClientAddress, aServer.ClientAddress())
}

func TestServer_WaitForConnectionTimeoutKeepsPeer(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	aClient := dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = aServer.WaitForConnection(50 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, aClient.LocalAddr().String(), aServer.ClientAddress())

	// The first client is still served.
	require.NoError(t, aServer.SendSize([]byte("ok"), 2))
	data, err := aClient.ReadSize(2)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestServer_NewConnectionReplacesPeer(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)

	first := dial(t, aServer)
	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	second := dial(t, aServer)
	ok, err = aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.LocalAddr().String(), aServer.ClientAddress())

	// The server closed the first peer, so its reads see EOF.
	_, err = first.ReadSize(1)
	assert.ErrorIs(t, err, ErrConnectionBroken)

	require.NoError(t, aServer.SendSize([]byte("2"), 1))
	data, err := second.ReadSize(1)
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}

func TestServer_PeerHangUp(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	aClient := dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, aClient.SendSize([]byte("ab"), 2))
	require.NoError(t, aClient.Close())

	_, err = aServer.ReadSize(4)
	assert.ErrorIs(t, err, ErrConnectionBroken)
}

func TestServer_CloseAcceptedCancelsBlockedRead(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	errCh := make(chan error, 1)
	go func() {
		_, err := aServer.ReadSize(10)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, aServer.CloseAccepted())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionBroken)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read was not cancelled")
	}
}

func TestServer_Timeout(t *testing.T) {
	t.Parallel()

	aServer := NewServer(WithTimeout(50*time.Millisecond), WithRetries(3), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, aServer.Open("0", 1, false))
	t.Cleanup(func() { aServer.Close() })

	assert.Equal(t, 50*time.Millisecond, aServer.Timeout())
	assert.Equal(t, 3, aServer.Retries())

	dial(t, aServer)
	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = aServer.ReadSize(4)
	require.Error(t, err)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "recv", tErr.Op)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestServer_NoPeer(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)

	err := aServer.SendSize([]byte("x"), 1)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, syscall.ENOTCONN, tErr.Code)
	assert.ErrorIs(t, err, ErrNoPeer)

	_, err = aServer.ReadSize(1)
	assert.ErrorIs(t, err, ErrNoPeer)

	assert.Equal(t, NoClientAddress, aServer.ClientAddress())
}

func TestServer_NotOpen(t *testing.T) {
	t.Parallel()

	aServer := NewServer()

	ok, err := aServer.WaitForConnection(10 * time.Millisecond)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Nil(t, aServer.Addr())
}

func TestServer_OpenUnknownService(t *testing.T) {
	t.Parallel()

	aServer := NewServer()

	err := aServer.Open("no-such-service-name", 1, false)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Nil(t, aServer.Addr())
}

func TestServer_ReopenClosesPreviousSocket(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, aServer.Open("0", 1, false))
	assert.Equal(t, NoClientAddress, aServer.ClientAddress())

	aClient := dial(t, aServer)
	ok, err = aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, aClient.LocalAddr().String(), aServer.ClientAddress())
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, aServer.CloseAccepted())
	require.NoError(t, aServer.CloseAccepted())
	assert.NotNil(t, aServer.Addr())

	require.NoError(t, aServer.Close())
	require.NoError(t, aServer.Close())
	assert.Nil(t, aServer.Addr())
}

func TestServer_MultiSocket(t *testing.T) {
	t.Parallel()

	first := NewServer()
	require.NoError(t, first.Open("0", 1, true))
	t.Cleanup(func() { first.Close() })

	port := first.Addr().(*net.TCPAddr).Port

	second := NewServer()
	require.NoError(t, second.Open(strconv.Itoa(port), 1, true))
	t.Cleanup(func() { second.Close() })

	assert.Equal(t, port, second.Addr().(*net.TCPAddr).Port)
}

func TestServer_OpenManaged(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	workers := []*Server{NewServer(), NewServer()}
	for _, w := range workers {
		require.NoError(t, w.OpenManaged(listener))
	}

	clients := make([]*Conn, 0, len(workers))
	for range workers {
		aClient, err := Dial(context.Background(), listener.Addr().String(), time.Second)
		require.NoError(t, err)
		defer aClient.Close()
		clients = append(clients, aClient)
	}

	for _, w := range workers {
		ok, err := w.WaitForConnection(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.NotEqual(t, workers[0].ClientAddress(), workers[1].ClientAddress())

	// Closing a managed server leaves the listener usable.
	for _, w := range workers {
		require.NoError(t, w.Close())
	}

	late, err := Dial(context.Background(), listener.Addr().String(), time.Second)
	require.NoError(t, err)
	defer late.Close()

	conn, err := listener.Accept()
	require.NoError(t, err)
	conn.Close()

	for _, aClient := range clients {
		_, err := aClient.ReadSize(1)
		assert.ErrorIs(t, err, ErrConnectionBroken)
	}
}

func TestConn_DialRefused(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = Dial(context.Background(), addr, time.Second)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, syscall.ECONNREFUSED, tErr.Code)
}

func TestConn_ReadAfterServerClose(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)
	aClient := dial(t, aServer)

	ok, err := aServer.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, aServer.Close())

	_, err = aClient.ReadSize(1)
	assert.ErrorIs(t, err, ErrConnectionBroken)
	assert.NotErrorIs(t, err, io.EOF)
}

func openServer(t *testing.T) *Server {
	t.Helper()

	aServer := NewServer(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, aServer.Open("0", 1, false))
	t.Cleanup(func() { aServer.Close() })

	return aServer
}

func dial(t *testing.T, aServer *Server) *Conn {
	t.Helper()

	addr, ok := aServer.Addr().(*net.TCPAddr)
	require.True(t, ok)

	host := "127.0.0.1"
	if addr.IP.To4() == nil {
		host = "::1"
	}

	aClient, err := Dial(context.Background(), net.JoinHostPort(host, strconv.Itoa(addr.Port)), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { aClient.Close() })

	return aClient
}

func TestServer_ListenerSharedThroughOpenManaged(t *testing.T) {
	t.Parallel()

	owner := openServer(t)
	require.NotNil(t, owner.Listener())

	worker := NewServer()
	require.NoError(t, worker.OpenManaged(owner.Listener()))
	assert.Equal(t, owner.Addr(), worker.Addr())

	aClient := dial(t, owner)
	_ = aClient

	ok, err := worker.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, worker.Close())
	assert.Nil(t, worker.Listener())
	assert.NotNil(t, owner.Listener())
}

func TestServer_CloseCancelsWaitForConnection(t *testing.T) {
	t.Parallel()

	aServer := openServer(t)

	type result struct {
		ok  bool
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		ok, err := aServer.WaitForConnection(3 * time.Second)
		resultCh <- result{ok, err}
	}()

	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, aServer.Close())
	assert.Less(t, time.Since(start), time.Second, "close waited for the accept to time out")

	select {
	case r := <-resultCh:
		assert.False(t, r.ok)
		assert.ErrorIs(t, r.err, ErrConnectionBroken)
	case <-time.After(time.Second):
		t.Fatal("blocked wait was not cancelled")
	}
}

func TestServer_LostAcceptKeepsPeer(t *testing.T) {
	t.Parallel()

	owner := openServer(t)
	worker := NewServer(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, worker.OpenManaged(owner.Listener()))
	t.Cleanup(func() { worker.Close() })

	first := dial(t, owner)
	ok, err := owner.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The worker takes the next client, the owner finds nothing left.
	dial(t, owner)
	ok, err = worker.WaitForConnection(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = owner.WaitForConnection(50 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, first.LocalAddr().String(), owner.ClientAddress())

	require.NoError(t, owner.SendSize([]byte("still"), 5))
	data, err := first.ReadSize(5)
	require.NoError(t, err)
	assert.Equal(t, "still", string(data))
}
