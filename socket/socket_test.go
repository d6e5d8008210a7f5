package socket_test

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wetware/unx"
	"github.com/wetware/unx/file"
	"github.com/wetware/unx/loop"
	"github.com/wetware/unx/socket"
	"github.com/wetware/unx/stream"
)

func listen(t *testing.T, addr string) *socket.Socket {
	t.Helper()

	ln, err := socket.New(addr)
	require.NoError(t, err)
	require.NoError(t, ln.Listen(context.Background(), 16))
	t.Cleanup(func() { ln.Close() })

	assert.Equal(t, socket.Listening, ln.Status())
	return ln
}

func dial(t *testing.T, ctx context.Context, addr socket.Address) *socket.Socket {
	t.Helper()

	c := &socket.Socket{Address: addr}
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { c.Close() })

	assert.Equal(t, socket.Connected, c.Status())
	return c
}

func sockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "s.sock")
}

func TestSocket_clients(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := sockPath(t)
	ln := listen(t, path)
	assert.Equal(t, socket.Unix, ln.Domain())
	assert.FileExists(t, path)

	accepted := make(chan *socket.Socket, 2)
	ln.OnAccept = func(c *socket.Socket) { accepted <- c }

	peers := []*socket.Socket{dial(t, ctx, ln.Address), dial(t, ctx, ln.Address)}

	var clients []*socket.Socket
	for range peers {
		c, err := ln.Accept(ctx)
		require.NoError(t, err)
		assert.Same(t, c, <-accepted, "OnAccept sees the accepted client")
		clients = append(clients, c)
	}

	assert.ElementsMatch(t, clients, ln.Clients())
	for _, c := range clients {
		assert.Same(t, ln, c.Listener())
		assert.Nil(t, c.Listener().Listener(), "listeners have no listener")
		assert.Equal(t, socket.Connected, c.Status())
	}
	for _, p := range peers {
		assert.Nil(t, p.Listener(), "connected peers have no listener")
		assert.Empty(t, p.Clients())
	}

	// round trip
	_, err := peers[0].WriteString("ping\n")
	require.NoError(t, err)
	rec, err := clients[0].ReadRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(rec))

	require.NoError(t, ln.Close())
	assert.Equal(t, socket.Closed, ln.Status())
	assert.Empty(t, ln.Clients())
	assert.NoFileExists(t, path, "socket file is removed")

	for i, c := range clients {
		assert.True(t, c.Closed())
		assert.Equal(t, socket.Closed, c.Status())

		_, err := peers[i].ReadRecord(ctx)
		assert.ErrorIs(t, err, io.EOF, "peer sees the client close")
	}
}

func TestSocket_closeCancelsAccept(t *testing.T) {
	t.Parallel()

	ln := listen(t, sockPath(t))

	errs := make(chan error, 1)
	go func() {
		_, err := ln.Accept(context.Background())
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ln.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, unx.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("accept did not return")
	}

	_, err := ln.Accept(context.Background())
	assert.ErrorIs(t, err, unx.ErrCancelled, "accept after close")
}

func TestSocket_contextCancelsAccept(t *testing.T) {
	t.Parallel()

	ln := listen(t, "127.0.0.1:0")
	assert.Equal(t, socket.Inet, ln.Domain())
	assert.NotZero(t, ln.Address.Addr.(*net.TCPAddr).Port, "kernel-assigned port is recorded")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := ln.Accept(ctx)
	require.ErrorIs(t, err, unx.ErrCancelled)

	// the listener is still usable
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dial(t, ctx, ln.Address)
	c, err := ln.Accept(ctx)
	require.NoError(t, err)
	assert.Same(t, ln, c.Listener())
}

func TestSocket_connectionRefused(t *testing.T) {
	t.Parallel()

	ln := listen(t, "127.0.0.1:0")
	addr := ln.Address
	require.NoError(t, ln.Close())

	c := &socket.Socket{Address: addr}
	err := c.Connect(context.Background())
	require.ErrorIs(t, err, unx.ErrConnectionRefused)
	assert.Equal(t, socket.Closed, c.Status())
}

func TestSocket_connectTimeout(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"127.0.0.1:0", sockPath(t)} {
		ln := listen(t, addr)

		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		c := &socket.Socket{Address: ln.Address}
		err := c.Connect(ctx)
		cancel()

		require.ErrorIs(t, err, unx.ErrTimeout, ln.Address.String())
		assert.Equal(t, socket.Closed, c.Status())
		assert.False(t, c.Attached())
	}
}

func TestSocket_listenTwice(t *testing.T) {
	t.Parallel()

	ln := listen(t, sockPath(t))
	err := ln.Listen(context.Background(), 0)
	assert.ErrorIs(t, err, unx.ErrInvalidMode)

	_, err = (&socket.Socket{Address: ln.Address}).Accept(context.Background())
	assert.ErrorIs(t, err, unx.ErrInvalidMode, "not listening")

	other := &socket.Socket{Address: ln.Address}
	err = other.Listen(context.Background(), 0)
	assert.ErrorIs(t, err, unx.ErrResourceUnavailable, "address in use")
}

func TestSocket_authority(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir := t.TempDir()
	token := func(name, contents string) *file.File {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
		f, err := file.New(path, file.Binary)
		require.NoError(t, err)
		return f
	}

	ln, err := socket.New(filepath.Join(dir, "s.sock"))
	require.NoError(t, err)
	ln.Authority = token("good", "s3cr3t")
	require.NoError(t, ln.Listen(ctx, 0))
	defer ln.Close()

	accepted := make(chan *socket.Socket, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()

	intruder := &socket.Socket{Address: ln.Address, Authority: token("bad", "guess!")}
	require.NoError(t, intruder.Connect(ctx))
	defer intruder.Close()

	_, err = intruder.ReadRecord(ctx)
	require.ErrorIs(t, err, io.EOF, "rejected peers are disconnected")

	friend := &socket.Socket{Address: ln.Address, Authority: token("copy", "s3cr3t")}
	require.NoError(t, friend.Connect(ctx))
	defer friend.Close()

	_, err = friend.WriteString("hello\n")
	require.NoError(t, err)

	select {
	case c := <-accepted:
		rec, err := c.ReadRecord(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(rec), "token is not part of the stream")
		assert.Len(t, ln.Clients(), 1)
	case <-ctx.Done():
		t.Fatal("friend was not admitted")
	}
}

func TestSocket_detach(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln := listen(t, sockPath(t))
	dial(t, ctx, ln.Address)

	c, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, ln.Detach(c))
	assert.Nil(t, c.Listener())
	assert.Empty(t, ln.Clients())
	assert.ErrorIs(t, ln.Detach(c), unx.ErrInvalidMode)

	require.NoError(t, ln.Close())
	assert.False(t, c.Closed(), "detached clients outlive the listener")
}

func TestSocket_clientCloseLeavesListener(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln := listen(t, sockPath(t))
	dial(t, ctx, ln.Address)

	c, err := ln.Accept(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Empty(t, ln.Clients())
}

func TestSocket_serve(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln := listen(t, sockPath(t))
	accepted := make(chan *socket.Socket, 3)
	ln.OnAccept = func(c *socket.Socket) { accepted <- c }

	served := make(chan error, 1)
	go func() { served <- ln.Serve(ctx) }()

	for range 3 {
		dial(t, ctx, ln.Address)
		<-accepted
	}
	assert.Len(t, ln.Clients(), 3)

	require.NoError(t, ln.Close())
	assert.NoError(t, <-served)
}

func TestSocket_watch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var l loop.Loop
	go l.Serve(ctx)

	records := make(chan string, 1)
	ln := listen(t, sockPath(t))
	ln.OnAccept = func(c *socket.Socket) {
		c.Configure(stream.Config{
			OnRecord: func(rec []byte) { records <- string(rec) },
		})
		l.Watch(ctx, c)
	}

	watched := make(chan error, 1)
	go func() { watched <- ln.Watch(ctx) }()

	c := dial(t, ctx, ln.Address)
	_, err := c.WriteString("hello\n")
	require.NoError(t, err)

	select {
	case rec := <-records:
		assert.Equal(t, "hello", rec)
	case <-ctx.Done():
		t.Fatal("no record from the accepted client")
	}

	require.NoError(t, ln.Close())
	assert.NoError(t, <-watched, "a closed listener stops watching cleanly")
}
