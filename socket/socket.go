// Package socket provides stream sockets over unix-domain and TCP
// addresses.  A Socket is either a listener, which owns the clients it
// accepts, or a connected peer.
package socket

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"syscall"
	"time"
	"weak"

	"github.com/wetware/unx"
	"github.com/wetware/unx/file"
	"github.com/wetware/unx/stream"
	"go.uber.org/multierr"
)

type Status uint8

const (
	Closed Status = iota
	Bound
	Listening
	Connected
)

func (s Status) String() string {
	switch s {
	case Bound:
		return "bound"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	default:
		return "closed"
	}
}

// AuthTimeout bounds how long a listener waits for a peer's authority
// token.
var AuthTimeout = 5 * time.Second

// Socket is a stream socket.  A listener's stream is never attached;
// its clients inherit its stream configuration, minus the callbacks.
type Socket struct {
	stream.Stream

	Address Address

	// OnAccept is called once per admitted client, through the stream's
	// Dispatcher.
	OnAccept func(client *Socket)

	// Authority holds a token.  Connect sends it as the first bytes on
	// the connection; a listener admits only peers that do.
	Authority *file.File

	mu       sync.Mutex
	status   Status
	ln       net.Listener
	token    []byte
	clients  []*Socket
	listener weak.Pointer[Socket]
}

// New returns a closed socket for addr.  See ParseAddress.
func New(addr string) (*Socket, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, &unx.Error{Op: "socket", Path: addr, Kind: unx.ResourceUnavailable, Err: err}
	}

	return &Socket{Address: a}, nil
}

func (s *Socket) Type() unx.Type {
	return unx.TypeSocket
}

func (s *Socket) String() string {
	return fmt.Sprintf("socket[%s]", s.Address)
}

func (s *Socket) Domain() Domain {
	return s.Address.Domain
}

func (s *Socket) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Clients returns the accepted clients the listener still owns.
func (s *Socket) Clients() []*Socket {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.clients)
}

// Listener returns the socket that accepted s.  It is nil for
// listeners, for connected peers, for detached clients, and once the
// listener was collected.
func (s *Socket) Listener() *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listener.Value()
}

func (s *Socket) loadToken(op string) error {
	if s.Authority == nil {
		return nil
	}

	if err := s.Authority.Open(file.Read); err != nil {
		return err
	}
	defer s.Authority.Close()

	token, err := io.ReadAll(s.Authority)
	if err != nil {
		return unx.Wrap(op, s.Authority.Path, err)
	}
	if len(token) == 0 {
		return unx.Errorf(op, s.Authority.Path, unx.InvalidMode, "empty authority token")
	}

	s.token = token
	return nil
}

// Listen binds the address and starts listening with the given backlog.
// A backlog of zero selects the system maximum.
func (s *Socket) Listen(ctx context.Context, backlog int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Address.String()
	if s.status != Closed || s.ln != nil || s.Attached() {
		return unx.Errorf("listen", path, unx.InvalidMode, "socket is "+s.status.String())
	}

	if err := ctx.Err(); err != nil {
		return unx.Wrap("listen", path, err)
	}

	if err := s.loadToken("listen"); err != nil {
		return err
	}

	ln, err := listen(s.Address, backlog, func() { s.status = Bound })
	if err != nil {
		s.status = Closed
		return unx.Wrap("listen", path, err)
	}

	// learn the port the kernel picked
	if a, err := fromNetAddr(ln.Addr()); err == nil && s.Domain() == Inet {
		s.Address = a
	}

	s.ln = ln
	s.status = Listening

	slog.DebugContext(ctx, "listening",
		"socket", s.ID(),
		"addr", s.Address,
		"backlog", backlog)

	return nil
}

type deadliner interface {
	SetDeadline(time.Time) error
}

var aLongTimeAgo = time.Unix(1, 0)

// Accept waits for a peer and returns it as a client owned by s.
// Closing s, or cancelling ctx, while Accept waits resolves it with
// unx.Cancelled.
func (s *Socket) Accept(ctx context.Context) (*Socket, error) {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	if ln == nil {
		return nil, unx.Errorf("accept", s.Address.String(), unx.InvalidMode, "socket is not listening")
	}

	for {
		conn, err := s.accept(ctx, ln)
		if err != nil {
			return nil, err
		}

		if err = s.authorize(conn); err != nil {
			slog.WarnContext(ctx, "rejected peer",
				"socket", s.ID(),
				"remote", conn.RemoteAddr(),
				"reason", err)
			conn.Close()
			continue
		}

		client, err := s.admit(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}

		if s.OnAccept != nil {
			if !s.dispatcher().Dispatch(func() { s.OnAccept(client) }) {
				slog.DebugContext(ctx, "dropped accept callback",
					"socket", s.ID(),
					"client", client.ID())
			}
		}

		return client, nil
	}
}

func (s *Socket) accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, unx.Wrap("accept", s.Address.String(), err)
	}

	if d, ok := ln.(deadliner); ok && ctx.Done() != nil {
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			defer close(fired)
			d.SetDeadline(aLongTimeAgo)
		})
		defer func() {
			if !stop() {
				<-fired
				d.SetDeadline(time.Time{})
			}
		}()
	}

	conn, err := ln.Accept()
	switch {
	case err == nil:
		return conn, nil

	case s.Status() == Closed:
		return nil, &unx.Error{Op: "accept", Path: s.Address.String(), Kind: unx.Cancelled, Err: err}

	case ctx.Err() != nil:
		return nil, unx.Wrap("accept", s.Address.String(), ctx.Err())

	default:
		return nil, unx.Wrap("accept", s.Address.String(), err)
	}
}

func (s *Socket) authorize(conn net.Conn) error {
	if len(s.token) == 0 {
		return nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(AuthTimeout)); err != nil {
		return err
	}
	defer conn.SetReadDeadline(time.Time{})

	got := make([]byte, len(s.token))
	if _, err := io.ReadFull(conn, got); err != nil {
		return err
	}

	if subtle.ConstantTimeCompare(got, s.token) != 1 {
		return unx.Errorf("accept", s.Address.String(), unx.ChannelClosed, "bad authority token")
	}

	return nil
}

func (s *Socket) admit(conn net.Conn) (*Socket, error) {
	addr, err := fromNetAddr(conn.RemoteAddr())
	if err != nil {
		addr = Address{Domain: s.Domain(), Addr: conn.RemoteAddr()}
	}

	client := &Socket{
		Address:  addr,
		status:   Connected,
		listener: weak.Make(s),
	}
	client.Configure(stream.Config{
		Separator:  s.Config().Separator,
		Dispatcher: s.Config().Dispatcher,
	})
	client.attach(conn)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Closed {
		return nil, unx.Errorf("accept", s.Address.String(), unx.Cancelled, "socket closed")
	}

	s.clients = append(s.clients, client)
	return client, nil
}

// halfConn shuts down the sending side on Close, leaving the receiving
// side to the stream's reader.
type halfConn struct{ duplex }

type duplex interface {
	net.Conn
	syscall.Conn
	CloseWrite() error
}

func (c halfConn) Close() error {
	return c.CloseWrite()
}

func (s *Socket) attach(conn net.Conn) {
	if d, ok := conn.(duplex); ok {
		s.Attach(conn, halfConn{d})
	} else {
		s.Attach(conn, conn)
	}
}

// Connect dials the address.  It fails with unx.ConnectionRefused if
// nothing listens there, and with unx.Timeout if ctx expires first.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Address.String()
	if s.status != Closed || s.Attached() {
		return unx.Errorf("connect", path, unx.InvalidMode, "socket is "+s.status.String())
	}

	if err := s.loadToken("connect"); err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, s.Address.Network(), s.Address.Addr.String())
	if err != nil {
		return unx.Wrap("connect", path, err)
	}

	if len(s.token) > 0 {
		if _, err = conn.Write(s.token); err != nil {
			conn.Close()
			return unx.Wrap("connect", path, err)
		}
	}

	s.attach(conn)
	s.status = Connected
	return nil
}

// Serve accepts clients until s is closed or ctx expires.  Each client
// is announced through OnAccept.  Serve returns nil when s is closed.
func (s *Socket) Serve(ctx context.Context) error {
	for {
		if _, err := s.Accept(ctx); err != nil {
			if s.Status() == Closed {
				return nil
			}
			return err
		}
	}
}

// Watch serves a listening socket and reads records from a connected
// one, so that either can be handed to loop.Loop.Watch.
func (s *Socket) Watch(ctx context.Context) error {
	if s.Status() == Listening {
		return s.Serve(ctx)
	}
	return s.Stream.Watch(ctx)
}

// Detach transfers a client's lifetime from its listener to the
// caller.
func (s *Socket) Detach(client *Socket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.clients, client)
	if i < 0 {
		return unx.Errorf("detach", s.Address.String(), unx.InvalidMode, "not a client")
	}
	s.clients = slices.Delete(s.clients, i, i+1)

	client.mu.Lock()
	client.listener = weak.Pointer[Socket]{}
	client.mu.Unlock()

	return nil
}

// Close releases the socket.  Closing a listener interrupts pending
// accepts, closes every client it still owns and removes its socket
// file.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.status == Closed && s.ln == nil && !s.Attached() {
		s.mu.Unlock()
		return nil
	}

	prev := s.status
	s.status = Closed
	ln, clients := s.ln, s.clients
	s.clients = nil
	listener := s.listener.Value()
	s.mu.Unlock()

	if ln == nil {
		if listener != nil {
			listener.drop(s)
		}
		return s.Stream.Close()
	}

	if prev == Closed {
		return nil // already closed
	}

	err := ln.Close()
	for _, c := range clients {
		err = multierr.Append(err, c.Close())
	}

	if path := s.Address.Path(); path != "" {
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			err = multierr.Append(err, rerr)
		}
	}

	return unx.Wrap("close", s.Address.String(), err)
}

func (s *Socket) drop(client *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := slices.Index(s.clients, client); i >= 0 {
		s.clients = slices.Delete(s.clients, i, i+1)
	}
}

func (s *Socket) dispatcher() unx.Dispatcher {
	if d := s.Config().Dispatcher; d != nil {
		return d
	}
	return unx.Direct
}
