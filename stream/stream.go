// Package stream implements the duplex channel shared by processes,
// sockets and bare descriptor pairs:  a read side with a growable,
// separator-aware record buffer, and a write side that never returns
// after a partial write.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wetware/unx"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// Config controls record segmentation and notification.
type Config struct {
	// Separator splits input into records.  Defaults to Line.
	Separator Separator

	// OnRecord is called once per complete record by Watch.
	OnRecord func(record []byte)

	// OnEOF is called once by Watch when the read side is exhausted.
	// The error is nil at a clean end of file.
	OnEOF func(err error)

	// Dispatcher runs the callbacks above.  Defaults to unx.Direct.
	Dispatcher unx.Dispatcher
}

func (c Config) separator() Separator {
	if c.Separator == nil {
		return Line
	}
	return c.Separator
}

func (c Config) dispatcher() unx.Dispatcher {
	if c.Dispatcher == nil {
		return unx.Direct
	}
	return c.Dispatcher
}

// Stream is a duplex byte channel over two independent descriptors.
// The zero value is an unattached stream; every operation on it fails
// with unx.ChannelClosed until Attach is called.
//
// Each side admits one flow at a time.  A second reader waits for the
// first instead of racing it for the buffer.
type Stream struct {
	idOnce sync.Once
	id     unx.ID
	cfg    Config

	attach     sync.Once
	rd         io.ReadCloser
	wr         io.WriteCloser
	rsem, wsem *semaphore.Weighted

	buf Buffer
	eof bool

	closed, wclosed atomic.Bool
}

// New returns a stream wrapping rd and wr.  Either may be nil, making
// the stream read-only or write-only.
func New(cfg Config, rd io.ReadCloser, wr io.WriteCloser) *Stream {
	s := new(Stream)
	s.Configure(cfg)
	s.Attach(rd, wr)
	return s
}

// Configure replaces the stream's configuration.  It must not be called
// while Watch is running.
func (s *Stream) Configure(cfg Config) {
	s.cfg = cfg
}

// Config returns the stream's configuration.
func (s *Stream) Config() Config {
	return s.cfg
}

// Attach binds the stream to its descriptors.  Only the first call has
// any effect.
func (s *Stream) Attach(rd io.ReadCloser, wr io.WriteCloser) {
	s.attach.Do(func() {
		s.rd = rd
		s.wr = wr
		s.rsem = semaphore.NewWeighted(1)
		s.wsem = semaphore.NewWeighted(1)
	})
}

func (s *Stream) ID() unx.ID {
	s.idOnce.Do(func() { s.id = unx.NewID() })
	return s.id
}

func (s *Stream) Type() unx.Type {
	return unx.TypeStream
}

func (s *Stream) String() string {
	return fmt.Sprintf("stream[%s]", s.ID())
}

// Attached reports whether the stream was bound to descriptors.
func (s *Stream) Attached() bool {
	return s.rsem != nil
}

// ReadFd returns the OS descriptor of the read side, or -1 if it has
// none.
func (s *Stream) ReadFd() int {
	return fdOf(s.rd)
}

// WriteFd returns the OS descriptor of the write side, or -1 if it has
// none.
func (s *Stream) WriteFd() int {
	return fdOf(s.wr)
}

// Cap returns the allocated size of the read buffer.  Not safe while
// another flow is reading.
func (s *Stream) Cap() int {
	return s.buf.Cap()
}

// Cursor returns the offset of unconsumed input in the read buffer.
// Not safe while another flow is reading.
func (s *Stream) Cursor() int {
	return s.buf.Cursor()
}

// Buffered returns the number of unconsumed input bytes.  Not safe
// while another flow is reading.
func (s *Stream) Buffered() int {
	return s.buf.Len()
}

// Write writes all of p, retrying after partial progress.  It fails
// with unx.ChannelClosed once the descriptor or its peer is closed.
func (s *Stream) Write(p []byte) (int, error) {
	return s.WriteContext(context.Background(), p)
}

// WriteString is shorthand for Write([]byte(str)).
func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Printf formats according to a format specifier and writes the result.
func (s *Stream) Printf(format string, args ...any) (int, error) {
	return s.Write(fmt.Appendf(nil, format, args...))
}

// WriteContext is like Write, but waits for the write side with ctx.
// Once the first byte is written, the call runs to completion.
func (s *Stream) WriteContext(ctx context.Context, p []byte) (n int, err error) {
	if s.wr == nil || s.wclosed.Load() {
		return 0, errClosed("write")
	}

	if err = s.wsem.Acquire(ctx, 1); err != nil {
		return 0, unx.Wrap("write", "", err)
	}
	defer s.wsem.Release(1)

	var empty int
	for n < len(p) {
		m, werr := s.wr.Write(p[n:])
		n += m

		switch {
		case werr == nil && m == 0:
			if empty++; empty >= maxConsecutiveEmptyReads {
				return n, &unx.Error{Op: "write", Kind: unx.ChannelClosed, Err: io.ErrNoProgress}
			}

		case werr == nil, retryable(werr):
			empty = 0

		default:
			return n, writeError(werr)
		}
	}

	return n, nil
}

func retryable(err error) bool {
	return errors.Is(err, io.ErrShortWrite) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EAGAIN)
}

func writeError(err error) error {
	kind := unx.ChannelClosed
	if unx.Classify(err) == unx.Timeout {
		kind = unx.Timeout
	}

	return &unx.Error{Op: "write", Kind: kind, Err: err}
}

// CloseWrite closes the write side only, signalling end of input to
// the peer.
func (s *Stream) CloseWrite() error {
	if s.wr == nil || !s.wclosed.CompareAndSwap(false, true) {
		return nil
	}

	return s.wr.Close()
}

// Close releases both descriptors.  Flows suspended in a read resolve
// with unx.Cancelled.  Subsequent calls return nil.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if s.wr != nil && s.wclosed.CompareAndSwap(false, true) {
		err = s.wr.Close()
	}
	if s.rd != nil {
		err = multierr.Append(err, s.rd.Close())
	}
	return err
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	return s.closed.Load()
}

// PollRecord extracts one record from already-buffered input without
// reading.  It reports false if no complete record is buffered, or if
// another flow currently owns the read side.
func (s *Stream) PollRecord() ([]byte, bool) {
	if s.rsem == nil || !s.rsem.TryAcquire(1) {
		return nil, false
	}
	defer s.rsem.Release(1)

	return s.buf.Next(s.cfg.separator(), s.eof)
}

// Fill performs one read from the descriptor into the buffer.  It
// returns io.EOF once the read side is exhausted.
func (s *Stream) Fill(ctx context.Context) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.rsem.Release(1)

	return s.fill(ctx)
}

// ReadRecord returns the next record, reading as needed.  After the
// final record it returns io.EOF.  If the stream is closed while
// ReadRecord is suspended, it fails with unx.Cancelled; if ctx expires
// and the descriptor supports read deadlines, it fails with
// unx.Cancelled or unx.Timeout.
func (s *Stream) ReadRecord(ctx context.Context) ([]byte, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.rsem.Release(1)

	sep := s.cfg.separator()
	for {
		if rec, ok := s.buf.Next(sep, s.eof); ok {
			return rec, nil
		}

		if s.eof {
			return nil, io.EOF
		}

		if _, err := s.fill(ctx); err != nil && err != io.EOF {
			return nil, err
		}
	}
}

// Watch owns the read side until it is exhausted, closed, or ctx
// expires.  Each complete record is passed to OnRecord through the
// configured Dispatcher, never once per underlying read.  Watch
// returns nil at end of file.
func (s *Stream) Watch(ctx context.Context) error {
	if s.cfg.OnRecord == nil {
		return errors.New("stream: watch requires a record callback")
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.rsem.Release(1)

	var (
		sep = s.cfg.separator()
		d   = s.cfg.dispatcher()
	)
	for {
		_, err := s.fill(ctx)

		for {
			rec, ok := s.buf.Next(sep, s.eof)
			if !ok {
				break
			}

			if !d.Dispatch(func() { s.cfg.OnRecord(rec) }) {
				slog.DebugContext(ctx, "dropped record",
					"stream", s.ID(),
					"size", len(rec))
			}
		}

		if err != nil {
			if err == io.EOF {
				err = nil
			}

			if s.cfg.OnEOF != nil {
				d.Dispatch(func() { s.cfg.OnEOF(err) })
			}

			return err
		}
	}
}

func (s *Stream) acquire(ctx context.Context) error {
	if s.rd == nil || s.closed.Load() {
		return errClosed("read")
	}

	if err := s.rsem.Acquire(ctx, 1); err != nil {
		return unx.Wrap("read", "", err)
	}

	return nil
}

// aLongTimeAgo is a non-zero time, far in the past, used to abort
// pending reads.
var aLongTimeAgo = time.Unix(1, 0)

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// fill must be called with rsem held.
func (s *Stream) fill(ctx context.Context) (int, error) {
	if s.eof {
		return 0, io.EOF
	}

	if d, ok := s.rd.(readDeadliner); ok && ctx.Done() != nil {
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			defer close(fired)
			d.SetReadDeadline(aLongTimeAgo)
		})
		defer func() {
			if !stop() {
				<-fired
				d.SetReadDeadline(time.Time{})
			}
		}()
	}

	n, err := s.buf.Fill(s.rd)
	switch {
	case err == nil:
		return n, nil

	case s.closed.Load():
		return n, &unx.Error{Op: "read", Kind: unx.Cancelled, Err: err}

	case errors.Is(err, io.EOF):
		s.eof = true
		return n, io.EOF

	case ctx.Err() != nil:
		return n, unx.Wrap("read", "", ctx.Err())

	default:
		return n, unx.Wrap("read", "", err)
	}
}

func errClosed(op string) error {
	return unx.Errorf(op, "", unx.ChannelClosed, "stream not open")
}

// fdOf reports the descriptor behind v without switching it to
// blocking mode, which (*os.File).Fd would do.
func fdOf(v any) int {
	sc, ok := v.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	if err = raw.Control(func(u uintptr) { fd = int(u) }); err != nil {
		return -1
	}
	return fd
}
