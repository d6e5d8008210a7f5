// Package file provides handles on named files, with optional
// transparent compression.
package file

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/wetware/unx"
	"go.uber.org/multierr"
)

// Kind selects line handling for ReadLine.
type Kind uint8

const (
	Text Kind = iota
	Binary
)

func (k Kind) String() string {
	if k == Binary {
		return "binary"
	}
	return "text"
}

type Mode uint8

const (
	Closed Mode = iota
	Read
	Write
	Append
	Update
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case Append:
		return "append"
	case Update:
		return "update"
	default:
		return "closed"
	}
}

func (m Mode) flags() int {
	switch m {
	case Read:
		return os.O_RDONLY
	case Write:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case Append:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return os.O_RDWR | os.O_CREATE
	}
}

func (m Mode) readable() bool { return m == Read || m == Update }
func (m Mode) writable() bool { return m >= Write }

// Filter is a codec applied between the handle and the OS file.
type Filter uint8

const (
	None Filter = iota
	Gzip
	Zstd
)

func (f Filter) String() string {
	switch f {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// ParseFilter accepts "", "none", "gzip" and "zstd".
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "zstd", "zst":
		return Zstd, nil
	}

	return None, fmt.Errorf("unknown filter %q", s)
}

// File is a handle on a named file.  It is created closed.  An open
// File that becomes unreachable is closed by a finalizer.
type File struct {
	Name   string // base name
	Path   string // absolute path
	Kind   Kind
	Filter Filter

	id unx.ID

	mu   sync.Mutex
	mode Mode
	f    *os.File
	dec  io.ReadCloser
	enc  encoder
	r    *bufio.Reader
	w    *bufio.Writer
}

type encoder interface {
	io.WriteCloser
	Flush() error
}

// New returns a closed handle on path, resolved to an absolute path.
func New(path string, kind Kind) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, unx.Wrap("new", path, err)
	}

	return &File{
		Name: unx.BaseName(abs),
		Path: abs,
		Kind: kind,
		id:   unx.NewID(),
	}, nil
}

func (f *File) ID() unx.ID {
	return f.id
}

func (f *File) Type() unx.Type {
	return unx.TypeFile
}

func (f *File) String() string {
	return fmt.Sprintf("file[%s]", f.Path)
}

// Mode returns the access mode, or Closed.
func (f *File) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mode
}

// Open acquires the OS file.  Opening an open file, or combining a
// filter with a mode the codec cannot support, fails with
// unx.InvalidMode.
func (f *File) Open(mode Mode) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case mode == Closed || mode > Update:
		return unx.Errorf("open", f.Path, unx.InvalidMode, "unsupported mode "+mode.String())
	case f.mode != Closed:
		return unx.Errorf("open", f.Path, unx.InvalidMode, "already open")
	case f.Filter != None && mode == Update:
		return unx.Errorf("open", f.Path, unx.InvalidMode, "filtered files cannot be updated")
	case f.Filter == Zstd && mode == Append:
		return unx.Errorf("open", f.Path, unx.InvalidMode, "zstd files cannot be appended")
	}

	if f.f, err = os.OpenFile(f.Path, mode.flags(), 0o666); err != nil {
		return unx.Wrap("open", f.Path, err)
	}

	if err = f.setup(mode); err != nil {
		f.f.Close()
		f.f = nil
		return &unx.Error{Op: "open", Path: f.Path, Kind: unx.InvalidMode, Err: err}
	}

	f.mode = mode
	runtime.SetFinalizer(f, func(f *File) {
		if err := f.Close(); err != nil {
			slog.Warn("unable to close file",
				"path", f.Path,
				"reason", err)
		}
	})

	return nil
}

func (f *File) setup(mode Mode) (err error) {
	var (
		r io.Reader = f.f
		w io.Writer = f.f
	)

	switch {
	case f.Filter == Gzip && mode == Read:
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(f.f); err == io.EOF {
			r, err = eofReader{}, nil
		} else if err == nil {
			f.dec, r = zr, zr
		}

	case f.Filter == Gzip:
		zw := gzip.NewWriter(f.f)
		f.enc, w = zw, zw

	case f.Filter == Zstd && mode == Read:
		var zr *zstd.Decoder
		if zr, err = zstd.NewReader(f.f); err == nil {
			f.dec = zr.IOReadCloser()
			r = f.dec
		}

	case f.Filter == Zstd:
		var zw *zstd.Encoder
		if zw, err = zstd.NewWriter(f.f); err == nil {
			f.enc, w = zw, zw
		}
	}

	if err != nil {
		return err
	}

	if mode.readable() {
		f.r = bufio.NewReader(r)
	}
	if mode.writable() {
		f.w = bufio.NewWriter(w)
	}

	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// Close flushes pending output and releases the OS file.  Closing a
// closed file is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.close()
}

func (f *File) close() error {
	if f.mode == Closed {
		return nil
	}

	runtime.SetFinalizer(f, nil)

	var err error
	if f.w != nil {
		err = f.w.Flush()
	}
	if f.enc != nil {
		err = multierr.Append(err, f.enc.Close())
	}
	if f.dec != nil {
		err = multierr.Append(err, f.dec.Close())
	}
	err = multierr.Append(err, f.f.Close())

	f.mode = Closed
	f.f, f.dec, f.enc, f.r, f.w = nil, nil, nil, nil, nil

	return unx.Wrap("close", f.Path, err)
}

// Read reads decoded bytes.  The file must be open for Read or Update.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.readable("read"); err != nil {
		return 0, err
	}

	n, err := f.r.Read(p)
	if err != nil && err != io.EOF {
		err = unx.Wrap("read", f.Path, err)
	}
	return n, err
}

// ReadLine returns the next line without its terminator.  Text files
// also drop a carriage return before the newline.  A final line with
// no terminator is returned with a nil error; after it, ReadLine
// returns io.EOF.
func (f *File) ReadLine() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.readable("readline"); err != nil {
		return "", err
	}

	line, err := f.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	} else if err != nil {
		if err != io.EOF {
			err = unx.Wrap("readline", f.Path, err)
		}
		return "", err
	}

	line = strings.TrimSuffix(line, "\n")
	if f.Kind == Text {
		line = strings.TrimSuffix(line, "\r")
	}
	return line, nil
}

func (f *File) readable(op string) error {
	if !f.mode.readable() {
		return unx.Errorf(op, f.Path, unx.InvalidMode, "file is "+f.mode.String())
	}

	// in update mode, pending output precedes any read
	if f.w != nil && f.w.Buffered() > 0 {
		if err := f.w.Flush(); err != nil {
			return unx.Wrap(op, f.Path, err)
		}
	}

	return nil
}

// Write writes encoded bytes.  The file must be open for Write, Append
// or Update.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mode.writable() {
		return 0, unx.Errorf("write", f.Path, unx.InvalidMode, "file is "+f.mode.String())
	}

	// in update mode, writes land where the caller has read up to
	if f.r != nil && f.r.Buffered() > 0 {
		if _, err := f.f.Seek(-int64(f.r.Buffered()), io.SeekCurrent); err != nil {
			return 0, unx.Wrap("write", f.Path, err)
		}
		f.r.Reset(f.f)
	}

	n, err := f.w.Write(p)
	return n, unx.Wrap("write", f.Path, err)
}

// WriteString is shorthand for Write([]byte(s)).
func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Flush pushes buffered output through the filter to the OS file.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.flush()
}

func (f *File) flush() error {
	if f.w == nil {
		return nil
	}

	err := f.w.Flush()
	if err == nil && f.enc != nil {
		err = f.enc.Flush()
	}
	return unx.Wrap("flush", f.Path, err)
}

// Seek sets the offset for the next Read or Write.  Filtered files
// cannot seek.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.mode == Closed:
		return 0, unx.Errorf("seek", f.Path, unx.InvalidMode, "file is closed")
	case f.Filter != None:
		return 0, unx.Errorf("seek", f.Path, unx.InvalidMode, "cannot seek "+f.Filter.String()+" file")
	}

	if err := f.flush(); err != nil {
		return 0, err
	}

	// the OS offset runs ahead of the caller by whatever is buffered
	if f.r != nil && whence == io.SeekCurrent {
		offset -= int64(f.r.Buffered())
	}

	pos, err := f.f.Seek(offset, whence)
	if err != nil {
		return 0, unx.Wrap("seek", f.Path, err)
	}

	if f.r != nil {
		f.r.Reset(f.f)
	}
	return pos, nil
}

// Exists reports whether the path names a regular file.
func (f *File) Exists() bool {
	info, err := os.Stat(f.Path)
	return err == nil && info.Mode().IsRegular()
}

// Size returns the on-disk size.  Output buffered by an open handle is
// flushed first.
func (f *File) Size() (int64, error) {
	info, err := f.stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ModTime returns the last modification time.
func (f *File) ModTime() (time.Time, error) {
	info, err := f.stat()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (f *File) stat() (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.flush(); err != nil {
		return nil, err
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, unx.Wrap("stat", f.Path, err)
	}
	return info, nil
}

// Remove closes the handle and deletes the file.
func (f *File) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.close()
	if rerr := os.Remove(f.Path); rerr != nil {
		err = multierr.Append(err, unx.Wrap("remove", f.Path, rerr))
	}
	return err
}

// Rename moves the file to path and points the handle at it.  An open
// handle stays open.
func (f *File) Rename(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return unx.Wrap("rename", path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err = os.Rename(f.Path, abs); err != nil {
		return unx.Wrap("rename", f.Path, err)
	}

	f.Path, f.Name = abs, unx.BaseName(abs)
	return nil
}

// Backup copies the file's current contents to the same path with a
// trailing '~', replacing any previous backup.
func (f *File) Backup() (*File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.flush(); err != nil {
		return nil, err
	}

	bak := f.Path + "~"
	if err := copyFile(bak, f.Path); err != nil {
		return nil, unx.Wrap("backup", f.Path, err)
	}

	b, err := New(bak, f.Kind)
	if err != nil {
		return nil, err
	}
	b.Filter = f.Filter
	return b, nil
}

func copyFile(dst, src string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	if _, err = io.Copy(out, in); err != nil {
		return errors.Join(err, os.Remove(dst))
	}

	return nil
}
