package stream

import (
	"bytes"
	"io"
)

const (
	// DefaultBufferSize is the capacity of a buffer's first allocation.
	DefaultBufferSize = 4096

	// MinRead is the least free space offered to each read.
	MinRead = 512

	maxConsecutiveEmptyReads = 100
)

// Buffer is the growable read buffer behind a stream.  Unconsumed data
// lives in buf[cursor:].  The zero value is an empty buffer ready to use.
//
// Invariant:  0 <= Cursor() <= Len()+Cursor() <= Cap().
type Buffer struct {
	buf    []byte
	cursor int
}

// Cap returns the allocated size of the buffer.
func (b *Buffer) Cap() int {
	return cap(b.buf)
}

// Cursor returns the offset of the first unconsumed byte.
func (b *Buffer) Cursor() int {
	return b.cursor
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.buf) - b.cursor
}

// Bytes returns the unconsumed bytes.  The slice aliases the buffer and
// is valid until the next call that modifies it.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.cursor:]
}

// Reset discards all buffered data but keeps the allocation.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.cursor = 0
}

// Write appends p to the buffer, growing it as needed.
func (b *Buffer) Write(p []byte) (int, error) {
	b.grow(len(p))
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Fill performs a single successful read from r into the buffer.  It
// retries reads that return neither data nor an error, up to a limit,
// after which it reports io.ErrNoProgress.
func (b *Buffer) Fill(r io.Reader) (n int, err error) {
	b.grow(MinRead)

	for i := 0; i < maxConsecutiveEmptyReads; i++ {
		free := b.buf[len(b.buf):cap(b.buf)]
		n, err = r.Read(free)
		if n < 0 || n > len(free) {
			panic("stream: reader returned invalid count")
		}
		b.buf = b.buf[:len(b.buf)+n]

		if n > 0 || err != nil {
			return
		}
	}

	return 0, io.ErrNoProgress
}

// Next extracts the first complete record.  When atEOF is set and no
// delimiter remains, the leftover bytes are returned as the final
// record.  The returned slice is a copy owned by the caller.
func (b *Buffer) Next(sep Separator, atEOF bool) (record []byte, ok bool) {
	data := b.Bytes()
	if len(data) == 0 {
		return nil, false
	}

	if size, advance, found := sep.Split(data); found {
		record = bytes.Clone(data[:size])
		if record == nil {
			record = []byte{} // empty record, e.g. a blank line
		}
		b.consume(advance)
		return record, true
	}

	if atEOF {
		record = bytes.Clone(data)
		b.Reset()
		return record, true
	}

	return nil, false
}

func (b *Buffer) consume(n int) {
	if b.cursor += n; b.cursor >= len(b.buf) {
		b.Reset()
	}
}

// grow ensures at least n bytes of free space after the buffered data.
// Unconsumed bytes are moved to offset 0 first; the buffer is
// reallocated only if that does not free enough space.
func (b *Buffer) grow(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}

	if b.cursor > 0 {
		m := copy(b.buf, b.buf[b.cursor:])
		b.buf = b.buf[:m]
		b.cursor = 0

		if cap(b.buf)-len(b.buf) >= n {
			return
		}
	}

	size := max(2*cap(b.buf), len(b.buf)+n, DefaultBufferSize)
	buf := make([]byte, len(b.buf), size)
	copy(buf, b.buf)
	b.buf = buf
}
