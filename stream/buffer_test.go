package stream_test

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wetware/unx/stream"
)

func checkCursor(t *testing.T, b *stream.Buffer) {
	t.Helper()
	require.GreaterOrEqual(t, b.Cursor(), 0, "cursor is negative")
	require.LessOrEqual(t, b.Cursor(), b.Cap(), "cursor exceeds capacity")
	require.LessOrEqual(t, b.Cursor()+b.Len(), b.Cap(), "data exceeds capacity")
}

func drain(t *testing.T, b *stream.Buffer, sep stream.Separator, atEOF bool) []string {
	t.Helper()

	var got []string
	for {
		rec, ok := b.Next(sep, atEOF)
		checkCursor(t, b)
		if !ok {
			return got
		}
		got = append(got, string(rec))
	}
}

func TestBuffer_Next(t *testing.T) {
	t.Parallel()

	var b stream.Buffer
	checkCursor(t, &b)

	_, err := b.Write([]byte("one\ntwo\nthr"))
	require.NoError(t, err)
	checkCursor(t, &b)

	assert.Equal(t, []string{"one", "two"}, drain(t, &b, stream.Line, false))
	assert.Equal(t, 3, b.Len(), "partial record should stay buffered")

	b.Write([]byte("ee\n\nfour"))
	assert.Equal(t, []string{"three", ""}, drain(t, &b, stream.Line, false),
		"should yield an empty record for a blank line")
	assert.Equal(t, []string{"four"}, drain(t, &b, stream.Line, true),
		"should flush the remainder at EOF")
	assert.Zero(t, b.Len())
}

func TestBuffer_growPreservesUnconsumed(t *testing.T) {
	t.Parallel()

	var b stream.Buffer
	b.Write(bytes.Repeat([]byte("x"), stream.DefaultBufferSize-10))
	b.Write([]byte("\nkeep"))

	rec, ok := b.Next(stream.Line, false)
	require.True(t, ok)
	assert.Len(t, rec, stream.DefaultBufferSize-10)
	assert.Positive(t, b.Cursor())

	// Force growth beyond the current allocation.
	big := bytes.Repeat([]byte("y"), 2*stream.DefaultBufferSize)
	b.Write(big)
	checkCursor(t, &b)
	assert.Zero(t, b.Cursor(), "unconsumed bytes should move to offset 0")
	assert.True(t, bytes.HasPrefix(b.Bytes(), []byte("keep")))
	assert.Equal(t, 4+len(big), b.Len())
}

func TestBuffer_Fill(t *testing.T) {
	t.Parallel()

	var b stream.Buffer
	r := iotest.OneByteReader(strings.NewReader("ab\n"))

	for i := 0; i < 3; i++ {
		n, err := b.Fill(r)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		checkCursor(t, &b)
	}

	_, err := b.Fill(r)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"ab"}, drain(t, &b, stream.Line, true))
}

func TestBuffer_FillNoProgress(t *testing.T) {
	t.Parallel()

	var b stream.Buffer
	_, err := b.Fill(emptyReader{})
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, nil }

func TestSeparators(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name   string
		sep    stream.Separator
		chunks []string
		want   []string
	}{
		{
			name:   "byte",
			sep:    stream.Byte(';'),
			chunks: []string{"a;b", ";;c"},
			want:   []string{"a", "b", "", "c"},
		},
		{
			name:   "sequence across chunks",
			sep:    stream.Sequence([]byte("\r\n")),
			chunks: []string{"GET /\r", "\nHost: x\r\n", "\r\nbody"},
			want:   []string{"GET /", "Host: x", "", "body"},
		},
		{
			name:   "sequence does not overlap",
			sep:    stream.Sequence([]byte("aa")),
			chunks: []string{"xaaay"},
			want:   []string{"x", "ay"},
		},
		{
			name:   "single byte sequence",
			sep:    stream.Sequence([]byte("|")),
			chunks: []string{"p|q"},
			want:   []string{"p", "q"},
		},
		{
			name:   "pattern",
			sep:    stream.Pattern(regexp.MustCompile(`\s*,\s*`)),
			chunks: []string{"a , b", ",c"},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "pattern skips empty matches",
			sep:    stream.Pattern(regexp.MustCompile(`,?`)),
			chunks: []string{"ab,cd"},
			want:   []string{"ab", "cd"},
		},
		{
			name:   "fixed",
			sep:    stream.Fixed(3),
			chunks: []string{"abcd", "efgh"},
			want:   []string{"abc", "def", "gh"},
		},
		{
			name:   "none",
			sep:    stream.None,
			chunks: []string{"a\nb", "\nc"},
			want:   []string{"a\nb\nc"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				b   stream.Buffer
				got []string
			)
			for _, chunk := range tt.chunks {
				b.Write([]byte(chunk))
				got = append(got, drain(t, &b, tt.sep, false)...)
			}
			got = append(got, drain(t, &b, tt.sep, true)...)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeparators_invalid(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { stream.Sequence(nil) })
	assert.Panics(t, func() { stream.Fixed(0) })
}
