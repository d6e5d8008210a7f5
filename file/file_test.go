package file_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wetware/unx"
	"github.com/wetware/unx/file"
)

func newFile(t *testing.T, name string, kind file.Kind) *file.File {
	t.Helper()

	f, err := file.New(filepath.Join(t.TempDir(), name), kind)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFile_lifecycle(t *testing.T) {
	t.Parallel()

	f := newFile(t, "notes.txt", file.Text)
	assert.Equal(t, "notes.txt", f.Name)
	assert.True(t, filepath.IsAbs(f.Path))
	assert.Equal(t, file.Closed, f.Mode(), "files are created closed")
	assert.False(t, f.Exists())

	err := f.Open(file.Read)
	require.ErrorIs(t, err, unx.ErrResourceUnavailable, "missing file")

	require.NoError(t, f.Open(file.Write))
	err = f.Open(file.Write)
	require.ErrorIs(t, err, unx.ErrInvalidMode, "already open")

	_, err = f.WriteString("one\r\ntwo\nthree")
	require.NoError(t, err)

	_, err = f.Read(make([]byte, 1))
	require.ErrorIs(t, err, unx.ErrInvalidMode, "write-only")

	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "second close is a no-op")
	assert.True(t, f.Exists())

	size, err := f.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 14, size)

	require.NoError(t, f.Open(file.Read))
	var lines []string
	for {
		line, err := f.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestFile_binaryKeepsCarriageReturn(t *testing.T) {
	t.Parallel()

	f := newFile(t, "raw.bin", file.Binary)
	require.NoError(t, os.WriteFile(f.Path, []byte("a\r\nb"), 0o644))

	require.NoError(t, f.Open(file.Read))
	line, err := f.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "a\r", line)
}

func TestFile_appendAndSeek(t *testing.T) {
	t.Parallel()

	f := newFile(t, "log", file.Text)
	require.NoError(t, os.WriteFile(f.Path, []byte("hello"), 0o644))

	require.NoError(t, f.Open(file.Append))
	_, err := f.WriteString(", world")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, f.Open(file.Update))
	pos, err := f.Seek(7, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pos)

	_, err = f.WriteString("WORLD")
	require.NoError(t, err)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello, WORLD", string(b))
}

func TestFile_filters(t *testing.T) {
	t.Parallel()

	for _, filter := range []file.Filter{file.Gzip, file.Zstd} {
		t.Run(filter.String(), func(t *testing.T) {
			t.Parallel()

			f := newFile(t, "data."+filter.String(), file.Text)
			f.Filter = filter

			require.NoError(t, f.Open(file.Write))
			_, err := f.WriteString("compressed line\n")
			require.NoError(t, err)
			require.NoError(t, f.Flush())

			_, err = f.Seek(0, io.SeekStart)
			require.ErrorIs(t, err, unx.ErrInvalidMode, "filtered files cannot seek")
			require.NoError(t, f.Close())

			raw, err := os.ReadFile(f.Path)
			require.NoError(t, err)
			assert.NotEqual(t, "compressed line\n", string(raw))

			require.NoError(t, f.Open(file.Read))
			line, err := f.ReadLine()
			require.NoError(t, err)
			assert.Equal(t, "compressed line", line)

			_, err = f.ReadLine()
			assert.ErrorIs(t, err, io.EOF)
			require.NoError(t, f.Close())

			err = f.Open(file.Update)
			assert.ErrorIs(t, err, unx.ErrInvalidMode)
		})
	}
}

func TestFile_gzipAppend(t *testing.T) {
	t.Parallel()

	f := newFile(t, "multi.gz", file.Text)
	f.Filter = file.Gzip

	for _, mode := range []file.Mode{file.Write, file.Append} {
		require.NoError(t, f.Open(mode))
		_, err := f.WriteString(mode.String() + "\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	require.NoError(t, f.Open(file.Read))
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "write\nappend\n", string(b))
}

func TestFile_zstdRejectsAppend(t *testing.T) {
	t.Parallel()

	f := newFile(t, "x.zst", file.Binary)
	f.Filter = file.Zstd

	err := f.Open(file.Append)
	require.ErrorIs(t, err, unx.ErrInvalidMode)
	assert.False(t, f.Exists(), "rejected before touching the filesystem")
}

func TestFile_renameBackupRemove(t *testing.T) {
	t.Parallel()

	f := newFile(t, "a.txt", file.Text)
	require.NoError(t, os.WriteFile(f.Path, []byte("contents"), 0o644))

	dst := filepath.Join(filepath.Dir(f.Path), "b.txt")
	require.NoError(t, f.Rename(dst))
	assert.Equal(t, "b.txt", f.Name)
	assert.Equal(t, dst, f.Path)

	bak, err := f.Backup()
	require.NoError(t, err)
	assert.Equal(t, "b.txt~", bak.Name)
	assert.True(t, bak.Exists())

	b, err := os.ReadFile(bak.Path)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(b))

	mtime, err := f.ModTime()
	require.NoError(t, err)
	assert.False(t, mtime.IsZero())

	require.NoError(t, f.Remove())
	assert.False(t, f.Exists())

	err = f.Remove()
	assert.ErrorIs(t, err, unx.ErrResourceUnavailable)
}

func TestParseFilter(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]file.Filter{
		"":     file.None,
		"none": file.None,
		"gzip": file.Gzip,
		"GZ":   file.Gzip,
		"zstd": file.Zstd,
	} {
		got, err := file.ParseFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := file.ParseFilter("bzip2")
	assert.Error(t, err)
}
