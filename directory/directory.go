// Package directory provides snapshot handles on filesystem
// directories.
package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/wetware/unx"
	"github.com/wetware/unx/file"
)

// Directory names a directory and records its modification time as of
// the last snapshot.  It holds no descriptor.
type Directory struct {
	Name     string
	Path     string
	Modified time.Time

	id unx.ID
}

// New returns a handle on path, resolved to an absolute path.  The
// directory need not exist; Modified is zero if it does not.
func New(path string) (*Directory, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, unx.Wrap("new", path, err)
	}

	d := &Directory{
		Name: unx.BaseName(abs),
		Path: abs,
		id:   unx.NewID(),
	}
	d.Refresh()
	return d, nil
}

func (d *Directory) ID() unx.ID     { return d.id }
func (d *Directory) Type() unx.Type { return unx.TypeDirectory }
func (d *Directory) Close() error   { return nil }

func (d *Directory) String() string {
	return fmt.Sprintf("directory[%s]", d.Path)
}

// Exists reports whether the path names a directory.
func (d *Directory) Exists() bool {
	info, err := os.Stat(d.Path)
	return err == nil && info.IsDir()
}

// Make creates the directory and any missing parents.
func (d *Directory) Make() error {
	if err := os.MkdirAll(d.Path, 0o777); err != nil {
		return unx.Wrap("mkdir", d.Path, err)
	}

	d.Refresh()
	return nil
}

// Remove deletes the directory, which must be empty.
func (d *Directory) Remove() error {
	if err := os.Remove(d.Path); err != nil {
		return unx.Wrap("rmdir", d.Path, err)
	}

	d.Modified = time.Time{}
	return nil
}

// Refresh re-reads the modification time.
func (d *Directory) Refresh() {
	d.Modified = d.mtime()
}

// Changed reports whether the modification time moved since the last
// snapshot.
func (d *Directory) Changed() bool {
	return !d.mtime().Equal(d.Modified)
}

func (d *Directory) mtime() time.Time {
	info, err := os.Stat(d.Path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Parent returns the enclosing directory.  The root is its own parent.
func (d *Directory) Parent() (*Directory, error) {
	return New(unx.DirName(d.Path))
}

// Files returns the names of entries that are not directories, sorted.
// A non-empty pattern filters names with filepath.Match syntax.
func (d *Directory) Files(pattern string) ([]string, error) {
	return d.list("files", pattern, func(e os.DirEntry) bool { return !e.IsDir() })
}

// Directories is like Files, but returns subdirectory names.
func (d *Directory) Directories(pattern string) ([]string, error) {
	return d.list("directories", pattern, os.DirEntry.IsDir)
}

func (d *Directory) list(op, pattern string, keep func(os.DirEntry) bool) ([]string, error) {
	if pattern != "" {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, &unx.Error{Op: op, Path: pattern, Kind: unx.InvalidMode, Err: err}
		}
	}

	es, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, unx.Wrap(op, d.Path, err)
	}

	names := make([]string, 0, len(es))
	for _, e := range es {
		if !keep(e) {
			continue
		}

		if ok, _ := filepath.Match(pattern, e.Name()); pattern == "" || ok {
			names = append(names, e.Name())
		}
	}

	slices.Sort(names)
	return names, nil
}

// File returns a closed handle on name inside d.
func (d *Directory) File(name string, kind file.Kind) (*file.File, error) {
	return file.New(d.join(name), kind)
}

// Directory returns a handle on the subdirectory name.
func (d *Directory) Directory(name string) (*Directory, error) {
	return New(d.join(name))
}

func (d *Directory) join(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Path, name)
}
