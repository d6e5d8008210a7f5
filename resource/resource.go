// Package resource provides read-only handles on named blobs held by
// a Catalog, either compiled in with embed or loaded from a directory.
package resource

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"weak"

	"github.com/wetware/unx"
)

// Catalog is the module context that owns a set of resources.
type Catalog struct {
	Name string
	FS   fs.FS
}

// Dir returns a catalog over the directory at path.
func Dir(name, path string) *Catalog {
	return &Catalog{Name: name, FS: os.DirFS(path)}
}

func (c *Catalog) String() string {
	return fmt.Sprintf("catalog[%s]", c.Name)
}

// Resource returns a record for name.  The blob is not checked until
// it is opened.
func (c *Catalog) Resource(name, class string) *Resource {
	return &Resource{
		Name:  name,
		Class: class,
		id:    unx.NewID(),
		ctx:   weak.Make(c),
	}
}

// Resource names a blob in a Catalog.  It does not keep the catalog
// alive.
type Resource struct {
	Name  string
	Class string

	id  unx.ID
	ctx weak.Pointer[Catalog]
}

func (r *Resource) ID() unx.ID     { return r.id }
func (r *Resource) Type() unx.Type { return unx.TypeResource }
func (r *Resource) Close() error   { return nil }

func (r *Resource) String() string {
	return fmt.Sprintf("resource[%s]", r.Name)
}

// Context returns the owning catalog, or nil if it was collected.
func (r *Resource) Context() *Catalog {
	return r.ctx.Value()
}

func (r *Resource) fs(op string) (fs.FS, error) {
	c := r.Context()
	if c == nil || c.FS == nil {
		return nil, unx.Errorf(op, r.Name, unx.ResourceUnavailable, "no catalog")
	}
	return c.FS, nil
}

// Open returns a reader over the blob.
func (r *Resource) Open() (io.ReadCloser, error) {
	fsys, err := r.fs("open")
	if err != nil {
		return nil, err
	}

	f, err := fsys.Open(r.Name)
	if err != nil {
		return nil, unx.Wrap("open", r.Name, err)
	}
	return f, nil
}

// Exists reports whether the catalog holds the blob.
func (r *Resource) Exists() bool {
	_, err := r.stat()
	return err == nil
}

func (r *Resource) Size() (int64, error) {
	info, err := r.stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (r *Resource) stat() (fs.FileInfo, error) {
	fsys, err := r.fs("stat")
	if err != nil {
		return nil, err
	}

	info, err := fs.Stat(fsys, r.Name)
	if err != nil {
		return nil, unx.Wrap("stat", r.Name, err)
	}
	return info, nil
}

// Contents reads the whole blob.
func (r *Resource) Contents() ([]byte, error) {
	fsys, err := r.fs("read")
	if err != nil {
		return nil, err
	}

	b, err := fs.ReadFile(fsys, r.Name)
	if err != nil {
		return nil, unx.Wrap("read", r.Name, err)
	}
	return b, nil
}
