// Package registry tracks live handles in an in-memory database indexed
// by handle ID, handle type and, for processes, OS process ID.
package registry

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"github.com/wetware/unx"
	"go.uber.org/multierr"
)

const table = "handle"

var Schema = memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		table: {
			Name: table,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"type": {
					Name:    "type",
					Indexer: &memdb.StringFieldIndex{Field: "Type"},
				},
				"pid": {
					Name:         "pid",
					Unique:       true,
					AllowMissing: true,
					Indexer:      pidIndex{&memdb.IntFieldIndex{Field: "PID"}},
				},
			},
		},
	},
}

// pidIndex skips entries without a process ID.
type pidIndex struct{ *memdb.IntFieldIndex }

func (ix pidIndex) FromObject(obj any) (bool, []byte, error) {
	if e, ok := obj.(*Entry); ok && e.PID <= 0 {
		return false, nil, nil
	}
	return ix.IntFieldIndex.FromObject(obj)
}

// Entry is an immutable snapshot of a registered handle.
type Entry struct {
	ID     string
	Type   string
	PID    int
	Handle unx.Handle
}

// PIDer is implemented by handles that own an OS process.
type PIDer interface {
	PID() int
}

func entry(h unx.Handle) *Entry {
	e := &Entry{
		ID:     h.ID().String(),
		Type:   string(h.Type()),
		Handle: h,
	}

	if p, ok := h.(PIDer); ok {
		e.PID = p.PID()
	}

	return e
}

type Registry struct {
	db *memdb.MemDB
}

func New() (*Registry, error) {
	db, err := memdb.NewMemDB(&Schema)
	if err != nil {
		return nil, err
	}

	return &Registry{db: db}, nil
}

// Put adds h, or re-indexes it if already present.  Call Put again
// after a handle's process ID changes.
func (r *Registry) Put(h unx.Handle) error {
	tx := r.db.Txn(true)
	defer tx.Abort()

	if err := tx.Insert(table, entry(h)); err != nil {
		return errors.Wrap(err, "insert")
	}

	tx.Commit()
	return nil
}

// Remove drops the handle with the given ID.  Removing an unknown ID
// is not an error.
func (r *Registry) Remove(id unx.ID) error {
	tx := r.db.Txn(true)
	defer tx.Abort()

	if _, err := tx.DeleteAll(table, "id", id.String()); err != nil {
		return errors.Wrap(err, "delete")
	}

	tx.Commit()
	return nil
}

func (r *Registry) Get(id unx.ID) (unx.Handle, bool) {
	return r.first("id", id.String())
}

// ByPID returns the handle owning the OS process pid.
func (r *Registry) ByPID(pid int) (unx.Handle, bool) {
	if pid <= 0 {
		return nil, false
	}
	return r.first("pid", pid)
}

func (r *Registry) first(index string, arg any) (unx.Handle, bool) {
	tx := r.db.Txn(false)
	defer tx.Abort()

	v, err := tx.First(table, index, arg)
	if err != nil || v == nil {
		return nil, false
	}

	return v.(*Entry).Handle, true
}

// List returns entries of the given type, or every entry if t is
// empty.
func (r *Registry) List(t unx.Type) ([]Entry, error) {
	tx := r.db.Txn(false)
	defer tx.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	if t == "" {
		it, err = tx.Get(table, "id")
	} else {
		it, err = tx.Get(table, "type", string(t))
	}
	if err != nil {
		return nil, err
	}

	var es []Entry
	for v := it.Next(); v != nil; v = it.Next() {
		es = append(es, *v.(*Entry))
	}
	return es, nil
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	es, _ := r.List("")
	return len(es)
}

// Close closes and removes every registered handle.
func (r *Registry) Close() error {
	es, err := r.List("")
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range es {
		errs = append(errs, e.Handle.Close(), r.Remove(e.Handle.ID()))
	}
	return multierr.Combine(errs...)
}
