package unx

import (
	"crypto/rand"
	"io"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// ID identifies a handle for the lifetime of the process.  It renders
// as base58.
type ID [8]byte

// NewID returns a random ID.  It panics if the system random source
// fails.
func NewID() ID {
	id, err := ReadID(rand.Reader)
	if err != nil {
		panic(err)
	}
	return id
}

// ReadID reads exactly len(ID) bytes from r.
func ReadID(r io.Reader) (id ID, err error) {
	_, err = io.ReadFull(r, id[:])
	return
}

// ParseID decodes the base58 form produced by String.
func ParseID(s string) (ID, error) {
	buf, err := base58.Decode(s)
	if err != nil {
		return ID{}, errors.Wrapf(err, "parse id %q", s)
	}

	var id ID
	if len(buf) != len(id) {
		return ID{}, errors.Errorf("parse id %q: decoded %d bytes, want %d", s, len(buf), len(id))
	}
	copy(id[:], buf)
	return id, nil
}

func (id ID) String() string {
	return base58.Encode(id[:])
}
