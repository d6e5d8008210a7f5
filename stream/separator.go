package stream

import (
	"bytes"
	"regexp"
)

// Separator finds record boundaries in buffered input.
//
// Split is called with the unconsumed part of the read buffer.  It
// returns the length of the first record and the number of bytes to
// consume, which is the record plus its delimiter.  If data holds no
// complete record, ok is false and the stream waits for more input.
// Records never include their delimiter.
type Separator interface {
	Split(data []byte) (record, advance int, ok bool)
}

// SplitFunc adapts a function to the Separator interface.
type SplitFunc func(data []byte) (record, advance int, ok bool)

func (f SplitFunc) Split(data []byte) (int, int, bool) {
	return f(data)
}

// Line splits input on '\n'.  It is the default separator.
var Line Separator = Byte('\n')

// None never splits.  The whole input becomes one record at EOF.
var None Separator = SplitFunc(func([]byte) (int, int, bool) {
	return 0, 0, false
})

// Byte splits input on a single delimiter byte.
type Byte byte

func (c Byte) Split(data []byte) (int, int, bool) {
	if i := bytes.IndexByte(data, byte(c)); i >= 0 {
		return i, i + 1, true
	}
	return 0, 0, false
}

// Sequence splits input on a multi-byte delimiter.  Matches are
// leftmost and do not overlap.  A delimiter that straddles two reads is
// found once the second read arrives, because Split always sees every
// unconsumed byte.  Sequence panics if seq is empty.
func Sequence(seq []byte) Separator {
	switch len(seq) {
	case 0:
		panic("stream: empty separator sequence")
	case 1:
		return Byte(seq[0])
	}

	seq = bytes.Clone(seq)
	return SplitFunc(func(data []byte) (int, int, bool) {
		if i := bytes.Index(data, seq); i >= 0 {
			return i, i + len(seq), true
		}
		return 0, 0, false
	})
}

// Pattern splits input on the leftmost non-empty match of re.  Empty
// matches are skipped.  A match is only as long as the buffered data allows, so
// patterns with unbounded repetition at their end may match short.
func Pattern(re *regexp.Regexp) Separator {
	return SplitFunc(func(data []byte) (int, int, bool) {
		for _, loc := range re.FindAllIndex(data, -1) {
			if loc[0] < loc[1] {
				return loc[0], loc[1], true
			}
		}
		return 0, 0, false
	})
}

// Fixed splits input into records of exactly n bytes.  The final record
// at EOF may be shorter.  Fixed panics if n < 1.
func Fixed(n int) Separator {
	if n < 1 {
		panic("stream: record size must be positive")
	}

	return SplitFunc(func(data []byte) (int, int, bool) {
		if len(data) < n {
			return 0, 0, false
		}
		return n, n, true
	})
}
