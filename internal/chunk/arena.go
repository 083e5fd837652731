// Package chunk holds a bounded in-memory batch of records for sorting.
package chunk

import (
	"slices"

	"github.com/vertti/fastqtools/internal/order"
	"github.com/vertti/fastqtools/internal/parser"
)

const initialEntries = 1024

// span locates one field inside the arena's byte region.
type span struct {
	off, n int
}

// entry is one record: spans for id1, sequence, id2 and quality.
type entry [4]span

// Arena stores records in a single byte region of fixed capacity.
// Records are referenced by offset, so the entry array may be
// reallocated freely while the region never is.
type Arena struct {
	data    []byte
	entries []entry
}

// New creates an arena holding up to capacity bytes of record data.
func New(capacity int) *Arena {
	return &Arena{
		data:    make([]byte, 0, capacity),
		entries: make([]entry, 0, initialEntries),
	}
}

// Size returns the arena bytes needed to store v: every field plus its
// terminator.
func Size(v parser.View) int {
	return len(v.ID1) + len(v.Seq) + len(v.ID2) + len(v.Qual) + 4
}

// Push copies v into the arena. It returns false, leaving the arena
// untouched, when v does not fit in the remaining space.
func (a *Arena) Push(v parser.View) bool {
	if Size(v) > cap(a.data)-len(a.data) {
		return false
	}
	if len(a.entries) == cap(a.entries) {
		grown := make([]entry, len(a.entries), max(2*cap(a.entries), initialEntries))
		copy(grown, a.entries)
		a.entries = grown
	}

	var e entry
	for i, f := range v.Fields() {
		e[i] = span{off: len(a.data), n: len(f)}
		a.data = append(a.data, f...)
		a.data = append(a.data, '\n')
	}
	a.entries = append(a.entries, e)
	return true
}

// Fits reports whether v could be stored in an empty arena.
func (a *Arena) Fits(v parser.View) bool {
	return Size(v) <= cap(a.data)
}

// View returns record i. The view aliases the arena and is valid until
// the next Clear.
func (a *Arena) View(i int) parser.View {
	return a.view(a.entries[i])
}

func (a *Arena) view(e entry) parser.View {
	return parser.View{
		ID1:  a.bytes(e[0]),
		Seq:  a.bytes(e[1]),
		ID2:  a.bytes(e[2]),
		Qual: a.bytes(e[3]),
	}
}

func (a *Arena) bytes(s span) []byte {
	return a.data[s.off : s.off+s.n : s.off+s.n]
}

// Sort orders the records in place. Records with equal keys keep their
// insertion order.
func (a *Arena) Sort(c order.Comparator) {
	slices.SortStableFunc(a.entries, func(x, y entry) int {
		return c.Compare(a.view(x), a.view(y))
	})
}

// Clear drops all records, keeping the allocated storage.
func (a *Arena) Clear() {
	a.data = a.data[:0]
	a.entries = a.entries[:0]
}

// Len returns the number of records held.
func (a *Arena) Len() int { return len(a.entries) }

// Cap returns the byte capacity.
func (a *Arena) Cap() int { return cap(a.data) }

// Used returns the bytes of record data held.
func (a *Arena) Used() int { return len(a.data) }
