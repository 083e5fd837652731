package sorter

import (
	"container/heap"
	"errors"
	"fmt"
	"io"

	"github.com/vertti/fastqtools/internal/format"
	"github.com/vertti/fastqtools/internal/order"
	"github.com/vertti/fastqtools/internal/parser"
	"github.com/vertti/fastqtools/internal/spill"
)

// source is a pull iterator over one spilled chunk.
type source interface {
	Next() (*parser.Record, error)
	Close() error
}

// mergeSource is a heap entry: a source and its current head record.
type mergeSource struct {
	idx int // spill order, used to break ties
	src source
	cur *parser.Record
}

// advance loads the next record; it reports false at end of input.
func (m *mergeSource) advance() (bool, error) {
	rec, err := m.src.Next()
	if errors.Is(err, io.EOF) {
		m.cur = nil
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.cur = rec
	return true, nil
}

// mergeHeap is a binary min-heap of sources keyed by their head record.
type mergeHeap struct {
	items []*mergeSource
	cmp   order.Comparator
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if c := h.cmp.Compare(a.cur.View(), b.cur.View()); c != 0 {
		return c < 0
	}
	return a.idx < b.idx
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) { h.items = append(h.items, x.(*mergeSource)) } //nolint:errcheck // only *mergeSource is pushed

func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

// merge streams the union of the sorted sources to w in comparator
// order. Equal keys are emitted in source order.
func merge(sources []source, cmp order.Comparator, w *format.Writer) error {
	h := &mergeHeap{items: make([]*mergeSource, 0, len(sources)), cmp: cmp}
	for i, src := range sources {
		ms := &mergeSource{idx: i, src: src}
		ok, err := ms.advance()
		if err != nil {
			return err
		}
		if ok {
			h.items = append(h.items, ms)
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		top := h.items[0]
		if err := w.Write(top.cur.View()); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		ok, err := top.advance()
		if err != nil {
			return err
		}
		if ok {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return nil
}

// openSources opens every spill file. On error the sources opened so
// far are closed.
func openSources(m *spill.Manager, files []*spill.File) ([]source, error) {
	sources := make([]source, 0, len(files))
	for _, f := range files {
		src, err := m.Open(f)
		if err != nil {
			closeSources(sources)
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func closeSources(sources []source) {
	for _, s := range sources {
		_ = s.Close()
	}
}
