// Package sorter implements a bounded-memory external sort of FASTQ
// records: records accumulate in a fixed-size arena, full arenas are
// sorted and spilled to disk, and the spilled runs are k-way merged.
package sorter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/vertti/fastqtools/internal/chunk"
	"github.com/vertti/fastqtools/internal/compress"
	"github.com/vertti/fastqtools/internal/format"
	"github.com/vertti/fastqtools/internal/order"
	"github.com/vertti/fastqtools/internal/parser"
	"github.com/vertti/fastqtools/internal/spill"
)

// DefaultBufferSize is the default arena budget in bytes.
const DefaultBufferSize = 100000000

// DefaultMaxFanIn is the default number of spill files merged at once.
const DefaultMaxFanIn = 256

var (
	// ErrBufferTooSmall is returned when a single record does not fit in
	// an empty arena.
	ErrBufferTooSmall = errors.New("record does not fit in the sort buffer; increase the buffer size")

	// ErrFinished is returned when records are added after Finish.
	ErrFinished = errors.New("sorter already finished")
)

// Options configures a Sorter.
type Options struct {
	BufferSize int              // Arena budget in bytes (default: 100000000)
	Comparator order.Comparator // Sort order (default: by id, ascending)
	TempDir    string           // Spill directory (default: os.TempDir())
	Codec      compress.Codec   // Spill file encoding (default: plain FASTQ)
	Logger     *slog.Logger     // Diagnostics (default: discard)
	MaxFanIn   int              // Spill files open at once while merging (default: 256, minimum 2)
}

type state uint8

const (
	stateAccumulate state = iota
	stateFlush
	stateMerge
	stateDirect
	stateDone
)

func (s state) String() string {
	switch s {
	case stateAccumulate:
		return "accumulate"
	case stateFlush:
		return "flush"
	case stateMerge:
		return "merge"
	case stateDirect:
		return "direct"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Stats summarizes a sort run.
type Stats struct {
	Records      int   // records added
	Spills       int   // chunks written to disk
	SpilledBytes int64 // bytes written to spill files
	MergePasses  int   // intermediate merges needed to respect MaxFanIn
}

// Sorter accumulates records and writes them out in sorted order.
// A Sorter must be closed to remove its temporary files.
type Sorter struct {
	opts   Options
	arena  *chunk.Arena
	spills *spill.Manager
	files  []*spill.File
	state  state
	stats  Stats
}

// New creates a Sorter. opts may be nil to use the defaults.
func New(opts *Options) (*Sorter, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.MaxFanIn <= 0 {
		o.MaxFanIn = DefaultMaxFanIn
	}
	o.MaxFanIn = max(o.MaxFanIn, 2)

	m, err := spill.New(o.TempDir, o.Codec, o.Logger)
	if err != nil {
		return nil, err
	}
	o.Logger.Debug("sorter ready",
		"buffer", humanize.Bytes(uint64(o.BufferSize)), //nolint:gosec // positive
		"order", o.Comparator,
		"tempdir", m.Dir(),
		"codec", o.Codec,
	)
	return &Sorter{
		opts:   o,
		arena:  chunk.New(o.BufferSize),
		spills: m,
		state:  stateAccumulate,
	}, nil
}

// Add copies one record into the sorter, spilling the current chunk to
// disk when it is full.
func (s *Sorter) Add(v parser.View) error {
	if s.state != stateAccumulate {
		return ErrFinished
	}
	if !s.arena.Fits(v) {
		return fmt.Errorf("%w: record %d (%q) needs %d bytes, buffer is %d bytes",
			ErrBufferTooSmall, s.stats.Records+1, v.ID1, chunk.Size(v), s.arena.Cap())
	}
	if !s.arena.Push(v) {
		if err := s.flush(); err != nil {
			return err
		}
		s.arena.Push(v)
	}
	s.stats.Records++
	return nil
}

// ReadFrom adds every remaining record from p and returns how many were
// added.
func (s *Sorter) ReadFrom(p *parser.Parser) (int, error) {
	n := 0
	for {
		rec, err := p.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := s.Add(rec.View()); err != nil {
			return n, err
		}
		n++
	}
}

// flush sorts the arena, writes it to a spill file and clears it.
func (s *Sorter) flush() error {
	s.state = stateFlush
	s.opts.Logger.Debug("flushing chunk",
		"records", s.arena.Len(),
		"used", humanize.Bytes(uint64(s.arena.Used())), //nolint:gosec // non-negative
	)
	s.arena.Sort(s.opts.Comparator)
	f, err := s.spills.Spill(s.arena)
	if err != nil {
		return err
	}
	s.files = append(s.files, f)
	s.stats.Spills++
	s.stats.SpilledBytes += f.Size
	s.arena.Clear()
	s.state = stateAccumulate
	return nil
}

// Finish writes all records to w in sorted order. If nothing was
// spilled the in-memory chunk is written directly; otherwise the final
// chunk is spilled too and all spill files are merged.
func (s *Sorter) Finish(w io.Writer) error {
	if s.state != stateAccumulate {
		return ErrFinished
	}
	out := format.NewWriter(w)

	var err error
	if len(s.files) == 0 {
		err = s.writeDirect(out)
	} else {
		err = s.writeMerged(out)
	}
	s.state = stateDone
	if err != nil {
		return err
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	s.opts.Logger.Debug("sort finished",
		"records", out.Records(),
		"written", humanize.Bytes(uint64(out.Bytes())), //nolint:gosec // non-negative
		"spills", s.stats.Spills,
		"spilled", humanize.Bytes(uint64(s.stats.SpilledBytes)), //nolint:gosec // non-negative
		"passes", s.stats.MergePasses,
	)
	return nil
}

func (s *Sorter) writeDirect(out *format.Writer) error {
	s.state = stateDirect
	s.arena.Sort(s.opts.Comparator)
	for i := 0; i < s.arena.Len(); i++ {
		if err := out.Write(s.arena.View(i)); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	return nil
}

func (s *Sorter) writeMerged(out *format.Writer) error {
	if s.arena.Len() > 0 {
		if err := s.flush(); err != nil {
			return err
		}
	}
	s.state = stateMerge
	for len(s.files) > s.opts.MaxFanIn {
		if err := s.mergePass(); err != nil {
			return err
		}
	}
	s.opts.Logger.Debug("merging spill files", "files", len(s.files), "comparator", s.opts.Comparator)

	sources, err := openSources(s.spills, s.files)
	if err != nil {
		return err
	}
	defer closeSources(sources)
	return merge(sources, s.opts.Comparator, out)
}

// mergePass merges each run of MaxFanIn consecutive spill files into one
// new spill file. Runs stay in input order, so ties still resolve by
// input position.
func (s *Sorter) mergePass() error {
	s.stats.MergePasses++
	s.opts.Logger.Debug("intermediate merge", "files", len(s.files), "fan-in", s.opts.MaxFanIn)

	merged := make([]*spill.File, 0, (len(s.files)+s.opts.MaxFanIn-1)/s.opts.MaxFanIn)
	for group := range slices.Chunk(s.files, s.opts.MaxFanIn) {
		if len(group) == 1 {
			merged = append(merged, group[0])
			continue
		}
		f, err := s.mergeGroup(group)
		if err != nil {
			return err
		}
		merged = append(merged, f)
	}
	s.files = merged
	return nil
}

func (s *Sorter) mergeGroup(group []*spill.File) (*spill.File, error) {
	sources, err := openSources(s.spills, group)
	if err != nil {
		return nil, err
	}
	f, err := s.spills.SpillFunc(func(w *format.Writer) error {
		return merge(sources, s.opts.Comparator, w)
	})
	closeSources(sources)
	if err != nil {
		return nil, err
	}
	s.stats.SpilledBytes += f.Size
	for _, g := range group {
		s.spills.Remove(g)
	}
	return f, nil
}

// Stats returns counters for the run so far.
func (s *Sorter) Stats() Stats { return s.stats }

// TempFiles returns the spill files currently on disk.
func (s *Sorter) TempFiles() []string { return s.spills.Files() }

// Close removes all spill files. It is safe to call more than once and
// must be called on every path, including after errors.
func (s *Sorter) Close() {
	s.spills.Teardown()
	s.state = stateDone
}

// Sort reads every input in order, sorts the records and writes them to
// w. Spill files are removed before Sort returns.
func Sort(inputs []io.Reader, w io.Writer, opts *Options) error {
	s, err := New(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, r := range inputs {
		if _, err := s.ReadFrom(parser.New(r)); err != nil {
			return err
		}
	}
	return s.Finish(w)
}
