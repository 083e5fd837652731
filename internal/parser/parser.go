// Package parser provides incremental FASTQ/FASTA parsing.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultBlockSize is the number of bytes pulled from the source per read.
const DefaultBlockSize = 1000000

var (
	// ErrMalformed is returned when the input does not follow the
	// FASTQ/FASTA line structure.
	ErrMalformed = errors.New("malformed record")

	// ErrNotSeekable is returned by Rewind when the source cannot seek.
	ErrNotSeekable = errors.New("source is not seekable")
)

type state uint8

const (
	stateID1 state = iota
	stateSeq
	stateID2
	stateQual
)

func (s state) String() string {
	switch s {
	case stateID1:
		return "identifier"
	case stateSeq:
		return "sequence"
	case stateID2:
		return "separator"
	case stateQual:
		return "quality"
	default:
		return "unknown"
	}
}

// Parser reads records from an input stream.
type Parser struct {
	src       io.Reader
	block     []byte // fixed-size read block
	next, end int    // unconsumed bytes are block[next:end]
	lineStart bool   // cursor sits at the start of a line
	eof       bool
	rec       Record
	n         int // records returned so far
}

// New creates a parser with the default block size.
func New(r io.Reader) *Parser {
	return NewSize(r, DefaultBlockSize)
}

// NewSize creates a parser that reads the source in blocks of size bytes.
func NewSize(r io.Reader, size int) *Parser {
	if size <= 0 {
		size = DefaultBlockSize
	}
	return &Parser{
		src:       r,
		block:     make([]byte, size),
		lineStart: true,
		rec:       *NewRecord(),
	}
}

// Next reads and returns the next record.
// Returns io.EOF when no more records are available. The returned record
// is reused by the parser and is only valid until the next call.
func (p *Parser) Next() (*Record, error) {
	p.rec.Reset()
	st := stateID1

	for {
		if p.next >= p.end {
			if err := p.fill(); err != nil {
				return nil, err
			}
			if p.next >= p.end {
				return p.finish(st)
			}
		}

		if p.lineStart {
			c := p.block[p.next]
			switch st {
			case stateID1:
				switch c {
				case '\n', '\r':
					p.next++
					continue
				case '@', '>':
					p.next++
					p.lineStart = false
					continue
				default:
					return nil, p.errorf("expected '@' or '>' at start of record, found %q", c)
				}
			case stateID2:
				if c != '+' {
					// No separator: FASTA-style record, leave the line for the next call.
					return p.emit()
				}
				p.next++
				p.lineStart = false
				continue
			}
		}

		window := p.block[p.next:p.end]
		i := bytes.IndexByte(window, '\n')
		if i < 0 {
			p.field(st).Append(window)
			p.next = p.end
			p.lineStart = false
			continue
		}

		f := p.field(st)
		f.Append(window[:i])
		f.trimCR()
		p.next += i + 1
		p.lineStart = true

		if st == stateQual {
			return p.emit()
		}
		st++
	}
}

// Rewind repositions the source at its beginning and discards any
// buffered input. The source must implement io.Seeker.
func (p *Parser) Rewind() error {
	s, ok := p.src.(io.Seeker)
	if !ok {
		return ErrNotSeekable
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding input: %w", err)
	}
	p.next, p.end = 0, 0
	p.lineStart = true
	p.eof = false
	p.n = 0
	return nil
}

// Records returns the number of records returned so far.
func (p *Parser) Records() int { return p.n }

// fill refills the block. At end of input it leaves the block empty.
func (p *Parser) fill() error {
	p.next, p.end = 0, 0
	for !p.eof {
		n, err := p.src.Read(p.block)
		p.end = n
		if errors.Is(err, io.EOF) {
			p.eof = true
		} else if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
	return nil
}

// finish decides what end of input means in state st.
func (p *Parser) finish(st state) (*Record, error) {
	switch st {
	case stateID1:
		if p.lineStart {
			return nil, io.EOF
		}
	case stateSeq:
		if !p.lineStart {
			// Last line without a trailing newline.
			p.rec.Seq.trimCR()
			return p.emit()
		}
	case stateID2:
		if p.lineStart {
			return p.emit()
		}
	case stateQual:
		if !p.lineStart {
			p.rec.Qual.trimCR()
			return p.emit()
		}
	}
	return nil, p.errorf("truncated record in %s line", st)
}

func (p *Parser) emit() (*Record, error) {
	if q := p.rec.Qual.Len(); q != 0 && q != p.rec.Seq.Len() {
		return nil, p.errorf("sequence and quality lengths must match (%d != %d)", p.rec.Seq.Len(), q)
	}
	p.n++
	return &p.rec, nil
}

func (p *Parser) field(st state) *Field {
	switch st {
	case stateID1:
		return &p.rec.ID1
	case stateSeq:
		return &p.rec.Seq
	case stateID2:
		return &p.rec.ID2
	default:
		return &p.rec.Qual
	}
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: record %d: %s", ErrMalformed, p.n+1, fmt.Sprintf(format, args...))
}
