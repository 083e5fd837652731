// Package format serializes records as FASTQ or FASTA text.
package format

import (
	"bufio"
	"io"

	"github.com/vertti/fastqtools/internal/parser"
)

// Line sigils.
const (
	SigilFASTQ     = '@'
	SigilFASTA     = '>'
	SigilSeparator = '+'
)

// DefaultBufferSize is the write buffer used by NewWriter.
const DefaultBufferSize = 1 << 20 // 1MB buffer

// Append appends the serialized record to dst and returns the result:
// four FASTQ lines when the record has a quality line, otherwise the
// two-line FASTA form.
func Append(dst []byte, v parser.View) []byte {
	if v.IsFASTA() {
		dst = append(dst, SigilFASTA)
		dst = append(dst, v.ID1...)
		dst = append(dst, '\n')
		dst = append(dst, v.Seq...)
		return append(dst, '\n')
	}
	dst = append(dst, SigilFASTQ)
	dst = append(dst, v.ID1...)
	dst = append(dst, '\n')
	dst = append(dst, v.Seq...)
	dst = append(dst, '\n', SigilSeparator)
	dst = append(dst, v.ID2...)
	dst = append(dst, '\n')
	dst = append(dst, v.Qual...)
	return append(dst, '\n')
}

// Size returns the number of bytes Append writes for v.
func Size(v parser.View) int {
	if v.IsFASTA() {
		return len(v.ID1) + len(v.Seq) + 3
	}
	return len(v.ID1) + len(v.Seq) + len(v.ID2) + len(v.Qual) + 6
}

// Writer is a buffered record writer.
type Writer struct {
	bw      *bufio.Writer
	scratch []byte
	records int
	bytes   int64
}

// NewWriter wraps w with a DefaultBufferSize buffer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:      bufio.NewWriterSize(w, DefaultBufferSize),
		scratch: make([]byte, 0, 512),
	}
}

// Write serializes one record.
func (w *Writer) Write(v parser.View) error {
	if need := Size(v); cap(w.scratch) < need {
		w.scratch = make([]byte, 0, need)
	}
	w.scratch = Append(w.scratch[:0], v)
	n, err := w.bw.Write(w.scratch)
	w.bytes += int64(n)
	if err != nil {
		return err
	}
	w.records++
	return nil
}

// Reset discards unflushed data and counters and directs output to dst.
func (w *Writer) Reset(dst io.Writer) {
	w.bw.Reset(dst)
	w.records = 0
	w.bytes = 0
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Records returns the number of records written.
func (w *Writer) Records() int { return w.records }

// Bytes returns the number of serialized bytes accepted so far.
func (w *Writer) Bytes() int64 { return w.bytes }
