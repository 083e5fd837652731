package parser

// defaultFieldSize is the starting capacity of each field in a record
// created by NewRecord.
const defaultFieldSize = 128

// Field is a growable byte buffer holding one line of a record.
// When an append overflows, capacity doubles, or grows to exactly fit
// if doubling is not enough.
type Field struct {
	buf []byte
}

// Bytes returns the field contents. The slice aliases the field's
// buffer and is only valid until the next Append or Reset.
func (f *Field) Bytes() []byte { return f.buf }

// Len returns the number of bytes held.
func (f *Field) Len() int { return len(f.buf) }

// Cap returns the allocated capacity.
func (f *Field) Cap() int { return cap(f.buf) }

// Reset empties the field, keeping its capacity.
func (f *Field) Reset() { f.buf = f.buf[:0] }

// Append copies b to the end of the field.
func (f *Field) Append(b []byte) {
	f.reserve(len(b))
	f.buf = append(f.buf, b...)
}

// String returns a copy of the contents as a string.
func (f *Field) String() string { return string(f.buf) }

func (f *Field) reserve(n int) {
	need := len(f.buf) + n
	if need <= cap(f.buf) {
		return
	}
	size := 2 * cap(f.buf)
	if size < need {
		size = need
	}
	grown := make([]byte, len(f.buf), size)
	copy(grown, f.buf)
	f.buf = grown
}

// trimCR drops a single trailing carriage return.
func (f *Field) trimCR() {
	if n := len(f.buf); n > 0 && f.buf[n-1] == '\r' {
		f.buf = f.buf[:n-1]
	}
}

// Record represents a single FASTQ (or FASTA-style) entry.
// An empty Qual marks a FASTA-style record.
type Record struct {
	ID1  Field // Header line without the leading '@' or '>'
	Seq  Field // Sequence line
	ID2  Field // Plus line without the leading '+', usually empty
	Qual Field // Quality scores, same length as Seq when present
}

// NewRecord returns a record with preallocated field buffers.
func NewRecord() *Record {
	r := &Record{}
	for _, f := range r.fields() {
		f.buf = make([]byte, 0, defaultFieldSize)
	}
	return r
}

// Reset empties all four fields.
func (r *Record) Reset() {
	for _, f := range r.fields() {
		f.Reset()
	}
}

// View returns the record's fields as a View. The View aliases the
// record's buffers.
func (r *Record) View() View {
	return View{
		ID1:  r.ID1.buf,
		Seq:  r.Seq.buf,
		ID2:  r.ID2.buf,
		Qual: r.Qual.buf,
	}
}

func (r *Record) fields() [4]*Field {
	return [4]*Field{&r.ID1, &r.Seq, &r.ID2, &r.Qual}
}

// View is a read-only set of slices over one record's fields, backed
// either by a Record or by a chunk arena. Views are transient: they are
// only valid while their backing storage is left untouched.
type View struct {
	ID1  []byte
	Seq  []byte
	ID2  []byte
	Qual []byte
}

// Fields returns the four fields in file order.
func (v View) Fields() [4][]byte {
	return [4][]byte{v.ID1, v.Seq, v.ID2, v.Qual}
}

// IsFASTA reports whether the record carries no quality line.
func (v View) IsFASTA() bool { return len(v.Qual) == 0 }
