package format

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/fastqtools/internal/parser"
)

func view(id1, seq, id2, qual string) parser.View {
	return parser.View{ID1: []byte(id1), Seq: []byte(seq), ID2: []byte(id2), Qual: []byte(qual)}
}

func TestAppendFASTQ(t *testing.T) {
	t.Parallel()

	v := view("r1 desc", "ACGT", "r1", "IIII")
	out := Append(nil, v)
	assert.Equal(t, "@r1 desc\nACGT\n+r1\nIIII\n", string(out))
	assert.Len(t, out, Size(v))
}

func TestAppendFASTA(t *testing.T) {
	t.Parallel()

	v := view("r1", "ACGT", "", "")
	out := Append([]byte("keep"), v)
	assert.Equal(t, "keep>r1\nACGT\n", string(out))
	assert.Len(t, out, 4+Size(v))
}

func TestWriterCounts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(view("a", "AC", "", "II")))
	require.NoError(t, w.Write(view("b", "G", "", "")))
	assert.Empty(t, buf.Bytes(), "output stays buffered until Flush")
	require.NoError(t, w.Flush())

	assert.Equal(t, "@a\nAC\n+\nII\n>b\nG\n", buf.String())
	assert.Equal(t, 2, w.Records())
	assert.Equal(t, int64(buf.Len()), w.Bytes())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	const alphabet = "ACGTN"
	randomField := func(n int, chars string) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = chars[rng.IntN(len(chars))]
		}
		return string(b)
	}

	var want []parser.View
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < 500; i++ {
		n := 1 + rng.IntN(200)
		v := view(
			randomField(1+rng.IntN(30), "abcdefghij0123456789:_ #/"),
			randomField(n, alphabet),
			"",
			randomField(n, "!#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJ"),
		)
		switch i % 3 {
		case 1:
			v.ID2 = v.ID1
		case 2:
			v.Qual = nil // FASTA-style
		}
		want = append(want, v)
		require.NoError(t, w.Write(v))
	}
	require.NoError(t, w.Flush())

	// Small blocks make records straddle refills.
	p := parser.NewSize(&buf, 64)
	for i, v := range want {
		rec, err := p.Next()
		require.NoError(t, err, "record %d", i)
		got := rec.View()
		assert.Equal(t, string(v.ID1), string(got.ID1))
		assert.Equal(t, string(v.Seq), string(got.Seq))
		assert.Equal(t, string(v.ID2), string(got.ID2))
		assert.Equal(t, string(v.Qual), string(got.Qual))
	}
	_, err := p.Next()
	assert.ErrorIs(t, err, io.EOF)
}
