package sorter

import (
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/fastqtools/internal/chunk"
	"github.com/vertti/fastqtools/internal/compress"
	"github.com/vertti/fastqtools/internal/order"
	"github.com/vertti/fastqtools/internal/parser"
	"github.com/vertti/fastqtools/internal/spill"
)

type rec struct {
	id, seq, id2, qual string
}

func (r rec) view() parser.View {
	return parser.View{ID1: []byte(r.id), Seq: []byte(r.seq), ID2: []byte(r.id2), Qual: []byte(r.qual)}
}

func fastq(recs ...rec) string {
	var b strings.Builder
	for _, r := range recs {
		if r.qual == "" {
			fmt.Fprintf(&b, ">%s\n%s\n", r.id, r.seq)
			continue
		}
		fmt.Fprintf(&b, "@%s\n%s\n+%s\n%s\n", r.id, r.seq, r.id2, r.qual)
	}
	return b.String()
}

func parseAll(t *testing.T, data string) []rec {
	t.Helper()
	p := parser.New(strings.NewReader(data))
	var out []rec
	for {
		r, err := p.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec{r.ID1.String(), r.Seq.String(), r.ID2.String(), r.Qual.String()})
	}
}

func ids(recs []rec) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.id
	}
	return out
}

func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, spill.Pattern))
	require.NoError(t, err)
	return matches
}

// run sorts input and returns the parsed output and run stats.
func run(t *testing.T, input string, opts Options) ([]rec, Stats) {
	t.Helper()
	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = 1 << 20
	}
	s, err := New(&opts)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReadFrom(parser.New(strings.NewReader(input)))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, s.Finish(&out))
	stats := s.Stats()
	s.Close()
	assert.Empty(t, leftovers(t, opts.TempDir))
	return parseAll(t, out.String()), stats
}

var threeReads = []rec{
	{"read3", "GGGG", "", "IIII"},
	{"read1", "TTTT", "", "IIII"},
	{"read2", "AAAA", "", "IIII"},
}

func TestBasicSortByID(t *testing.T) {
	t.Parallel()

	out, stats := run(t, fastq(threeReads...), Options{Comparator: order.ByID()})
	assert.Equal(t, []string{"read1", "read2", "read3"}, ids(out))
	assert.Zero(t, stats.Spills, "everything fits: direct path")
	assert.Equal(t, 3, stats.Records)
}

func TestForcedSpillByID(t *testing.T) {
	t.Parallel()

	size := chunk.Size(threeReads[0].view())
	out, stats := run(t, fastq(threeReads...), Options{BufferSize: size, Comparator: order.ByID()})
	assert.Equal(t, []string{"read1", "read2", "read3"}, ids(out))
	assert.Equal(t, 3, stats.Spills, "one record per chunk: merge path")
	assert.Positive(t, stats.SpilledBytes)
}

func TestBufferTooSmall(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := rec{"read1", strings.Repeat("A", 100), "", strings.Repeat("I", 100)}
	err := Sort([]io.Reader{strings.NewReader(fastq(r))}, io.Discard, &Options{BufferSize: 50, TempDir: dir})
	require.ErrorIs(t, err, ErrBufferTooSmall)
	assert.Contains(t, err.Error(), "increase the buffer size")
	assert.Empty(t, leftovers(t, dir))
}

func TestFASTAFallbackSurvivesSpill(t *testing.T) {
	t.Parallel()

	input := fastq(
		rec{"b", "ACGT", "", ""},
		rec{"a", "GG", "a", "II"},
		rec{"c", "T", "", ""},
	)
	out, _ := run(t, input, Options{BufferSize: 20})
	assert.Equal(t, []rec{
		{"a", "GG", "a", "II"},
		{"b", "ACGT", "", ""},
		{"c", "T", "", ""},
	}, out)
}

func TestSortBySequenceReversed(t *testing.T) {
	t.Parallel()

	out, _ := run(t, fastq(threeReads...), Options{Comparator: order.BySequence().Reversed()})
	assert.Equal(t, []string{"read1", "read3", "read2"}, ids(out))
}

func randomRecords(rng *rand.Rand, n int, uniqueIDs bool) []rec {
	const bases = "ACGT"
	recs := make([]rec, n)
	for i := range recs {
		l := 1 + rng.IntN(40)
		seq := make([]byte, l)
		qual := make([]byte, l)
		for j := range seq {
			seq[j] = bases[rng.IntN(4)]
			qual[j] = byte('!' + rng.IntN(40))
		}
		id := fmt.Sprintf("read%d", rng.IntN(n/4+1))
		if uniqueIDs {
			id = fmt.Sprintf("read%07d", i*7919%1000003) // distinct, not in input order
		}
		recs[i] = rec{id: id, seq: string(seq), qual: string(qual)}
	}
	return recs
}

func TestPermutationAndOrder(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	input := randomRecords(rng, 400, false)
	data := fastq(input...)

	comparators := []order.Comparator{
		order.ByID(), order.ByID().Reversed(),
		order.BySequence(), order.BySequence().Reversed(),
		order.ByHash(11),
	}
	for _, c := range comparators {
		var first []rec
		for _, budget := range []int{200, 1000, 5000, 1 << 20} {
			out, stats := run(t, data, Options{BufferSize: budget, Comparator: c})
			require.Len(t, out, len(input), "%s budget %d", c, budget)
			assert.ElementsMatch(t, input, out, "%s budget %d: output is a permutation", c, budget)
			assert.True(t, slices.IsSortedFunc(out, func(a, b rec) int {
				return c.Compare(a.view(), b.view())
			}), "%s budget %d: output is ordered", c, budget)
			if budget == 200 {
				assert.Greater(t, stats.Spills, 3)
			}

			// Ties keep input order, so every budget yields the same stream.
			if first == nil {
				first = out
			} else {
				assert.Equal(t, first, out, "%s budget %d", c, budget)
			}
		}
	}
}

func TestMergeMatchesDirect(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	input := randomRecords(rng, 300, true)
	data := fastq(input...)

	direct, stats := run(t, data, Options{Comparator: order.ByID()})
	require.Zero(t, stats.Spills)

	merged, stats := run(t, data, Options{BufferSize: 600, Comparator: order.ByID()})
	require.GreaterOrEqual(t, stats.Spills, 3)

	assert.Equal(t, direct, merged)
}

func TestMergeFanInLimit(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(9, 10))
	input := randomRecords(rng, 300, false)
	data := fastq(input...)

	for _, c := range []order.Comparator{order.BySequence(), order.ByHash(3).Reversed()} {
		direct, stats := run(t, data, Options{Comparator: c})
		require.Zero(t, stats.Spills)

		for _, fanIn := range []int{2, 3, 7} {
			merged, stats := run(t, data, Options{BufferSize: 300, Comparator: c, MaxFanIn: fanIn})
			assert.Greater(t, stats.Spills, fanIn, "%s fan-in %d", c, fanIn)
			assert.Positive(t, stats.MergePasses, "%s fan-in %d", c, fanIn)
			assert.Equal(t, direct, merged, "%s fan-in %d: ties keep input order", c, fanIn)
		}
	}
}

func TestNoIntermediateMergeWithinFanIn(t *testing.T) {
	t.Parallel()

	size := chunk.Size(threeReads[0].view())
	out, stats := run(t, fastq(threeReads...), Options{BufferSize: size, MaxFanIn: 3})
	assert.Equal(t, []string{"read1", "read2", "read3"}, ids(out))
	assert.Equal(t, 3, stats.Spills)
	assert.Zero(t, stats.MergePasses)
}

func TestZstdSpills(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 8))
	input := randomRecords(rng, 200, false)
	data := fastq(input...)

	plain, _ := run(t, data, Options{BufferSize: 500})
	zstd, stats := run(t, data, Options{BufferSize: 500, Codec: compress.Zstd})
	assert.Greater(t, stats.Spills, 1)
	assert.Equal(t, plain, zstd)
}

func TestMultipleInputsConcatenate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputs := []io.Reader{
		strings.NewReader(fastq(threeReads[0])),
		strings.NewReader(fastq(threeReads[1], threeReads[2])),
	}
	var out bytes.Buffer
	require.NoError(t, Sort(inputs, &out, &Options{TempDir: dir, BufferSize: 30}))
	assert.Equal(t, []string{"read1", "read2", "read3"}, ids(parseAll(t, out.String())))
	assert.Empty(t, leftovers(t, dir))
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()

	out, stats := run(t, "", Options{})
	assert.Empty(t, out)
	assert.Zero(t, stats.Records)
}

func TestCleanupAfterMalformedInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	size := chunk.Size(threeReads[0].view())
	input := fastq(threeReads...) + "not a record\n"

	err := Sort([]io.Reader{strings.NewReader(input)}, io.Discard, &Options{BufferSize: size, TempDir: dir})
	require.ErrorIs(t, err, parser.ErrMalformed)
	assert.Empty(t, leftovers(t, dir))
}

func TestTempFilesTrackedUntilClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	size := chunk.Size(threeReads[0].view())
	s, err := New(&Options{BufferSize: size, TempDir: dir})
	require.NoError(t, err)
	defer s.Close()

	for _, r := range threeReads {
		require.NoError(t, s.Add(r.view()))
	}
	assert.Len(t, s.TempFiles(), 2, "third record still in memory")
	require.NoError(t, s.Finish(io.Discard))
	assert.Len(t, leftovers(t, dir), 3)

	s.Close()
	assert.Empty(t, leftovers(t, dir))
	assert.Empty(t, s.TempFiles())
}

func TestAddAfterFinish(t *testing.T) {
	t.Parallel()

	s, err := New(&Options{TempDir: t.TempDir(), BufferSize: 1024})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Finish(io.Discard))
	assert.ErrorIs(t, s.Add(threeReads[0].view()), ErrFinished)
	assert.ErrorIs(t, s.Finish(io.Discard), ErrFinished)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestOutputErrorCleansUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	size := chunk.Size(threeReads[0].view())
	err := Sort([]io.Reader{strings.NewReader(fastq(threeReads...))}, failingWriter{}, &Options{BufferSize: size, TempDir: dir})
	require.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Empty(t, leftovers(t, dir))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "accumulate", stateAccumulate.String())
	assert.Equal(t, "merge", stateMerge.String())
	assert.Equal(t, "done", stateDone.String())
}
