// fastq-sort concatenates and sorts FASTQ files using bounded memory.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vertti/fastqtools/internal/compress"
	"github.com/vertti/fastqtools/internal/order"
	"github.com/vertti/fastqtools/internal/parser"
	"github.com/vertti/fastqtools/internal/sorter"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

const progName = "fastq-sort"

// autoSeed is the --random value used when no seed is given.
const autoSeed = "auto"

type config struct {
	bufferSize   string
	reverse      bool
	byID         bool
	bySeq        bool
	random       string
	tempDir      string
	compressTemp string
	verbose      bool
	showVersion  bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newCommand(stdin, stdout, stderr)
	if args == nil {
		args = []string{} // cobra falls back to os.Args on nil
	}
	cmd.SetArgs(attachSeed(args))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return exitError
	}
	return exitSuccess
}

func newCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var cfg config

	cmd := &cobra.Command{
		Use:   progName + " [OPTION]... [FILE]...",
		Short: "Concatenate and sort FASTQ files and write to standard output.",
		Long: `Concatenate and sort FASTQ files and write to standard output.

With no FILE, or when FILE is -, read standard input. Records are sorted
in memory up to the buffer size; larger inputs are sorted in chunks that
are spilled to temporary files and merged.`,
		Example: `  fastq-sort reads.fq > sorted.fq
  fastq-sort -s -S 2G lane1.fq lane2.fq > by_seq.fq
  fastq-sort --random=42 < reads.fq > shuffled.fq`,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		SilenceErrors:         true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.showVersion {
				fmt.Fprintf(stdout, "%s (fastq-tools) %s\n", progName, version)
				return nil
			}
			return execute(cmd, cfg, args, stdin, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVarP(&cfg.bufferSize, "buffer-size", "S", "100M", "memory budget `SIZE[K|M|G]` for in-memory sorting")
	f.BoolVarP(&cfg.reverse, "reverse", "r", false, "sort in reverse order")
	f.BoolVarP(&cfg.byID, "id", "i", false, "sort alphabetically by read identifier (default)")
	f.BoolVarP(&cfg.bySeq, "seq", "s", false, "sort alphabetically by sequence")
	f.StringVarP(&cfg.random, "random", "R", "", "shuffle reproducibly by content hash, seeded with `SEED` (--random=SEED, -R=SEED or -RSEED)")
	f.Lookup("random").NoOptDefVal = autoSeed
	f.StringVarP(&cfg.tempDir, "temporary-directory", "T", "", "directory for temporary files (default $TMPDIR)")
	f.StringVar(&cfg.compressTemp, "compress-temp", compress.None.String(), "encode temporary files with `CODEC` (none or zstd)")
	f.Lookup("compress-temp").NoOptDefVal = compress.Zstd.String()
	f.BoolVarP(&cfg.verbose, "verbose", "v", false, "log progress to standard error")
	f.BoolVarP(&cfg.showVersion, "version", "V", false, "output version information and exit")
	cmd.MarkFlagsMutuallyExclusive("id", "seq", "random")

	return cmd
}

func execute(cmd *cobra.Command, cfg config, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, cfg.verbose)

	bufferSize, err := parseBufferSize(cfg.bufferSize)
	if err != nil {
		return err
	}
	cmp, err := comparator(cfg, cmd.Flags().Changed("random"), logger)
	if err != nil {
		return err
	}
	codec, err := compress.ParseCodec(cfg.compressTemp)
	if err != nil {
		return err
	}

	s, err := sorter.New(&sorter.Options{
		BufferSize: bufferSize,
		Comparator: cmp,
		TempDir:    cfg.tempDir,
		Codec:      codec,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) == 0 {
		args = []string{"-"}
	}
	for _, path := range args {
		if err := sortInput(s, path, stdin, logger); err != nil {
			return err
		}
	}
	return s.Finish(stdout)
}

// sortInput feeds one input into the sorter; only one file is open at a
// time.
func sortInput(s *sorter.Sorter, path string, stdin io.Reader, logger *slog.Logger) error {
	input, cleanup, err := openInput(path, stdin)
	if err != nil {
		return err
	}
	defer cleanup()

	p := parser.New(input)
	if _, err := s.ReadFrom(p); err != nil {
		return fmt.Errorf("%s: %w", displayName(path), err)
	}
	logger.Debug("read input", "path", displayName(path), "records", p.Records())
	return nil
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func displayName(path string) string {
	if path == "" || path == "-" {
		return "standard input"
	}
	return path
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// parseBufferSize parses SIZE[K|M|G] where suffixes are powers of 1000.
func parseBufferSize(s string) (int, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid buffer size %q: %w", s, err)
	}
	if n == 0 {
		return 0, errors.New("buffer size must be positive")
	}
	if n > math.MaxInt {
		return 0, fmt.Errorf("buffer size %q is too large", s)
	}
	return int(n), nil
}

func comparator(cfg config, random bool, logger *slog.Logger) (order.Comparator, error) {
	var c order.Comparator
	switch {
	case random:
		seed, err := parseSeed(cfg.random)
		if err != nil {
			return c, err
		}
		c = order.ByHash(seed)
	case cfg.bySeq:
		c = order.BySequence()
	default:
		c = order.ByID()
	}
	if cfg.reverse {
		c = c.Reversed()
	}
	if c.Kind() == order.KindHash {
		logger.Debug("sort order", "key", c.Kind(), "seed", c.Seed(), "reversed", c.IsReversed())
	} else {
		logger.Debug("sort order", "key", c.Kind(), "reversed", c.IsReversed())
	}
	return c, nil
}

// attachSeed rewrites -R<seed> as -R=<seed>. pflag would otherwise take
// the seed digits for further shorthand flags because -R has an
// optional value.
func attachSeed(args []string) []string {
	out := make([]string, 0, len(args))
	for i, a := range args {
		if a == "--" {
			return append(out, args[i:]...)
		}
		if len(a) > 2 && strings.HasPrefix(a, "-R") && a[2] >= '0' && a[2] <= '9' {
			a = "-R=" + a[2:]
		}
		out = append(out, a)
	}
	return out
}

func parseSeed(s string) (uint32, error) {
	if s == autoSeed || s == "" {
		return uint32(time.Now().UnixNano()), nil //nolint:gosec // truncation is fine for a seed
	}
	seed, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid random seed %q: %w", s, err)
	}
	return uint32(seed), nil
}
