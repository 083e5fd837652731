// Package spill persists sorted chunks to temporary files and reads them
// back for merging.
package spill

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/vertti/fastqtools/internal/chunk"
	"github.com/vertti/fastqtools/internal/compress"
	"github.com/vertti/fastqtools/internal/format"
	"github.com/vertti/fastqtools/internal/parser"
)

// Pattern is the os.CreateTemp pattern for spill files; the codec
// extension is appended.
const Pattern = "fastq-sort-*"

// sourceBlockSize is the parser block size per open spill file.
const sourceBlockSize = 256 << 10

// File describes one spilled chunk.
type File struct {
	Path    string
	Records int
	Size    int64 // bytes on disk
}

// Manager creates spill files in a scratch directory and removes them
// on Teardown.
type Manager struct {
	dir    string
	codec  compress.Codec
	logger *slog.Logger
	files  []string
	w      *format.Writer // reused across spills

	create func(dir, pattern string) (*os.File, error)
}

// New creates a manager writing to dir, or to os.TempDir when dir is
// empty. A nil logger discards log output.
func New(dir string, codec compress.Codec, logger *slog.Logger) (*Manager, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("temporary directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("temporary directory %s: not a directory", dir)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{dir: dir, codec: codec, logger: logger, create: os.CreateTemp}, nil
}

// Dir returns the scratch directory.
func (m *Manager) Dir() string { return m.dir }

// Files returns the paths of all files created and not yet removed.
func (m *Manager) Files() []string {
	return append([]string(nil), m.files...)
}

// Spill writes every record of a, in its current order, to a new file.
func (m *Manager) Spill(a *chunk.Arena) (*File, error) {
	return m.SpillFunc(func(w *format.Writer) error {
		for i := 0; i < a.Len(); i++ {
			if err := w.Write(a.View(i)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SpillFunc creates a new file and lets fill write its records. The file
// is tracked even when fill fails.
func (m *Manager) SpillFunc(fill func(w *format.Writer) error) (*File, error) {
	f, err := m.create(m.dir, Pattern+m.codec.Ext())
	if err != nil {
		return nil, fmt.Errorf("creating spill file: %w", err)
	}
	// Tracked before writing so a failed spill is still cleaned up.
	m.files = append(m.files, f.Name())

	sf, err := m.write(f, fill)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing spill file: %w", closeErr)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Debug("spilled chunk",
		"path", sf.Path,
		"records", sf.Records,
		"size", humanize.Bytes(uint64(sf.Size)), //nolint:gosec // size is non-negative
	)
	return sf, nil
}

func (m *Manager) write(f *os.File, fill func(w *format.Writer) error) (*File, error) {
	cw, err := m.codec.NewWriter(f)
	if err != nil {
		return nil, err
	}
	if m.w == nil {
		m.w = format.NewWriter(cw)
	} else {
		m.w.Reset(cw)
	}
	if err := fill(m.w); err != nil {
		return nil, fmt.Errorf("writing %s: %w", f.Name(), err)
	}
	if err := m.w.Flush(); err != nil {
		return nil, fmt.Errorf("writing %s: %w", f.Name(), err)
	}
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("writing %s: %w", f.Name(), err)
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat spill file: %w", err)
	}
	return &File{Path: f.Name(), Records: m.w.Records(), Size: fi.Size()}, nil
}

// Remove deletes a file whose records have been merged elsewhere. A file
// that cannot be removed stays tracked for Teardown.
func (m *Manager) Remove(sf *File) {
	if err := os.Remove(sf.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("cannot remove temporary file", "path", sf.Path, "error", err)
		return
	}
	m.files = slices.DeleteFunc(m.files, func(p string) bool { return p == sf.Path })
}

// Source reads back one spill file record by record.
type Source struct {
	file *os.File
	dec  io.ReadCloser
	p    *parser.Parser
}

// Open reopens a spilled file for reading. Each spill file is opened at
// most once.
func (m *Manager) Open(sf *File) (*Source, error) {
	f, err := os.Open(sf.Path)
	if err != nil {
		return nil, fmt.Errorf("opening spill file: %w", err)
	}
	dec, err := m.codec.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Source{file: f, dec: dec, p: parser.NewSize(dec, sourceBlockSize)}, nil
}

// Next returns the next record, or io.EOF once the file is exhausted.
// The record is only valid until the next call.
func (s *Source) Next() (*parser.Record, error) {
	rec, err := s.p.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", s.file.Name(), err)
	}
	return rec, err
}

// Close releases the file.
func (s *Source) Close() error {
	_ = s.dec.Close()
	return s.file.Close()
}

// Teardown removes every tracked file. Failures are logged and do not
// stop the remaining removals. Safe to call more than once.
func (m *Manager) Teardown() {
	for _, path := range m.files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("cannot remove temporary file", "path", path, "error", err)
		}
	}
	m.files = nil
}
