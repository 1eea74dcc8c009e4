// Package sink writes exported tables as CSV files.
//
// A Factory creates one Sink per table. The file sink writes
// <dir>/<table>.csv, optionally compressed, through a buffered writer. A
// failed export leaves whatever was written on disk.
package sink

import (
	"bufio"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/compression"
	"github.com/ajitpratap0/pgexport/pkg/errors"
)

// Sink receives one table: a header, then rows with one field per header
// column.
type Sink interface {
	WriteHeader(columns []string) error
	WriteRecord(fields []string) error
	// Close flushes buffered output and closes the file. It is safe to call
	// more than once; only the first call does anything.
	Close() error
	// Path is the file the sink writes to
	Path() string
	// Rows is the number of records written, the header excluded
	Rows() int64
}

// Factory creates the sink for one table.
type Factory interface {
	Create(table string) (Sink, error)
}

// FileOptions configures a FileFactory.
type FileOptions struct {
	Compression compression.Algorithm
	Level       compression.Level
	// BufferSize of the file writer; zero means 64KiB
	BufferSize int
	Logger     *zap.Logger
}

// FileFactory creates CSV files in one directory.
type FileFactory struct {
	dir    string
	opts   FileOptions
	logger *zap.Logger
}

const defaultBufferSize = 64 * 1024

// PrepareDir creates dir and its parents and returns its absolute path.
func PrepareDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to create output directory").
			WithDetail("dir", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to resolve output directory").
			WithDetail("dir", dir)
	}
	return abs, nil
}

// NewFileFactory returns a factory writing into dir, which must exist.
func NewFileFactory(dir string, opts FileOptions) *FileFactory {
	if opts.Compression == "" {
		opts.Compression = compression.None
	}
	if opts.Level == 0 {
		opts.Level = compression.Default
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &FileFactory{
		dir:    dir,
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "csv-sink")),
	}
}

// ValidateFileName rejects table names that cannot be used as a file name
// inside the output directory.
func ValidateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Newf(errors.ErrorTypeValidation, "table name %q is not a usable file name", name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return errors.Newf(errors.ErrorTypeValidation, "table name %q contains a path separator or NUL", name)
	}
	return nil
}

// PathFor returns the file path used for table.
func (f *FileFactory) PathFor(table string) string {
	return filepath.Join(f.dir, table+".csv"+f.opts.Compression.Extension())
}

// Create truncates or creates the file for table.
func (f *FileFactory) Create(table string) (Sink, error) {
	if err := ValidateFileName(table); err != nil {
		return nil, err
	}

	path := f.PathFor(table)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // G302,G304
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create file").
			WithDetail("path", path)
	}

	buf := bufio.NewWriterSize(file, f.opts.BufferSize)
	comp, err := compression.NewWriter(buf, f.opts.Compression, f.opts.Level)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create compressor").
			WithDetail("compression", string(f.opts.Compression))
	}

	f.logger.Debug("created file", zap.String("path", path))

	return &fileSink{
		path:   path,
		file:   file,
		buf:    buf,
		comp:   comp,
		writer: csv.NewWriter(comp),
	}, nil
}

type fileSink struct {
	path   string
	file   *os.File
	buf    *bufio.Writer
	comp   interface{ Close() error }
	writer *csv.Writer
	rows   int64
	closed bool
}

func (s *fileSink) WriteHeader(columns []string) error {
	if err := s.writer.Write(columns); err != nil {
		return s.wrap(err, "failed to write header")
	}
	return nil
}

func (s *fileSink) WriteRecord(fields []string) error {
	if err := s.writer.Write(fields); err != nil {
		return s.wrap(err, "failed to write record")
	}
	s.rows++
	return nil
}

func (s *fileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.writer.Flush()
	err := s.writer.Error()
	if cerr := s.comp.Close(); err == nil {
		err = cerr
	}
	if ferr := s.buf.Flush(); err == nil {
		err = ferr
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return s.wrap(err, "failed to finish file")
	}
	return nil
}

func (s *fileSink) Path() string {
	return s.path
}

func (s *fileSink) Rows() int64 {
	return s.rows
}

func (s *fileSink) wrap(err error, message string) error {
	return errors.Wrap(err, errors.ErrorTypeFile, message).WithDetail("path", s.path)
}
