package source

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/andreyvit/alleledb"
)

const (
	maxLineSize      = 16 * 1024 * 1024
	defaultBatchSize = 4096
)

// LineParser turns one input line into zero or more records. Returning no
// records skips the line.
type LineParser[T any] interface {
	ParseLine(line string) ([]alleledb.Record[T], error)
}

type LineParserFunc[T any] func(line string) ([]alleledb.Record[T], error)

func (f LineParserFunc[T]) ParseLine(line string) ([]alleledb.Record[T], error) {
	return f(line)
}

// ParseError is a parser failure with the file and line it happened on.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Reader is an alleledb.RecordReader over a line-oriented stream. Empty
// lines and lines starting with '#' are skipped.
type Reader[T any] struct {
	name   string
	sc     *bufio.Scanner
	closer io.Closer
	parser LineParser[T]
	line   int

	// BatchSize is how many lines one ReadRecords call consumes at most.
	BatchSize int
}

func NewReader[T any](name string, r io.ReadCloser, parser LineParser[T]) *Reader[T] {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader[T]{
		name:      name,
		sc:        sc,
		closer:    r,
		parser:    parser,
		BatchSize: defaultBatchSize,
	}
}

// Line is the number of the last line read.
func (r *Reader[T]) Line() int {
	return r.line
}

func (r *Reader[T]) ReadRecords() ([]alleledb.Record[T], error) {
	var result []alleledb.Record[T]
	for n := 0; n < r.BatchSize; n++ {
		if !r.sc.Scan() {
			if err := r.sc.Err(); err != nil {
				return result, &ParseError{r.name, r.line + 1, err}
			}
			return result, io.EOF
		}
		r.line++
		line := strings.TrimRight(r.sc.Text(), "\r")
		if line == "" || line[0] == '#' {
			continue
		}
		recs, err := r.parser.ParseLine(line)
		if err != nil {
			return result, &ParseError{r.name, r.line, err}
		}
		result = append(result, recs...)
	}
	return result, nil
}

func (r *Reader[T]) Close() error {
	return r.closer.Close()
}

// FileSource is an alleledb.Source reading one (possibly compressed) file.
type FileSource[T any] struct {
	SourceName string
	Path       string
	Parser     LineParser[T]
}

func NewFileSource[T any](name, path string, parser LineParser[T]) *FileSource[T] {
	return &FileSource[T]{SourceName: name, Path: path, Parser: parser}
}

func (s *FileSource[T]) Name() string {
	return s.SourceName
}

func (s *FileSource[T]) Open() (alleledb.RecordReader[T], error) {
	f, err := OpenFile(s.Path)
	if err != nil {
		return nil, err
	}
	return NewReader(s.Path, f, s.Parser), nil
}

// SliceSource serves records from memory. It is meant for tests and for
// sources assembled by other code.
type SliceSource[T any] struct {
	SourceName string
	Records    []alleledb.Record[T]
	BatchSize  int
}

func (s *SliceSource[T]) Name() string {
	return s.SourceName
}

func (s *SliceSource[T]) Open() (alleledb.RecordReader[T], error) {
	n := s.BatchSize
	if n <= 0 {
		n = defaultBatchSize
	}
	return &sliceReader[T]{recs: s.Records, batch: n}, nil
}

type sliceReader[T any] struct {
	recs  []alleledb.Record[T]
	batch int
}

func (r *sliceReader[T]) ReadRecords() ([]alleledb.Record[T], error) {
	if len(r.recs) == 0 {
		return nil, io.EOF
	}
	n := min(r.batch, len(r.recs))
	result := r.recs[:n]
	r.recs = r.recs[n:]
	return result, nil
}

func (r *sliceReader[T]) Close() error {
	return nil
}
