package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Record is one decoded data row with its 1-based source line number.
type Record struct {
	Line   int64
	Fields map[string]any
}

// RecordSource yields decoded records in a single forward pass. Next
// returns io.EOF when the stream ends.
type RecordSource interface {
	Next() (*Record, error)
}

// CSVSource decodes delimited text into records keyed by header name.
// Cell values are cast to int64 or float64 when they parse cleanly as
// numbers; everything else passes through as a string.
type CSVSource struct {
	reader  *csv.Reader
	opts    *Options
	header  []string
	started bool
	done    bool
}

// NewCSVSource builds a source over r applying the low-level parse
// options: delimiter, comment marker, line-range bounds, trimming, and
// relaxed column counts.
func NewCSVSource(r io.Reader, opts *Options) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = opts.Trim
	if opts.Delimiter != "" {
		cr.Comma = []rune(opts.Delimiter)[0]
	}
	if opts.Comment != "" {
		cr.Comment = []rune(opts.Comment)[0]
	}

	return &CSVSource{reader: cr, opts: opts}
}

// Header returns the column names, available after the first Next call.
func (s *CSVSource) Header() []string {
	return s.header
}

func (s *CSVSource) Next() (*Record, error) {
	if s.done {
		return nil, io.EOF
	}

	if !s.started {
		if err := s.readHeader(); err != nil {
			return nil, err
		}
		s.started = true
	}

	row, err := s.reader.Read()
	if err != nil {
		if err == io.EOF {
			s.done = true
		}
		return nil, err
	}

	line, _ := s.reader.FieldPos(0)
	if s.opts.ToLine > 0 && int64(line) > s.opts.ToLine {
		s.done = true
		return nil, io.EOF
	}

	if !s.opts.RelaxColumnCount && len(row) != len(s.header) {
		return nil, fmt.Errorf("wrong number of fields on line %d: got %d, want %d", line, len(row), len(s.header))
	}

	fields := make(map[string]any, len(s.header))
	for i, name := range s.header {
		if i >= len(row) {
			break
		}
		value := row[i]
		if s.opts.Trim {
			value = strings.TrimSpace(value)
		}
		fields[name] = castScalar(value)
	}

	return &Record{Line: int64(line), Fields: fields}, nil
}

// readHeader consumes rows until the configured from_line and takes that
// row as the header. Earlier lines never surface as records.
func (s *CSVSource) readHeader() error {
	for {
		row, err := s.reader.Read()
		if err != nil {
			if err == io.EOF {
				s.done = true
			}
			return err
		}

		line, _ := s.reader.FieldPos(0)
		if s.opts.FromLine > 0 && int64(line) < s.opts.FromLine {
			continue
		}

		header := make([]string, len(row))
		for i, name := range row {
			header[i] = strings.TrimSpace(name)
		}
		s.header = header
		return nil
	}
}

func castScalar(s string) any {
	if s == "" {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
