// Package csvreader replays the rows of a CSV file, one publish per row,
// either at a fixed frequency or following the deltas of a time column.
package csvreader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/purposeinplay/go-artifact/artifact"
	"github.com/purposeinplay/go-artifact/reader"
	"go.uber.org/zap"
)

// Row is a CSV record keyed by column name.
type Row = map[string]string

// DefaultFrequency is the delay between rows without a time column.
const DefaultFrequency = time.Second

// Errors returned while loading a file.
var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrNoRows        = errors.New("no rows")
)

// timeLayouts are tried in order when parsing the time column.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Config configures a CSV reader.
type Config struct {
	Path string
	// Columns selects the published columns, all by default.
	Columns []string
	// Frequency is the delay between rows when TimeColumn is empty.
	Frequency time.Duration
	// TimeColumn replays rows spaced by the deltas of its timestamps.
	TimeColumn string
	// TimeLayout parses TimeColumn. Common layouts are tried when empty.
	TimeLayout string

	// Process transforms a row, JSON encoding by default.
	Process reader.Processor[Row]

	Clock  clock.Clock
	Logger *zap.Logger
}

// Source yields the rows of a file in order.
type Source struct {
	cfg Config

	mu    sync.Mutex
	rows  []Row
	times []time.Time
	next  int
}

// Ensure type csvreader.Source implements the reader interfaces.
var (
	_ reader.Source[Row] = (*Source)(nil)
	_ reader.Scheduler   = (*Source)(nil)
)

// Open loads the file at cfg.Path.
func Open(cfg Config) (*Source, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	defer f.Close()

	return Load(f, cfg)
}

// Load reads every record of r.
func Load(r io.Reader, cfg Config) (*Source, error) {
	if cfg.Frequency <= 0 {
		cfg.Frequency = DefaultFrequency
	}

	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	if len(records) < 2 {
		return nil, ErrNoRows
	}

	header := records[0]

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	columns := cfg.Columns
	if len(columns) == 0 {
		columns = header
	}

	for _, col := range append(append([]string(nil), columns...), cfg.TimeColumn) {
		if _, ok := index[col]; !ok && col != "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, col)
		}
	}

	s := &Source{cfg: cfg}

	for line, record := range records[1:] {
		row := make(Row, len(columns))

		for _, col := range columns {
			row[col] = record[index[col]]
		}

		s.rows = append(s.rows, row)

		if cfg.TimeColumn == "" {
			continue
		}

		ts, err := parseTime(record[index[cfg.TimeColumn]], cfg.TimeLayout)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+2, err)
		}

		s.times = append(s.times, ts)
	}

	return s, nil
}

func parseTime(value, layout string) (time.Time, error) {
	if layout != "" {
		return time.Parse(layout, value)
	}

	for _, l := range timeLayouts {
		if ts, err := time.Parse(l, value); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("parse time %q", value)
}

// Len returns the number of rows.
func (s *Source) Len() int {
	return len(s.rows)
}

// Fetch returns the next row.
func (s *Source) Fetch(context.Context) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.rows) {
		return nil, io.EOF
	}

	row := s.rows[s.next]
	s.next++

	return row, nil
}

// Next returns the delay before the following row, false after the last.
func (s *Source) Next() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.rows) {
		return 0, false
	}

	if s.times == nil {
		return s.cfg.Frequency, true
	}

	delay := s.times[s.next].Sub(s.times[s.next-1])
	if delay < 0 {
		delay = 0
	}

	return delay, true
}

// New returns a reader loop replaying the file. The artifact marks itself
// unavailable after the last row.
func New(cfg Config) (*reader.Loop[Row], error) {
	src, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	return NewFromSource(src), nil
}

// NewFromSource returns a reader loop replaying src.
func NewFromSource(src *Source) *reader.Loop[Row] {
	return reader.New[Row](reader.Config[Row]{
		Source:  src,
		Process: src.cfg.Process,
		Clock:   src.cfg.Clock,
		Logger:  src.cfg.Logger,
		Done: func(_ context.Context, a *artifact.Artifact) error {
			return a.Presence().SetUnavailable()
		},
	})
}
