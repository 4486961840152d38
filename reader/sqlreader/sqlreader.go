// Package sqlreader publishes the result rows of a SQL query through a
// reader loop.
package sqlreader

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/purposeinplay/go-artifact/reader"
	"github.com/purposeinplay/go-artifact/sqlutil"
	"go.uber.org/zap"
)

// Row is a result row keyed by column name.
type Row = map[string]any

// Config configures a SQL reader.
type Config struct {
	Connection sqlutil.ConnectionConfig
	Query      string
	Args       []any

	// UpdateQuery may rewrite the query before each execution.
	UpdateQuery func(ctx context.Context, current string) (string, error)

	// Process transforms the fetched rows, JSON encoding by default.
	Process reader.Processor[[]Row]

	// Interval between executions. Zero executes the query once.
	Interval time.Duration

	// Open opens the connection for one execution, sqlutil.Open by default.
	Open func(ctx context.Context, cfg sqlutil.ConnectionConfig) (*sql.DB, error)

	Clock  clock.Clock
	Logger *zap.Logger
}

// Source executes the configured query on a fresh connection.
type Source struct {
	cfg Config

	mu    sync.Mutex
	query string
}

// Ensure type sqlreader.Source implements the reader interfaces.
var (
	_ reader.Source[[]Row] = (*Source)(nil)
	_ reader.Updater       = (*Source)(nil)
)

// NewSource validates the connection parameters and returns a Source.
func NewSource(cfg Config) (*Source, error) {
	if err := cfg.Connection.Validate(); err != nil {
		return nil, fmt.Errorf("sql reader: %w", err)
	}

	if cfg.Open == nil {
		cfg.Open = sqlutil.Open
	}

	return &Source{cfg: cfg, query: cfg.Query}, nil
}

// Query returns the query of the next execution.
func (s *Source) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.query
}

// UpdateSource runs the configured query update.
func (s *Source) UpdateSource(ctx context.Context) error {
	if s.cfg.UpdateQuery == nil {
		return nil
	}

	next, err := s.cfg.UpdateQuery(ctx, s.Query())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.query = next
	s.mu.Unlock()

	return nil
}

// Fetch opens a connection, runs the query and closes the connection.
func (s *Source) Fetch(ctx context.Context) (_ []Row, err error) {
	db, err := s.cfg.Open(ctx, s.cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()

	rows, err := db.QueryContext(ctx, s.Query(), s.cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	defer rows.Close()

	return scan(rows)
}

func scan(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []Row

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		row := make(Row, len(columns))

		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}

			row[col] = values[i]
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return out, nil
}

// New returns a reader loop publishing the query results. Failed
// executions are logged and the loop waits for the next interval.
func New(cfg Config) (*reader.Loop[[]Row], error) {
	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}

	return reader.New[[]Row](reader.Config[[]Row]{
		Source:   src,
		Process:  cfg.Process,
		Interval: cfg.Interval,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	}), nil
}
