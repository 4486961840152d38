// Package mongoreader runs a MongoDB operation through a reader loop and
// publishes its result.
package mongoreader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/purposeinplay/go-artifact/reader"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Operation names a MongoDB operation.
type Operation string

// Supported operations.
const (
	Find   Operation = "find"
	Insert Operation = "insert"
	Update Operation = "update"
	Delete Operation = "delete"
)

// ErrUnsupportedOperation is returned for an unknown operation.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// Collection is the subset of a MongoDB collection the reader uses.
type Collection interface {
	Find(ctx context.Context, filter bson.M) ([]bson.M, error)
	InsertOne(ctx context.Context, document bson.M) (any, error)
	UpdateMany(ctx context.Context, filter, update bson.M) (int64, error)
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
}

// Connector opens a collection for one operation. The returned function
// releases it.
type Connector func(ctx context.Context) (Collection, func(context.Context) error, error)

// Config configures a Mongo reader.
type Config struct {
	Connect   Connector
	Operation Operation
	// Query is the filter for find and delete, the document for insert, and
	// holds "filter" and "update" documents for update.
	Query bson.M

	// UpdateQuery may rewrite the query before each operation.
	UpdateQuery func(ctx context.Context, current bson.M) (bson.M, error)

	// Process transforms the result, JSON encoding by default.
	Process reader.Processor[any]

	// Interval between operations. Zero runs the operation once.
	Interval time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// Source runs the configured operation.
type Source struct {
	cfg Config

	mu    sync.Mutex
	query bson.M
}

// Ensure type mongoreader.Source implements the reader interfaces.
var (
	_ reader.Source[any] = (*Source)(nil)
	_ reader.Updater     = (*Source)(nil)
)

// NewSource validates cfg and returns a Source.
func NewSource(cfg Config) (*Source, error) {
	switch cfg.Operation {
	case Find, Insert, Update, Delete:
	default:
		return nil, fmt.Errorf("mongo reader: %w: %q", ErrUnsupportedOperation, cfg.Operation)
	}

	if cfg.Connect == nil {
		return nil, errors.New("mongo reader: no connector")
	}

	if cfg.Query == nil {
		cfg.Query = bson.M{}
	}

	return &Source{cfg: cfg, query: cfg.Query}, nil
}

// Query returns the query of the next operation.
func (s *Source) Query() bson.M {
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

// Fetch connects, runs the operation and releases the connection. Find
// returns the documents, insert the inserted id, update and delete the
// number of affected documents.
func (s *Source) Fetch(ctx context.Context) (_ any, err error) {
	coll, release, err := s.cfg.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	defer func() {
		if rerr := release(ctx); rerr != nil && err == nil {
			err = fmt.Errorf("disconnect: %w", rerr)
		}
	}()

	query := s.Query()

	switch s.cfg.Operation {
	case Find:
		return coll.Find(ctx, query)
	case Insert:
		return coll.InsertOne(ctx, query)
	case Update:
		return coll.UpdateMany(ctx, document(query, "filter"), document(query, "update"))
	case Delete:
		return coll.DeleteMany(ctx, query)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperation, s.cfg.Operation)
}

func document(query bson.M, key string) bson.M {
	switch v := query[key].(type) {
	case bson.M:
		return v
	case map[string]any:
		return v
	default:
		return bson.M{}
	}
}

// New returns a reader loop publishing the operation results. Failed
// operations are logged and the loop waits for the next interval.
func New(cfg Config) (*reader.Loop[any], error) {
	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}

	return reader.New[any](reader.Config[any]{
		Source:   src,
		Process:  cfg.Process,
		Interval: cfg.Interval,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	}), nil
}
