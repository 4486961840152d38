// Package reader runs the periodic fetch, process and publish loop shared by
// the reader artifacts. Concrete readers only supply the fetch step.
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/purposeinplay/go-artifact/artifact"
	"github.com/purposeinplay/go-artifact/errors"
	"github.com/purposeinplay/go-artifact/metrics"
	"go.uber.org/zap"
)

// Source fetches raw data from an external system.
type Source[T any] interface {
	Fetch(ctx context.Context) (T, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc[T any] func(ctx context.Context) (T, error)

// Fetch calls f(ctx).
func (f SourceFunc[T]) Fetch(ctx context.Context) (T, error) {
	return f(ctx)
}

// Updater is implemented by sources that adjust their parameters before
// each fetch, e.g. to move a time window.
type Updater interface {
	UpdateSource(ctx context.Context) error
}

// Scheduler is implemented by sources that decide when the next fetch
// happens. ok false ends the loop.
type Scheduler interface {
	Next() (delay time.Duration, ok bool)
}

// Processor turns raw data into the messages to publish, in order.
type Processor[T any] func(ctx context.Context, raw T) ([]string, error)

// Publisher publishes a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, payload string) error
}

// Config configures a Loop.
type Config[T any] struct {
	Source Source[T]
	// Process defaults to Identity.
	Process Processor[T]
	// Interval between iterations. Zero runs one iteration.
	Interval time.Duration
	// OnFetchError returns the messages published when a fetch fails. Nil
	// only logs the failure.
	OnFetchError func(err error) []string
	// Setup runs once the artifact is connected, before the first fetch.
	Setup func(ctx context.Context, a *artifact.Artifact) error
	// Done runs after the last iteration.
	Done func(ctx context.Context, a *artifact.Artifact) error

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Name labels metrics, the artifact topic by default.
	Name string
}

// Loop is the fetch, process and publish state machine. It implements
// artifact.Runner and artifact.Setupper.
type Loop[T any] struct {
	cfg Config[T]
}

// Ensure type reader.Loop implements the artifact runner interfaces.
var (
	_ artifact.Runner   = (*Loop[string])(nil)
	_ artifact.Setupper = (*Loop[string])(nil)
)

// New returns a Loop for cfg.
func New[T any](cfg Config[T]) *Loop[T] {
	if cfg.Process == nil {
		cfg.Process = Identity[T]
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Loop[T]{cfg: cfg}
}

// Identity publishes raw as a single message. Strings and byte slices pass
// through, other values are encoded as JSON.
func Identity[T any](_ context.Context, raw T) ([]string, error) {
	switch v := any(raw).(type) {
	case string:
		return []string{v}, nil
	case []byte:
		return []string{string(v)}, nil
	case fmt.Stringer:
		return []string{v.String()}, nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return []string{string(b)}, nil
}

// Setup marks the artifact available and runs the configured setup.
func (l *Loop[T]) Setup(ctx context.Context, a *artifact.Artifact) error {
	if err := a.Presence().SetAvailable(); err != nil {
		return fmt.Errorf("set available: %w", err)
	}

	if l.cfg.Setup != nil {
		return l.cfg.Setup(ctx, a)
	}

	return nil
}

// Run drives the loop from the artifact, publishing to its topic. Unset
// Name, Logger and Metrics are taken from the artifact for this run only.
func (l *Loop[T]) Run(ctx context.Context, a *artifact.Artifact) error {
	cfg := l.cfg

	if cfg.Name == "" {
		cfg.Name = a.Topic()
	}

	if cfg.Metrics == nil {
		cfg.Metrics = a.Metrics()
	}

	if cfg.Logger == nil {
		cfg.Logger = a.Logger()
	}

	run := &Loop[T]{cfg: cfg}

	if err := run.Drive(ctx, a); err != nil {
		return err
	}

	if cfg.Done != nil {
		return cfg.Done(ctx, a)
	}

	return nil
}

// Drive runs iterations until the loop is done or ctx ends. Fetch, process
// and publish failures skip the rest of the cycle and are not fatal.
func (l *Loop[T]) Drive(ctx context.Context, pub Publisher) error {
	for {
		if err := l.iterate(ctx, pub); err != nil {
			return err
		}

		delay, ok := l.next()
		if !ok {
			return nil
		}

		timer := l.cfg.Clock.Timer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Loop[T]) logger() *zap.Logger {
	if l.cfg.Logger == nil {
		return zap.NewNop()
	}

	return l.cfg.Logger
}

func (l *Loop[T]) next() (time.Duration, bool) {
	if s, ok := l.cfg.Source.(Scheduler); ok {
		return s.Next()
	}

	return l.cfg.Interval, l.cfg.Interval > 0
}

func (l *Loop[T]) iterate(ctx context.Context, pub Publisher) error {
	messages, err := l.produce(ctx)

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		l.logger().Error("fetch failed", zap.Error(err))
		l.cfg.Metrics.FetchFailed(l.cfg.Name)

		if l.cfg.OnFetchError == nil {
			return nil
		}

		messages = l.cfg.OnFetchError(err)
	}

	for _, msg := range messages {
		err := pub.Publish(ctx, msg)

		switch {
		case err == nil:
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		}

		// The artifact counts the failure; publishers used directly are
		// only logged.
		l.logger().Warn("publish failed, skipping cycle", zap.Error(err))

		return nil
	}

	return nil
}

func (l *Loop[T]) produce(ctx context.Context) ([]string, error) {
	const op = "reader.fetch"

	if u, ok := l.cfg.Source.(Updater); ok {
		if err := u.UpdateSource(ctx); err != nil {
			return nil, errors.E(errors.KindDataSource, op, fmt.Errorf("update source: %w", err))
		}
	}

	raw, err := l.cfg.Source.Fetch(ctx)
	if err != nil {
		return nil, errors.E(errors.KindDataSource, op, err)
	}

	messages, err := l.cfg.Process(ctx, raw)
	if err != nil {
		return nil, errors.E(errors.KindDataSource, "reader.process", err)
	}

	return messages, nil
}
