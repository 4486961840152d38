// Package sentry reports artifact failures to Sentry.
package sentry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	artifacterrors "github.com/purposeinplay/go-artifact/errors"
)

// Errors returned by the Reporter's methods.
var (
	ErrNoClientOrScopeAvailable = errors.New("no client or hub available")
	ErrDidNotFullyFlush         = errors.New("not fully flushed")
)

// Config configures a Reporter. An empty DSN yields a reporter that
// processes events without sending them.
type Config struct {
	DSN         string
	Environment string
	Release     string
	// Tags are attached to every event.
	Tags map[string]string
	// BeforeSend may modify or drop events before they are sent.
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// Reporter sends errors to Sentry through its own hub.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter returns a Reporter for cfg.
func NewReporter(cfg Config) (*Reporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}

	scope := sentry.NewScope()
	scope.SetTags(cfg.Tags)

	return &Reporter{hub: sentry.NewHub(client, scope)}, nil
}

// ReportError captures err, tagged with its artifact error kind.
func (r *Reporter) ReportError(ctx context.Context, err error) error {
	hub := r.hubFromContext(ctx)

	var eventID *sentry.EventID

	hub.WithScope(func(scope *sentry.Scope) {
		if kind := artifacterrors.KindOf(err); kind != "" {
			scope.SetTag("kind", string(kind))
		}

		eventID = hub.CaptureException(err)
	})

	if eventID == nil {
		return ErrNoClientOrScopeAvailable
	}

	return nil
}

// ReportEvent captures a message.
func (r *Reporter) ReportEvent(ctx context.Context, event string) error {
	if r.hubFromContext(ctx).CaptureMessage(event) == nil {
		return ErrNoClientOrScopeAvailable
	}

	return nil
}

// Close flushes buffered events.
func (r *Reporter) Close() error {
	if !r.hub.Flush(time.Second) {
		return ErrDidNotFullyFlush
	}

	return nil
}

// hubFromContext prefers a hub stored in ctx over the reporter's own.
func (r *Reporter) hubFromContext(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}

	return r.hub
}
