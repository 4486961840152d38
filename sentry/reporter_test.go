package sentry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/matryer/is"
	artifacterrors "github.com/purposeinplay/go-artifact/errors"
	artifactsentry "github.com/purposeinplay/go-artifact/sentry"
)

type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captured) beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, event)

	return event
}

func TestReporter_ReportError(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	var c captured

	rep, err := artifactsentry.NewReporter(artifactsentry.Config{
		Environment: "testing",
		Tags:        map[string]string{"jid": "reader@server"},
		BeforeSend:  c.beforeSend,
	})
	i.NoErr(err)

	runErr := artifacterrors.E(artifacterrors.KindDataSource, "reader.fetch", errors.New("boom"))

	i.NoErr(rep.ReportError(context.Background(), runErr))
	i.NoErr(rep.ReportEvent(context.Background(), "stopped"))
	i.NoErr(rep.Close())

	c.mu.Lock()
	defer c.mu.Unlock()

	i.Equal(len(c.events), 2)
	i.Equal(c.events[0].Tags["kind"], "data-source")
	i.Equal(c.events[0].Tags["jid"], "reader@server")
	i.Equal(c.events[1].Message, "stopped")
	i.Equal(c.events[1].Tags["kind"], "")
}

func TestReporter_DroppedEvent(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	rep, err := artifactsentry.NewReporter(artifactsentry.Config{
		BeforeSend: func(*sentry.Event, *sentry.EventHint) *sentry.Event { return nil },
	})
	i.NoErr(err)

	err = rep.ReportError(context.Background(), errors.New("boom"))
	i.True(errors.Is(err, artifactsentry.ErrNoClientOrScopeAvailable))
}
