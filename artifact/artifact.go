// Package artifact implements a lightweight presence-bearing entity that
// publishes to one pubsub topic named after its bare address and can follow
// the topics of other artifacts.
package artifact

import (
	"context"
	"fmt"
	"sync"

	"github.com/purposeinplay/go-artifact/blockingqueue"
	"github.com/purposeinplay/go-artifact/errors"
	"github.com/purposeinplay/go-artifact/focus"
	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/metrics"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultPort is the client port used when none is configured.
const DefaultPort = 5222

// Callback consumes an item published on a linked topic.
type Callback = focus.Callback

// Runner is the body of an artifact. Run is started once the artifact is
// alive and may run for as long as the artifact does. The context is
// cancelled when the artifact stops.
type Runner interface {
	Run(ctx context.Context, a *Artifact) error
}

// Setupper is implemented by runners that prepare state before Run.
type Setupper interface {
	Setup(ctx context.Context, a *Artifact) error
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, a *Artifact) error

// Run calls f(ctx, a).
func (f RunnerFunc) Run(ctx context.Context, a *Artifact) error {
	return f(ctx, a)
}

type notImplementedRunner struct{}

func (notImplementedRunner) Run(context.Context, *Artifact) error {
	return errors.E(errors.KindNotImplemented, "artifact.run", ErrNotImplemented)
}

type state int32

const (
	stateNew state = iota
	stateStarting
	stateAlive
	stateStopped
)

// Artifact is a publish/subscribe entity.
type Artifact struct {
	jid      jid.JID
	password string

	pubSubService  string
	host           string
	port           int
	verifySecurity bool
	approveAll     bool

	dialer   transport.Dialer
	runner   Runner
	logger   *zap.Logger
	metrics  *metrics.Collector
	reporter ErrorReporter

	beforeConnection Hook
	afterConnection  Hook

	state *atomic.Int32

	// mu guards the fields bound to one started session.
	mu        sync.Mutex
	client    transport.Client
	done      chan struct{}
	cancelRun context.CancelFunc
	sessions  chan sessionOutcome

	subscriptions *focus.Table
	mailbox       *blockingqueue.Queue[transport.Message]

	knowledgeMu sync.RWMutex
	knowledge   map[string]any
}

type sessionOutcome struct {
	event transport.SessionEvent
	err   error
}

// New returns an artifact identified by address. The artifact is not
// started.
func New(address, password string, opts ...Option) (*Artifact, error) {
	j, err := jid.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("new artifact: %w", err)
	}

	a := &Artifact{
		jid:           j,
		password:      password,
		pubSubService: j.PubSubService(),
		host:          j.Domain,
		port:          DefaultPort,
		runner:        notImplementedRunner{},
		logger:        zap.NewNop(),
		state:         atomic.NewInt32(int32(stateNew)),
		mailbox:       blockingqueue.New[transport.Message](),
		knowledge:     make(map[string]any),
	}

	for _, o := range opts {
		o.apply(a)
	}

	if a.dialer == nil {
		return nil, fmt.Errorf("new artifact %s: no dialer configured", j)
	}

	a.logger = a.logger.Named("artifact").With(zap.String("jid", j.String()))

	a.subscriptions = focus.NewTable(
		j,
		focus.WithLogger(a.logger),
		focus.WithMetrics(a.metrics),
		focus.WithFailureHandler(func(topic string, err error) {
			a.report(context.Background(), fmt.Errorf("topic %s: %w", topic, err))
		}),
	)

	return a, nil
}

// JID returns the artifact address.
func (a *Artifact) JID() jid.JID {
	return a.jid
}

// Name returns the local part of the artifact address.
func (a *Artifact) Name() string {
	return a.jid.Local
}

// Topic returns the name of the artifact's own topic.
func (a *Artifact) Topic() string {
	return a.jid.Topic()
}

// PubSubService returns the pubsub service the artifact publishes on.
func (a *Artifact) PubSubService() string {
	return a.pubSubService
}

// Logger returns the artifact logger.
func (a *Artifact) Logger() *zap.Logger {
	return a.logger
}

// Metrics returns the artifact collector, possibly nil.
func (a *Artifact) Metrics() *metrics.Collector {
	return a.metrics
}

// IsAlive reports whether the artifact started and has not stopped.
func (a *Artifact) IsAlive() bool {
	return state(a.state.Load()) == stateAlive
}

// Set stores value under key in the knowledge store.
func (a *Artifact) Set(key string, value any) {
	a.knowledgeMu.Lock()
	defer a.knowledgeMu.Unlock()

	a.knowledge[key] = value
}

// Get returns the value stored under key.
func (a *Artifact) Get(key string) (any, bool) {
	a.knowledgeMu.RLock()
	defer a.knowledgeMu.RUnlock()

	v, ok := a.knowledge[key]

	return v, ok
}

// Presence returns the presence service of the session, or nil before the
// artifact connected.
func (a *Artifact) Presence() transport.Presence {
	c := a.currentClient()
	if c == nil {
		return nil
	}

	return c.Presence()
}

// PubSub returns the pubsub capability of the session, or nil before the
// artifact connected.
func (a *Artifact) PubSub() transport.PubSub {
	c := a.currentClient()
	if c == nil {
		return nil
	}

	return c.PubSub()
}

func (a *Artifact) currentClient() transport.Client {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.client
}

func (a *Artifact) report(ctx context.Context, err error) {
	if a.reporter == nil {
		return
	}

	if rerr := a.reporter.ReportError(ctx, err); rerr != nil {
		a.logger.Warn("could not report error", zap.Error(rerr))
	}
}
