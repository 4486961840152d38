package artifact

import (
	"context"
	"fmt"

	"github.com/purposeinplay/go-artifact/metrics"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/zap"
)

// An Option configures an Artifact using the functional options paradigm.
type Option interface {
	fmt.Stringer

	apply(*Artifact)
}

// Hook is an extension point run during Start.
type Hook func(ctx context.Context, a *Artifact) error

// ErrorReporter receives failures that are isolated from callers, such as
// run-loop errors and callback panics.
type ErrorReporter interface {
	ReportError(ctx context.Context, err error) error
}

type pubSubServiceOption string

func (o pubSubServiceOption) apply(a *Artifact) {
	a.pubSubService = string(o)
}

func (o pubSubServiceOption) String() string {
	return fmt.Sprintf("artifact.PubSubService: %s", string(o))
}

// WithPubSubService overrides the pubsub service, pubsub.<domain> by default.
func WithPubSubService(service string) Option {
	return pubSubServiceOption(service)
}

type hostOption string

func (o hostOption) apply(a *Artifact) {
	a.host = string(o)
}

func (o hostOption) String() string {
	return fmt.Sprintf("artifact.Host: %s", string(o))
}

// WithHost sets the server host, the address domain by default.
func WithHost(host string) Option {
	return hostOption(host)
}

type portOption int

func (o portOption) apply(a *Artifact) {
	a.port = int(o)
}

func (o portOption) String() string {
	return fmt.Sprintf("artifact.Port: %d", int(o))
}

// WithPort sets the server port.
func WithPort(port int) Option {
	return portOption(port)
}

type verifySecurityOption bool

func (o verifySecurityOption) apply(a *Artifact) {
	a.verifySecurity = bool(o)
}

func (o verifySecurityOption) String() string {
	return fmt.Sprintf("artifact.VerifySecurity: %t", bool(o))
}

// WithVerifySecurity enables certificate verification.
func WithVerifySecurity(verify bool) Option {
	return verifySecurityOption(verify)
}

type approveAllOption bool

func (o approveAllOption) apply(a *Artifact) {
	a.approveAll = bool(o)
}

func (o approveAllOption) String() string {
	return fmt.Sprintf("artifact.ApproveAll: %t", bool(o))
}

// WithApproveAll approves every presence subscription request once the
// session is started.
func WithApproveAll(approve bool) Option {
	return approveAllOption(approve)
}

type loggerOption struct {
	logger *zap.Logger
}

func (o loggerOption) apply(a *Artifact) {
	if o.logger != nil {
		a.logger = o.logger
	}
}

func (o loggerOption) String() string {
	return "artifact.Logger"
}

// WithLogger sets the logger. The artifact names it and adds its address.
func WithLogger(logger *zap.Logger) Option {
	return loggerOption{logger}
}

type metricsOption struct {
	collector *metrics.Collector
}

func (o metricsOption) apply(a *Artifact) {
	a.metrics = o.collector
}

func (o metricsOption) String() string {
	return "artifact.Metrics"
}

// WithMetrics sets the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return metricsOption{c}
}

type errorReporterOption struct {
	reporter ErrorReporter
}

func (o errorReporterOption) apply(a *Artifact) {
	a.reporter = o.reporter
}

func (o errorReporterOption) String() string {
	return "artifact.ErrorReporter"
}

// WithErrorReporter sets where isolated failures are reported.
func WithErrorReporter(r ErrorReporter) Option {
	return errorReporterOption{r}
}

type dialerOption struct {
	dialer transport.Dialer
}

func (o dialerOption) apply(a *Artifact) {
	a.dialer = o.dialer
}

func (o dialerOption) String() string {
	return fmt.Sprintf("artifact.Dialer: %T", o.dialer)
}

// WithDialer sets the transport the artifact connects through.
func WithDialer(d transport.Dialer) Option {
	return dialerOption{d}
}

type runnerOption struct {
	runner Runner
}

func (o runnerOption) apply(a *Artifact) {
	a.runner = o.runner
}

func (o runnerOption) String() string {
	return fmt.Sprintf("artifact.Runner: %T", o.runner)
}

// WithRunner sets the artifact body. A runner that also implements Setupper
// has Setup called before Run.
func WithRunner(r Runner) Option {
	return runnerOption{r}
}

type hookOption struct {
	name string
	hook Hook
	set  func(*Artifact, Hook)
}

func (o hookOption) apply(a *Artifact) {
	o.set(a, o.hook)
}

func (o hookOption) String() string {
	return "artifact." + o.name
}

// WithBeforeConnection sets a hook run before the transport client is built.
func WithBeforeConnection(h Hook) Option {
	return hookOption{
		name: "BeforeConnection",
		hook: h,
		set:  func(a *Artifact, h Hook) { a.beforeConnection = h },
	}
}

// WithAfterConnection sets a hook run once the session started, before the
// artifact's topic is ensured.
func WithAfterConnection(h Hook) Option {
	return hookOption{
		name: "AfterConnection",
		hook: h,
		set:  func(a *Artifact, h Hook) { a.afterConnection = h },
	}
}
