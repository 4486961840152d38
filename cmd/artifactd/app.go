package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/purposeinplay/go-artifact/artifact"
	"github.com/purposeinplay/go-artifact/config"
	"github.com/purposeinplay/go-artifact/httpserver"
	"github.com/purposeinplay/go-artifact/inserter"
	"github.com/purposeinplay/go-artifact/logger"
	"github.com/purposeinplay/go-artifact/metrics"
	"github.com/purposeinplay/go-artifact/reader/apireader"
	"github.com/purposeinplay/go-artifact/reader/csvreader"
	"github.com/purposeinplay/go-artifact/reader/mongoreader"
	"github.com/purposeinplay/go-artifact/reader/sqlreader"
	"github.com/purposeinplay/go-artifact/sentry"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/purposeinplay/go-artifact/transport/amqp"
	"github.com/purposeinplay/go-artifact/transport/inmem"
	"github.com/purposeinplay/go-artifact/transport/kafka"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var errNotAlive = errors.New("artifact is not alive")

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	artifact *artifact.Artifact
	http     *httpserver.Server

	closers []func() error
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.Log.Service, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("new logger: %w", err)
	}

	return newAppWithLogger(cfg, log)
}

func newAppWithLogger(cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   log,
		registry: prometheus.NewRegistry(),
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	dialer, err := a.dialer()
	if err != nil {
		return nil, err
	}

	runner, err := a.runner()
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []artifact.Option{
		artifact.WithDialer(dialer),
		artifact.WithRunner(runner),
		artifact.WithLogger(log),
		artifact.WithMetrics(collector),
		artifact.WithVerifySecurity(cfg.Artifact.VerifySecurity),
		artifact.WithApproveAll(cfg.Artifact.ApproveAll),
		artifact.WithPubSubService(cfg.Artifact.PubSubService),
	}

	if cfg.Artifact.Host != "" {
		opts = append(opts, artifact.WithHost(cfg.Artifact.Host))
	}

	if cfg.Artifact.Port != 0 {
		opts = append(opts, artifact.WithPort(cfg.Artifact.Port))
	}

	if cfg.Sentry.DSN != "" {
		reporter, err := sentry.NewReporter(sentry.Config{
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Tags:        map[string]string{"jid": cfg.Artifact.JID},
		})
		if err != nil {
			a.close()
			return nil, err
		}

		a.closers = append(a.closers, reporter.Close)
		opts = append(opts, artifact.WithErrorReporter(reporter))
	}

	a.artifact, err = artifact.New(cfg.Artifact.JID, cfg.Artifact.Password, opts...)
	if err != nil {
		a.close()
		return nil, err
	}

	a.http = httpserver.NewOperational(
		log,
		a.registry,
		a.health,
		httpserver.WithAddress(cfg.HTTP.Address),
	)

	return a, nil
}

func (a *app) dialer() (transport.Dialer, error) {
	t := a.cfg.Transport

	switch t.Kind {
	case config.TransportInMem:
		return inmem.NewServer(inmem.WithLogger(a.logger)), nil
	case config.TransportAMQP:
		return amqp.NewDialer(amqp.WithURL(t.URL), amqp.WithLogger(a.logger)), nil
	case config.TransportKafka:
		d, err := kafka.Dial(kafka.Config{
			Brokers:  t.Brokers,
			Username: t.Username,
			Password: t.Password,
			Logger:   a.logger,
		})
		if err != nil {
			return nil, err
		}

		a.closers = append(a.closers, d.Close)

		return d, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", t.Kind)
	}
}

func (a *app) runner() (artifact.Runner, error) {
	r := a.cfg.Reader

	switch r.Kind {
	case config.ReaderAPI:
		return apireader.New(apireader.Config{
			URL:      r.API.URL,
			Method:   r.API.Method,
			Params:   r.API.Params,
			Headers:  r.API.Headers,
			Interval: r.Interval,
		}), nil
	case config.ReaderSQL:
		return sqlreader.New(sqlreader.Config{
			Connection: r.SQL.Connection,
			Query:      r.SQL.Query,
			Interval:   r.Interval,
			Logger:     a.logger,
		})
	case config.ReaderCSV:
		return csvreader.New(csvreader.Config{
			Path:       r.CSV.Path,
			Columns:    r.CSV.Columns,
			Frequency:  r.CSV.Frequency,
			TimeColumn: r.CSV.TimeColumn,
			TimeLayout: r.CSV.TimeLayout,
			Logger:     a.logger,
		})
	case config.ReaderMongo:
		return mongoreader.New(mongoreader.Config{
			Connect:   mongoreader.Dial(r.Mongo.URI, r.Mongo.Database, r.Mongo.Collection),
			Operation: mongoreader.Operation(r.Mongo.Operation),
			Query:     bson.M(r.Mongo.Query),
			Interval:  r.Interval,
			Logger:    a.logger,
		})
	case config.ReaderInserter:
		return inserter.New(inserter.Config{
			BrokerURL: r.Inserter.BrokerURL,
			Tenant:    r.Inserter.Tenant,
			Publisher: r.Inserter.Publisher,
			Context:   r.Inserter.Context,
			Columns:   r.Inserter.Columns,
			Logger:    a.logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown reader %q", r.Kind)
	}
}

func (a *app) health() error {
	if !a.artifact.IsAlive() {
		return errNotAlive
	}

	return nil
}

// run drives the artifact and the operational server until one of them, or
// the extra actor, returns.
func (a *app) run(ctx context.Context, execute func() error, interrupt func(error)) error {
	var g run.Group

	g.Add(execute, interrupt)

	runCtx, cancel := context.WithCancel(ctx)

	g.Add(func() error {
		if err := a.artifact.Start(runCtx, a.cfg.Artifact.AutoRegister); err != nil {
			return err
		}

		a.logger.Info("artifact started", zap.String("jid", a.artifact.JID().String()))

		return a.artifact.JoinContext(runCtx)
	}, func(error) {
		cancel()

		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()

		if err := a.artifact.Stop(stopCtx); err != nil {
			a.logger.Warn("stop artifact", zap.Error(err))
		}
	})

	g.Add(a.http.ListenAndServe, func(error) {
		if err := a.http.Shutdown(5 * time.Second); err != nil {
			a.logger.Warn("shutdown operational server", zap.Error(err))
		}
	})

	return g.Run()
}

func (a *app) close() {
	var err error

	for _, c := range a.closers {
		err = multierr.Append(err, c())
	}

	if err != nil {
		a.logger.Warn("close", zap.Error(err))
	}

	_ = a.logger.Sync()
}
