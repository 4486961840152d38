package httpserver

import (
	"context"
	"fmt"
	"net"
	"time"
)

// An Option configures a Server.
type Option interface {
	fmt.Stringer

	apply(*Server)
}

type addressOption string

func (o addressOption) apply(s *Server) {
	s.httpServer.Addr = string(o)
}

func (o addressOption) String() string {
	return fmt.Sprintf("server.Address: %s", string(o))
}

// WithAddress sets the listen address.
func WithAddress(address string) Option {
	return addressOption(address)
}

type serverTimeoutsOption struct {
	writeTimeout,
	readTimeout,
	idleTimeout,
	readHeaderTimeout time.Duration
}

func (o serverTimeoutsOption) String() string {
	return fmt.Sprintf("server.WriteTimeout: %s\n"+
		"server.ReadTimeout: %s\n"+
		"server.IdleTimeout: %s\n"+
		"server.ReadHeaderTimeout: %s",
		o.writeTimeout,
		o.readTimeout,
		o.idleTimeout,
		o.readHeaderTimeout)
}

func (o serverTimeoutsOption) apply(s *Server) {
	s.httpServer.WriteTimeout = o.writeTimeout
	s.httpServer.ReadTimeout = o.readTimeout
	s.httpServer.IdleTimeout = o.idleTimeout
	s.httpServer.ReadHeaderTimeout = o.readHeaderTimeout
}

// WithServerTimeouts sets the timeouts of the underlying HTTP server.
func WithServerTimeouts(
	writeTimeout,
	readTimeout,
	idleTimeout,
	readHeaderTimeout time.Duration,
) Option {
	return serverTimeoutsOption{
		writeTimeout:      writeTimeout,
		readTimeout:       readTimeout,
		idleTimeout:       idleTimeout,
		readHeaderTimeout: readHeaderTimeout,
	}
}

type baseContextOption struct {
	ctx                     context.Context
	cancelContextOnShutdown bool
}

func (o baseContextOption) apply(s *Server) {
	ctx := o.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if o.cancelContextOnShutdown {
		var cancel context.CancelFunc

		ctx, cancel = context.WithCancel(ctx)

		s.httpServer.RegisterOnShutdown(cancel)
	}

	s.httpServer.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}
}

func (o baseContextOption) String() string {
	return fmt.Sprintf("server.BaseContext: %T\n"+
		"server.CancelContextOnShutdown: %t", o.ctx, o.cancelContextOnShutdown)
}

// WithBaseContext sets the base context of incoming requests. When
// cancelContextOnShutdown is set the context is cancelled as soon as
// Shutdown is called, so long-lived handlers can return.
func WithBaseContext(ctx context.Context, cancelContextOnShutdown bool) Option {
	return baseContextOption{
		ctx,
		cancelContextOnShutdown,
	}
}
