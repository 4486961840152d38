// Package httpserver runs the operational HTTP endpoint of an artifact
// process.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAddr = ":9090"

// Server wraps an http.Server with a shutdown that can be called before,
// during or after serving.
type Server struct {
	httpServer *http.Server

	log *zap.Logger

	// done is closed by Shutdown. Serve and ListenAndServe return only
	// after it is closed so that connections are drained.
	done          chan struct{}
	closeDoneOnce sync.Once
}

// New builds a server for handler listening on ":9090" unless WithAddress
// says otherwise.
func New(log *zap.Logger, handler http.Handler, options ...Option) *Server {
	server := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			Addr:              defaultAddr,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log:  log,
		done: make(chan struct{}),
	}

	for _, o := range options {
		o.apply(server)
	}

	return server
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Shutdown gracefully stops the server, waiting at most timeout for open
// connections.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	defer s.closeDoneOnce.Do(func() {
		close(s.done)
	})

	err := s.httpServer.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	return s.wait(s.httpServer.Serve(ln))
}

// ListenAndServe listens on the configured address until Shutdown is
// called.
func (s *Server) ListenAndServe() error {
	s.log.Info("starting server", zap.String("address", s.httpServer.Addr))

	return s.wait(s.httpServer.ListenAndServe())
}

func (s *Server) wait(err error) error {
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	s.log.Debug("listener shutdown, waiting for connections to drain")

	<-s.done

	s.log.Debug("server connections are drained")

	return nil
}
