package artifact

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/purposeinplay/go-artifact/errors"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Start connects the artifact, ensures its topic exists, runs the runner's
// Setup and launches Run in its own goroutine. It returns once Run has been
// scheduled.
//
// A second Start fails with ErrAlreadyStarted, a Start after Stop with
// ErrStopped. When Start fails the artifact can be started again.
func (a *Artifact) Start(ctx context.Context, autoRegister bool) error {
	const op = "artifact.start"

	if !a.state.CAS(int32(stateNew), int32(stateStarting)) {
		if state(a.state.Load()) == stateStopped {
			return errors.E(errors.KindState, op, ErrStopped)
		}

		return errors.E(errors.KindState, op, ErrAlreadyStarted)
	}

	runCtx, err := a.start(ctx, autoRegister)
	if err != nil {
		a.abort()
		a.state.CAS(int32(stateStarting), int32(stateNew))

		return err
	}

	a.mu.Lock()

	// Stop may have run while starting.
	if !a.state.CAS(int32(stateStarting), int32(stateAlive)) {
		a.mu.Unlock()
		a.abort()

		return errors.E(errors.KindState, op, ErrStopped)
	}

	a.done = make(chan struct{})

	a.mu.Unlock()

	a.logger.Info("artifact started")

	go a.supervise(runCtx)

	return nil
}

func (a *Artifact) start(ctx context.Context, autoRegister bool) (context.Context, error) {
	const op = "artifact.start"

	if a.beforeConnection != nil {
		if err := a.beforeConnection(ctx, a); err != nil {
			return nil, fmt.Errorf("before connection: %w", err)
		}
	}

	client, err := a.dialer.NewClient(transport.ClientConfig{
		JID:            a.jid,
		Password:       a.password,
		Host:           a.host,
		Port:           a.port,
		VerifySecurity: a.verifySecurity,
		AutoRegister:   autoRegister,
	})
	if err != nil {
		return nil, errors.E(errors.KindConnection, op, err)
	}

	sessions := make(chan sessionOutcome, 1)

	a.mu.Lock()
	a.client = client
	a.sessions = sessions
	a.mu.Unlock()

	client.HandleSession(a.onSession)
	client.HandleMessage(a.onMessage)
	client.PubSub().SetOnItemPublished(a.onItemPublished)

	if err := a.connect(ctx, client, sessions); err != nil {
		return nil, err
	}

	if a.approveAll {
		client.Presence().SetApproveAll(true)
	}

	if a.afterConnection != nil {
		if err := a.afterConnection(ctx, a); err != nil {
			return nil, fmt.Errorf("after connection: %w", err)
		}
	}

	if err := a.ensureTopic(ctx, client); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.cancelRun = cancel
	a.mu.Unlock()

	if s, ok := a.runner.(Setupper); ok {
		if err := s.Setup(ctx, a); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return runCtx, nil
}

// connect waits for the first session outcome.
func (a *Artifact) connect(
	ctx context.Context,
	client transport.Client,
	sessions <-chan sessionOutcome,
) error {
	const op = "artifact.connect"

	// Later session events go to the session-loss path.
	defer func() {
		a.mu.Lock()
		a.sessions = nil
		a.mu.Unlock()
	}()

	if err := client.Connect(ctx); err != nil {
		return errors.E(errors.KindConnection, op, err)
	}

	select {
	case s := <-sessions:
		switch s.event {
		case transport.SessionStarted:
			a.logger.Debug("session started")

			return nil
		case transport.SessionAuthFailed:
			return errors.E(
				errors.KindAuthentication,
				op,
				fmt.Errorf("check credentials or enable auto-register: %w", s.err),
			)
		default:
			return errors.E(errors.KindConnection, op, fmt.Errorf("%s: %w", s.event, s.err))
		}
	case <-ctx.Done():
		return errors.E(errors.KindConnection, op, ctx.Err())
	}
}

// onSession hands the first outcome to connect. A disconnect while alive
// stops the artifact.
func (a *Artifact) onSession(event transport.SessionEvent, err error) {
	a.mu.Lock()
	sessions := a.sessions
	a.mu.Unlock()

	if sessions != nil {
		select {
		case sessions <- sessionOutcome{event, err}:
			return
		default:
		}
	}

	if event != transport.SessionDisconnected || !a.IsAlive() {
		a.logger.Debug("session event", zap.Stringer("event", event), zap.Error(err))
		return
	}

	a.logger.Warn("session lost, stopping artifact", zap.Error(err))
	a.report(context.Background(), errors.E(errors.KindConnection, "artifact.session", err))

	// Handlers run on the client's delivery goroutine.
	go func() {
		if err := a.Stop(context.Background()); err != nil {
			a.logger.Debug("stop after session loss", zap.Error(err))
		}
	}()
}

// abort releases what a failed Start acquired.
func (a *Artifact) abort() {
	a.mu.Lock()
	client, cancel := a.client, a.cancelRun
	a.client, a.cancelRun = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if client == nil {
		return
	}

	if err := client.Disconnect(context.Background()); err != nil {
		a.logger.Debug("disconnect after failed start", zap.Error(err))
	}
}

// supervise runs the runner and stops the artifact when Run fails.
func (a *Artifact) supervise(ctx context.Context) {
	err := a.run(ctx)

	switch {
	case err == nil:
		a.logger.Debug("run returned")
		return
	case !a.IsAlive():
		// Stopped while running; the error is the cancellation.
		a.logger.Debug("run ended after stop", zap.Error(err))
		return
	}

	a.logger.Error("run failed, stopping artifact", zap.Error(err))
	a.report(ctx, err)

	if err := a.Stop(context.Background()); err != nil {
		a.logger.Error("stop after run failure", zap.Error(err))
	}
}

func (a *Artifact) run(ctx context.Context) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("run panicked: %v\n%s", rvr, debug.Stack())
		}
	}()

	return a.runner.Run(ctx, a)
}

// Stop clears liveness, sets presence unavailable and disconnects. The
// transport is torn down only when the artifact was alive. A stopped
// artifact cannot be started again.
func (a *Artifact) Stop(ctx context.Context) error {
	if !a.markStopped() {
		return nil
	}

	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	var err error

	if client != nil {
		err = multierr.Append(err, client.Presence().SetUnavailable())
		err = multierr.Append(err, client.Disconnect(ctx))
	}

	a.logger.Info("artifact stopped")

	if err != nil {
		return errors.E(errors.KindConnection, "artifact.stop", err)
	}

	return nil
}

// Kill clears liveness without tearing down the session.
func (a *Artifact) Kill() {
	if a.markStopped() {
		a.logger.Info("artifact killed")
	}
}

// markStopped moves the artifact to its terminal state, closing the done
// channel and cancelling Run. It reports whether the artifact was alive.
func (a *Artifact) markStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	previous := state(a.state.Swap(int32(stateStopped)))
	if previous != stateAlive {
		return false
	}

	close(a.done)

	if a.cancelRun != nil {
		a.cancelRun()
	}

	return true
}

// Join blocks until the artifact is no longer alive. A positive timeout
// bounds the wait; the error then matches ErrTimeout.
func (a *Artifact) Join(timeout time.Duration) error {
	ctx := context.Background()

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return a.JoinContext(ctx)
}

// JoinContext blocks until the artifact is no longer alive or ctx is done.
func (a *Artifact) JoinContext(ctx context.Context) error {
	a.mu.Lock()
	done := a.done
	alive := a.IsAlive()
	a.mu.Unlock()

	if !alive || done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.E(errors.KindTimeout, "artifact.join", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
	}
}
