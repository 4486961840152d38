package amqp

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/streadway/amqp"
)

var errAlreadyConnected = errors.New("already connected")

func isAuthError(err error) bool {
	if errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrSASL) {
		return true
	}

	var aerr *amqp.Error

	return errors.As(err, &aerr) && aerr.Code == amqp.AccessRefused
}

// classify maps broker errors onto the transport conditions.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("%s: %w", op, transport.ErrNotConnected)
	}

	var aerr *amqp.Error

	if errors.As(err, &aerr) {
		switch aerr.Code {
		case amqp.NotFound:
			return fmt.Errorf("%s: %w: %s", op, transport.ErrItemNotFound, aerr.Reason)
		case amqp.AccessRefused:
			return fmt.Errorf("%s: %w: %s", op, transport.ErrForbidden, aerr.Reason)
		}
	}

	return errors.Wrap(err, op)
}

// sessionFailure returns the session event reported for a failed dial.
func sessionFailure(err error) (transport.SessionEvent, error) {
	if isAuthError(err) {
		return transport.SessionAuthFailed, fmt.Errorf("%w: %v", transport.ErrNotAuthorized, err)
	}

	return transport.SessionDisconnected, fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, transport.ErrItemNotFound)
}
