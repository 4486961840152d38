package amqp

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// dial opens a connection, retrying with exponential backoff. Rejected
// credentials are not retried.
func dial(ctx context.Context, addr string, cfg amqp.Config, maxRetries uint64) (*amqp.Connection, error) {
	var conn *amqp.Connection

	operation := func() error {
		c, err := amqp.DialConfig(addr, cfg)
		if err != nil {
			if isAuthError(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		conn = c

		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries),
		ctx,
	)

	if err := backoff.Retry(operation, b); err != nil {
		return nil, errors.Wrap(err, "opening rabbitmq connection")
	}

	return conn, nil
}
