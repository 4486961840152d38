// Package amqpdocker starts a disposable RabbitMQ broker for integration
// tests.
package amqpdocker

import (
	"fmt"
	"net"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/streadway/amqp"
)

// Broker is a running RabbitMQ container.
type Broker struct {
	resource *dockertest.Resource
	url      string
}

// URL returns the AMQP URL of the broker, credentials included.
func (b *Broker) URL() string {
	return b.url
}

// Close removes the container.
func (b *Broker) Close() error {
	return b.resource.Close()
}

// Start runs a broker whose default account is user/pass and waits until it
// accepts AMQP connections.
func Start(user, pass string, opts ...Option) (*Broker, error) {
	options := defaultOptions()

	for _, o := range opts {
		o.apply(&options)
	}

	pool, err := pool(options)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	runOptions := &dockertest.RunOptions{
		Hostname:   options.containerName,
		Name:       options.containerName,
		Repository: "rabbitmq",
		Tag:        options.tag,
		PortBindings: map[docker.Port][]docker.PortBinding{
			"5672/tcp": {{HostIP: "0.0.0.0", HostPort: options.port}},
		},
		Env: []string{
			fmt.Sprintf("RABBITMQ_DEFAULT_USER=%s", user),
			fmt.Sprintf("RABBITMQ_DEFAULT_PASS=%s", pass),
		},
	}

	res, err := pool.RunWithOptions(
		runOptions,
		func(config *docker.HostConfig) {
			config.AutoRemove = true
			config.RestartPolicy = docker.RestartPolicy{Name: "no"}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("docker run: %w", err)
	}

	if options.expiration > 0 {
		_ = res.Expire(uint(options.expiration / time.Second))
	}

	url := fmt.Sprintf(
		"amqp://%s:%s@%s/",
		user,
		pass,
		net.JoinHostPort("localhost", options.port),
	)

	err = pool.Retry(func() error {
		conn, err := amqp.Dial(url)
		if err != nil {
			return err
		}

		return conn.Close()
	})
	if err != nil {
		_ = res.Close()

		return nil, fmt.Errorf("ping broker: %w", err)
	}

	return &Broker{resource: res, url: url}, nil
}

func pool(opts options) (*dockertest.Pool, error) {
	if opts.pool != nil {
		return opts.pool, nil
	}

	p, err := dockertest.NewPool("")
	if err != nil {
		return nil, err
	}

	p.MaxWait = 40 * time.Second

	return p, nil
}
