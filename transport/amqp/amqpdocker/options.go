package amqpdocker

import (
	"time"

	"github.com/ory/dockertest/v3"
)

type options struct {
	containerName string
	port          string
	tag           string
	pool          *dockertest.Pool
	expiration    time.Duration
}

func defaultOptions() options {
	return options{
		containerName: "artifact-rabbitmq",
		port:          "5672",
		tag:           "3-alpine",
		expiration:    2 * time.Minute,
	}
}

// Option configures the broker container.
type Option interface {
	apply(*options)
}

type containerNameOption string

func (c containerNameOption) apply(opts *options) {
	opts.containerName = string(c)
}

// WithContainerName sets the container name. An empty name lets docker pick
// one.
func WithContainerName(name string) Option {
	return containerNameOption(name)
}

type portOption string

func (p portOption) apply(opts *options) {
	opts.port = string(p)
}

// WithPort sets the host port the AMQP listener is bound to, default 5672.
func WithPort(port string) Option {
	return portOption(port)
}

type tagOption string

func (t tagOption) apply(opts *options) {
	opts.tag = string(t)
}

// WithTag sets the rabbitmq image tag.
func WithTag(tag string) Option {
	return tagOption(tag)
}

type poolOption struct {
	p *dockertest.Pool
}

func (p poolOption) apply(opts *options) {
	opts.pool = p.p
}

// WithPool sets the docker pool.
func WithPool(pool *dockertest.Pool) Option {
	return poolOption{pool}
}

type expirationOption time.Duration

func (e expirationOption) apply(opts *options) {
	opts.expiration = time.Duration(e)
}

// WithExpiration bounds the container lifetime.
func WithExpiration(d time.Duration) Option {
	return expirationOption(d)
}
