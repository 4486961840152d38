package amqp

import (
	"crypto/tls"
	"net"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// DefaultPort is the AMQP port used when no URL is configured.
const DefaultPort = 5672

// Exchanges shared by every client of a broker.
const (
	DirectExchange   = "artifact.direct"
	PresenceExchange = "artifact.presence"
)

// Ensure type Dialer implements transport.Dialer.
var _ transport.Dialer = (*Dialer)(nil)

// Dialer creates clients connected to a RabbitMQ broker.
type Dialer struct {
	url        string
	logger     *zap.Logger
	maxRetries uint64
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithURL sets the broker URL. Credentials missing from the URL are taken
// from the client identity: the bare address as user name and the
// configured password.
func WithURL(u string) Option {
	return func(d *Dialer) {
		d.url = u
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dialer) {
		d.logger = l
	}
}

// WithMaxRetries bounds the exponential backoff applied while dialing.
func WithMaxRetries(n uint64) Option {
	return func(d *Dialer) {
		d.maxRetries = n
	}
}

// NewDialer returns a Dialer. Without WithURL the broker is expected on the
// client's host, or its domain, at DefaultPort.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		logger:     zap.NewNop(),
		maxRetries: 5,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// NewClient returns an unconnected client for cfg.
func (d *Dialer) NewClient(cfg transport.ClientConfig) (transport.Client, error) {
	if cfg.JID.IsZero() {
		return nil, errors.New("amqp: client address is required")
	}

	addr, err := d.brokerURL(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoRegister {
		d.logger.Debug(
			"auto-register is not supported by the broker, using existing account",
			zap.String("jid", cfg.JID.String()),
		)
	}

	return newClient(d, cfg, addr), nil
}

func (d *Dialer) brokerURL(cfg transport.ClientConfig) (string, error) {
	raw := d.url

	if raw == "" {
		host := cfg.Host
		if host == "" {
			host = cfg.JID.Domain
		}

		raw = "amqp://" + net.JoinHostPort(host, strconv.Itoa(DefaultPort)) + "/"
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "parse broker url")
	}

	if u.User == nil {
		u.User = url.UserPassword(cfg.JID.Topic(), cfg.Password)
	}

	return u.String(), nil
}

func (d *Dialer) amqpConfig(cfg transport.ClientConfig) amqp.Config {
	return amqp.Config{
		// nolint: gosec // verification is opt-in for self-hosted brokers.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySecurity},
		Properties: amqp.Table{
			"connection_name": cfg.JID.String(),
		},
	}
}
