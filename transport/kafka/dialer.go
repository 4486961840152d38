package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Ensure type Dialer implements transport.Dialer.
var _ transport.Dialer = (*Dialer)(nil)

// Config locates a kafka cluster.
type Config struct {
	Brokers []string
	// Username and Password enable SASL/SCRAM over TLS when set.
	Username string
	Password string
	// ReplicationFactor of created topics, default 1.
	ReplicationFactor int16
	Logger            *zap.Logger
}

// Dialer creates clients sharing one publisher, subscriber and admin.
type Dialer struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	admin      TopicAdmin
	logger     *zap.Logger

	replication int16
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dialer) {
		d.logger = l
	}
}

// WithReplicationFactor sets the replication factor of created topics.
func WithReplicationFactor(n int16) Option {
	return func(d *Dialer) {
		d.replication = n
	}
}

// NewDialer returns a Dialer over existing watermill components.
// Subscribe calls on subscriber must each receive every message published
// after the call, which holds for kafka subscribers without a consumer
// group and for the gochannel pubsub.
func NewDialer(
	publisher message.Publisher,
	subscriber message.Subscriber,
	admin TopicAdmin,
	opts ...Option,
) *Dialer {
	d := &Dialer{
		publisher:   publisher,
		subscriber:  subscriber,
		admin:       admin,
		logger:      zap.NewNop(),
		replication: 1,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dial connects to the cluster described by cfg.
func Dial(cfg Config) (*Dialer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sarama.Logger = zap.NewStdLog(logger.Named("sarama"))

	wmLogger := NewLoggerAdapter(logger, false)

	pubCfg := kafka.DefaultSaramaSyncPublisherConfig()
	subCfg := kafka.DefaultSaramaSubscriberConfig()
	adminCfg := sarama.NewConfig()

	if cfg.Username != "" {
		pubCfg = withSASL(pubCfg, cfg.Username, cfg.Password)
		subCfg = withSASL(subCfg, cfg.Username, cfg.Password)
		adminCfg = withSASL(adminCfg, cfg.Username, cfg.Password)
	}

	// Items published before a subscription are not replayed.
	subCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	adminCfg.Metadata.Retry.Backoff = 2 * time.Second

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, adminCfg)
	if err != nil {
		return nil, fmt.Errorf("new cluster admin: %w", err)
	}

	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: pubCfg,
		},
		wmLogger,
	)
	if err != nil {
		_ = admin.Close()
		return nil, fmt.Errorf("new kafka publisher: %w", err)
	}

	sub, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subCfg,
		},
		wmLogger,
	)
	if err != nil {
		_ = admin.Close()
		_ = pub.Close()

		return nil, fmt.Errorf("new kafka subscriber: %w", err)
	}

	opts := []Option{WithLogger(logger)}

	if cfg.ReplicationFactor > 0 {
		opts = append(opts, WithReplicationFactor(cfg.ReplicationFactor))
	}

	return NewDialer(pub, sub, admin, opts...), nil
}

// NewClient returns an unconnected client for cfg.
func (d *Dialer) NewClient(cfg transport.ClientConfig) (transport.Client, error) {
	if cfg.JID.IsZero() {
		return nil, errors.New("kafka: client address is required")
	}

	return newClient(d, cfg), nil
}

// Close releases the shared components.
func (d *Dialer) Close() error {
	return multierr.Combine(
		d.publisher.Close(),
		d.subscriber.Close(),
		d.admin.Close(),
	)
}

// ensureTopic creates topic, treating an existing topic as success.
func (d *Dialer) ensureTopic(topic string) error {
	err := d.createTopic(topic)
	if errors.Is(err, transport.ErrConflict) {
		return nil
	}

	return err
}

func (d *Dialer) createTopic(topic string) error {
	return classify("create topic", d.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     1,
		ReplicationFactor: d.replication,
	}, false))
}
