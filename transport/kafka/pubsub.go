package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/zap"
)

type pubSub Client

func (ps *pubSub) client() *Client {
	return (*Client)(ps)
}

// Create creates the node topic. An existing topic is a conflict.
func (ps *pubSub) Create(_ context.Context, service, node string) error {
	c := ps.client()

	if !c.isConnected() {
		return fmt.Errorf("create: %w", transport.ErrNotConnected)
	}

	return c.dialer.createTopic(TopicName(service, node))
}

// Publish fails with transport.ErrItemNotFound when the node topic does
// not exist, regardless of the cluster's auto-create setting.
func (ps *pubSub) Publish(_ context.Context, service, node, payload string) error {
	c := ps.client()
	topic := TopicName(service, node)

	if !c.isConnected() {
		return fmt.Errorf("publish: %w", transport.ErrNotConnected)
	}

	if err := describe(c.dialer.admin, "publish", topic); err != nil {
		return err
	}

	m := message.NewMessage(uuid.NewString(), []byte(payload))
	m.Metadata.Set(metaPublisher, c.cfg.JID.Topic())
	m.Metadata.Set(metaService, service)
	m.Metadata.Set(metaNode, node)
	m.Metadata.Set(metaPublished, time.Now().UTC().Format(time.RFC3339Nano))

	if err := c.dialer.publisher.Publish(topic, m); err != nil {
		return errors.Wrap(err, "publish")
	}

	return nil
}

// Subscribe starts consuming the node topic. Subscribing twice is a no-op.
func (ps *pubSub) Subscribe(_ context.Context, service, node string) error {
	c := ps.client()
	topic := TopicName(service, node)

	c.mu.Lock()
	connected, parent := c.connected, c.ctx
	_, subscribed := c.subs[topic]
	c.mu.Unlock()

	if !connected {
		return fmt.Errorf("subscribe: %w", transport.ErrNotConnected)
	}

	if subscribed {
		return nil
	}

	if err := describe(c.dialer.admin, "subscribe", topic); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)

	messages, err := c.dialer.subscriber.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return errors.Wrap(err, "subscribe")
	}

	c.mu.Lock()
	c.subs[topic] = cancel
	c.mu.Unlock()

	go c.consumeItems(service, node, messages)

	return nil
}

// Unsubscribe stops consuming the node topic.
func (ps *pubSub) Unsubscribe(_ context.Context, service, node string) error {
	c := ps.client()
	topic := TopicName(service, node)

	c.mu.Lock()
	cancel, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	if ok {
		cancel()
	}

	return nil
}

func (ps *pubSub) SetOnItemPublished(h transport.ItemHandler) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.onItem = h
}

func (c *Client) consumeItems(service, node string, messages <-chan *message.Message) {
	for m := range messages {
		m.Ack()

		item := itemFromMessage(service, node, m)

		c.logger.Debug("item received", zap.String("node", node), zap.String("publisher", item.Publisher))
		c.enqueue(event{item: &item})
	}
}
