package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Delivery headers set on published items.
const (
	headerPublisher = "publisher"
	headerService   = "service"
	headerNode      = "node"
)

// ExchangeName returns the fanout exchange backing node on service.
func ExchangeName(service, node string) string {
	return service + "/" + node
}

type pubSub Client

func (ps *pubSub) client() *Client {
	return (*Client)(ps)
}

// Create declares the topic exchange. An existing exchange is reported as a
// conflict.
func (ps *pubSub) Create(_ context.Context, service, node string) error {
	c := ps.client()
	name := ExchangeName(service, node)

	ch, err := c.channel("create")
	if err != nil {
		return err
	}

	err = ch.ExchangeDeclarePassive(name, "fanout", true, false, false, false, nil)
	if err == nil {
		_ = ch.Close()
		return fmt.Errorf("create %q: %w", name, transport.ErrConflict)
	}

	// The failed probe closed ch.
	err = classify("create", err)
	if !isNotFound(err) {
		return err
	}

	ch, err = c.channel("create")
	if err != nil {
		return err
	}

	defer func() { _ = ch.Close() }()

	err = ch.ExchangeDeclare(
		name,     // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)

	return classify("create", err)
}

// Publish sends payload to every subscriber of node. Publishing to a missing
// node fails with transport.ErrItemNotFound.
func (ps *pubSub) Publish(_ context.Context, service, node, payload string) error {
	c := ps.client()
	name := ExchangeName(service, node)

	if err := c.probe("publish", name); err != nil {
		return err
	}

	return c.publish("publish", name, "", amqp.Publishing{
		ContentType: "text/plain",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Headers: amqp.Table{
			headerPublisher: c.cfg.JID.Topic(),
			headerService:   service,
			headerNode:      node,
		},
		Body: []byte(payload),
	})
}

// Subscribe binds an exclusive queue to the node exchange on its own
// channel. Subscribing twice is a no-op.
func (ps *pubSub) Subscribe(_ context.Context, service, node string) error {
	c := ps.client()
	name := ExchangeName(service, node)

	c.subMu.Lock()
	defer c.subMu.Unlock()

	if _, ok := c.subs[name]; ok {
		return nil
	}

	ch, err := c.channel("subscribe")
	if err != nil {
		return err
	}

	deliveries, err := bindSubscription(ch, name)
	if err != nil {
		_ = ch.Close()
		return classify("subscribe", err)
	}

	c.subs[name] = ch

	go c.consumeItems(service, node, deliveries)

	return nil
}

func bindSubscription(ch *amqp.Channel, exchange string) (<-chan amqp.Delivery, error) {
	if err := ch.ExchangeDeclarePassive(exchange, "fanout", true, false, false, false, nil); err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, err
	}

	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return nil, err
	}

	return ch.Consume(q.Name, uuid.NewString(), true, true, false, false, nil)
}

// Unsubscribe closes the subscription channel, which drops its queue.
func (ps *pubSub) Unsubscribe(_ context.Context, service, node string) error {
	c := ps.client()
	name := ExchangeName(service, node)

	c.subMu.Lock()
	ch, ok := c.subs[name]
	delete(c.subs, name)
	c.subMu.Unlock()

	if !ok {
		return nil
	}

	if err := ch.Close(); err != nil {
		return classify("unsubscribe", err)
	}

	return nil
}

func (ps *pubSub) SetOnItemPublished(h transport.ItemHandler) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.onItem = h
}

// probe checks that exchange exists.
func (c *Client) probe(op, exchange string) error {
	ch, err := c.channel(op)
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclarePassive(exchange, "fanout", true, false, false, false, nil); err != nil {
		return classify(op, err)
	}

	_ = ch.Close()

	return nil
}

func (c *Client) consumeItems(service, node string, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		item := itemFromDelivery(service, node, d)

		c.logger.Debug("item received", zap.String("node", node), zap.String("publisher", item.Publisher))
		c.enqueue(event{item: &item})
	}
}

func itemFromDelivery(service, node string, d amqp.Delivery) transport.Item {
	publisher, _ := d.Headers[headerPublisher].(string)

	if s, ok := d.Headers[headerService].(string); ok && s != "" {
		service = s
	}

	return transport.Item{
		ID:        d.MessageId,
		Service:   service,
		Node:      node,
		Publisher: publisher,
		Payload:   string(d.Body),
		Published: d.Timestamp.UTC(),
	}
}
