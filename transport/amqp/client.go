package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/purposeinplay/go-artifact/blockingqueue"
	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/purposeinplay/go-artifact/transport/roster"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Ensure type amqp.Client implements the transport interfaces.
var (
	_ transport.Client   = (*Client)(nil)
	_ transport.Presence = (*presence)(nil)
	_ transport.PubSub   = (*pubSub)(nil)
)

type event struct {
	session transport.SessionEvent
	err     error
	msg     *transport.Message
	item    *transport.Item
}

// Client is a session on a RabbitMQ broker.
//
// Each client owns a durable mailbox queue named after its bare address,
// bound to DirectExchange by its bare and full addresses. Topics are fanout
// exchanges named service/node; every subscription is an exclusive queue on
// its own channel. Handlers are invoked in order from a single delivery
// goroutine.
type Client struct {
	dialer *Dialer
	cfg    transport.ClientConfig
	addr   string
	logger *zap.Logger

	events *blockingqueue.Queue[event]

	mu        sync.Mutex
	running   bool
	conn      *amqp.Connection
	cancel    context.CancelFunc
	available bool
	roster    *roster.Roster

	onSession transport.SessionHandler
	onMessage transport.MessageHandler
	onItem    transport.ItemHandler

	// pubMu serializes publishes on the session channel.
	pubMu sync.Mutex
	ch    *amqp.Channel

	subMu sync.Mutex
	subs  map[string]*amqp.Channel
}

func newClient(d *Dialer, cfg transport.ClientConfig, addr string) *Client {
	return &Client{
		dialer:   d,
		cfg:      cfg,
		addr:     addr,
		logger:   d.logger.With(zap.String("jid", cfg.JID.String())),
		events:   blockingqueue.New[event](),
		roster:   roster.New(),
		subs:     make(map[string]*amqp.Channel),
	}
}

// Connect dials the broker in the background. The outcome is delivered to
// the session handler.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()

	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", errAlreadyConnected)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.running = true
	c.cancel = cancel

	c.mu.Unlock()

	go c.deliver(ctx)
	go c.establish(ctx)

	return nil
}

func (c *Client) establish(ctx context.Context) {
	conn, err := dial(ctx, c.addr, c.dialer.amqpConfig(c.cfg), c.dialer.maxRetries)
	if err != nil {
		ev, err := sessionFailure(err)

		c.logger.Debug("dial failed", zap.Error(err))
		c.enqueue(event{session: ev, err: err})

		return
	}

	ch, err := c.declare(conn)
	if err != nil {
		_ = conn.Close()

		c.logger.Debug("declare topology failed", zap.Error(err))
		c.enqueue(event{session: transport.SessionDisconnected, err: classify("setup", err)})

		return
	}

	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()

		_ = conn.Close()

		return
	}

	c.conn = conn

	c.mu.Unlock()

	c.pubMu.Lock()
	c.ch = ch
	c.pubMu.Unlock()

	go c.watch(ctx, conn.NotifyClose(make(chan *amqp.Error, 1)))

	c.enqueue(event{session: transport.SessionStarted})
}

// declare sets up the session channel, the mailbox and the presence feed.
func (c *Client) declare(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}

	err = ch.ExchangeDeclare(
		DirectExchange, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return nil, errors.Wrap(err, "declare direct exchange")
	}

	err = ch.ExchangeDeclare(
		PresenceExchange, // name
		"fanout",         // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return nil, errors.Wrap(err, "declare presence exchange")
	}

	mailbox, err := ch.QueueDeclare(
		c.cfg.JID.Topic(), // name
		true,              // durable
		false,             // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return nil, errors.Wrap(err, "declare mailbox")
	}

	for _, key := range mailboxKeys(c.cfg.JID) {
		if err := ch.QueueBind(mailbox.Name, key, DirectExchange, false, nil); err != nil {
			return nil, errors.Wrap(err, "bind mailbox")
		}
	}

	messages, err := ch.Consume(
		mailbox.Name,     // queue
		uuid.NewString(), // consumer
		true,             // auto-ack
		false,            // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
	if err != nil {
		return nil, errors.Wrap(err, "consume mailbox")
	}

	feed, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "declare presence queue")
	}

	if err := ch.QueueBind(feed.Name, "", PresenceExchange, false, nil); err != nil {
		return nil, errors.Wrap(err, "bind presence queue")
	}

	updates, err := ch.Consume(feed.Name, uuid.NewString(), true, true, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "consume presence")
	}

	go c.consumeMessages(messages)
	go c.consumePresence(updates)

	return ch, nil
}

func (c *Client) watch(ctx context.Context, closed <-chan *amqp.Error) {
	select {
	case <-ctx.Done():
	case aerr, ok := <-closed:
		// A nil error means the connection was closed by Disconnect.
		if !ok || aerr == nil {
			return
		}

		c.logger.Warn("connection lost", zap.Error(aerr))

		c.reset()
		c.enqueue(event{
			session: transport.SessionDisconnected,
			err:     fmt.Errorf("%w: %v", transport.ErrNotConnected, aerr),
		})
	}
}

// Disconnect closes the connection and stops delivery.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()

	cancel := c.cancel
	c.running = false
	c.cancel = nil

	c.mu.Unlock()

	conn := c.reset()

	if cancel != nil {
		cancel()
	}

	c.events.Drain()

	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return errors.Wrap(err, "close connection")
	}

	return nil
}

// reset forgets the connection and every channel opened on it.
func (c *Client) reset() *amqp.Connection {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.available = false
	c.mu.Unlock()

	c.roster.Reset()

	c.pubMu.Lock()
	c.ch = nil
	c.pubMu.Unlock()

	c.subMu.Lock()
	c.subs = make(map[string]*amqp.Channel)
	c.subMu.Unlock()

	return conn
}

// Send publishes msg to the recipient's mailbox.
func (c *Client) Send(_ context.Context, msg transport.Message) error {
	to, err := jid.Parse(msg.To)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if msg.From == "" {
		msg.From = c.cfg.JID.String()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	return c.publish("send", DirectExchange, routingKey(to), amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Body:        body,
	})
}

func (c *Client) publish(op, exchange, key string, p amqp.Publishing) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.ch == nil {
		return fmt.Errorf("%s: %w", op, transport.ErrNotConnected)
	}

	return classify(op, c.ch.Publish(exchange, key, false, false, p))
}

// channel opens a short-lived channel. Failed declares close the channel
// they ran on, so probing is kept off the session channel.
func (c *Client) channel(op string) (*amqp.Channel, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("%s: %w", op, transport.ErrNotConnected)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, classify(op, err)
	}

	return ch, nil
}

// HandleSession sets the session handler.
func (c *Client) HandleSession(h transport.SessionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onSession = h
}

// HandleMessage sets the message handler.
func (c *Client) HandleMessage(h transport.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onMessage = h
}

// Presence returns the presence service of the session.
func (c *Client) Presence() transport.Presence {
	return (*presence)(c)
}

// PubSub returns the pubsub capability of the session.
func (c *Client) PubSub() transport.PubSub {
	return (*pubSub)(c)
}

func (c *Client) enqueue(ev event) {
	c.events.Push(ev)
}

func (c *Client) consumeMessages(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var msg transport.Message

		if err := json.Unmarshal(d.Body, &msg); err != nil {
			c.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}

		c.enqueue(event{msg: &msg})
	}
}

func (c *Client) deliver(ctx context.Context) {
	for {
		ev, ok := c.events.Take(ctx)
		if !ok {
			return
		}

		c.mu.Lock()
		onSession, onMessage, onItem := c.onSession, c.onMessage, c.onItem
		c.mu.Unlock()

		switch {
		case ev.session != 0:
			if onSession != nil {
				onSession(ev.session, ev.err)
			}
		case ev.msg != nil:
			if onMessage != nil {
				onMessage(*ev.msg)
			}
		case ev.item != nil:
			if onItem != nil {
				onItem(*ev.item)
			}
		}
	}
}

// mailboxKeys returns the routing keys a mailbox is bound with.
func mailboxKeys(j jid.JID) []string {
	keys := []string{j.Topic()}

	if j.Resource != "" {
		keys = append(keys, j.String())
	}

	return keys
}

// routingKey addresses a full address when a resource is given and the
// bare address otherwise.
func routingKey(to jid.JID) string {
	if to.Resource != "" {
		return to.String()
	}

	return to.Topic()
}
