package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/purposeinplay/go-artifact/blockingqueue"
	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/purposeinplay/go-artifact/transport/roster"
	"go.uber.org/zap"
)

// Ensure type kafka.Client implements the transport interfaces.
var (
	_ transport.Client   = (*Client)(nil)
	_ transport.Presence = (*presence)(nil)
	_ transport.PubSub   = (*pubSub)(nil)
)

// Message metadata keys.
const (
	metaPublisher = "publisher"
	metaService   = "service"
	metaNode      = "node"
	metaPublished = "published"
	metaTo        = "to"
)

var errAlreadyConnected = errors.New("already connected")

type event struct {
	session transport.SessionEvent
	err     error
	msg     *transport.Message
	item    *transport.Item
}

// Client is a session on a kafka cluster. Kafka has no notion of a login,
// so a session starts once the client's mailbox and the presence feed are
// subscribed.
type Client struct {
	dialer *Dialer
	cfg    transport.ClientConfig
	logger *zap.Logger

	events *blockingqueue.Queue[event]

	mu        sync.Mutex
	running   bool
	connected bool
	available bool
	ctx       context.Context
	cancel    context.CancelFunc
	roster    *roster.Roster
	subs      map[string]context.CancelFunc

	onSession transport.SessionHandler
	onMessage transport.MessageHandler
	onItem    transport.ItemHandler
}

func newClient(d *Dialer, cfg transport.ClientConfig) *Client {
	return &Client{
		dialer:   d,
		cfg:      cfg,
		logger:   d.logger.With(zap.String("jid", cfg.JID.String())),
		events:   blockingqueue.New[event](),
		roster:   roster.New(),
		subs:     make(map[string]context.CancelFunc),
	}
}

// Connect subscribes the mailbox and presence feed in the background.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()

	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", errAlreadyConnected)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.running = true
	c.ctx = ctx
	c.cancel = cancel

	c.mu.Unlock()

	go c.deliver(ctx)
	go c.establish(ctx)

	return nil
}

func (c *Client) establish(ctx context.Context) {
	if err := c.subscribeFeeds(ctx); err != nil {
		ev := transport.SessionDisconnected

		if isAuthError(err) {
			ev = transport.SessionAuthFailed
			err = fmt.Errorf("%w: %v", transport.ErrNotAuthorized, err)
		} else {
			err = fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
		}

		c.logger.Debug("session setup failed", zap.Error(err))
		c.enqueue(event{session: ev, err: err})

		return
	}

	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()
		return
	}

	c.connected = true

	c.mu.Unlock()

	c.enqueue(event{session: transport.SessionStarted})
}

func (c *Client) subscribeFeeds(ctx context.Context) error {
	mailbox := MailboxTopic(c.cfg.JID.Topic())

	for _, topic := range []string{mailbox, PresenceTopic} {
		if err := c.dialer.ensureTopic(topic); err != nil {
			return err
		}
	}

	messages, err := c.dialer.subscriber.Subscribe(ctx, mailbox)
	if err != nil {
		return errors.Wrap(err, "subscribe mailbox")
	}

	updates, err := c.dialer.subscriber.Subscribe(ctx, PresenceTopic)
	if err != nil {
		return errors.Wrap(err, "subscribe presence")
	}

	go c.consumeMessages(messages)
	go c.consumePresence(updates)

	return nil
}

// Disconnect cancels every subscription and stops delivery.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()

	cancel := c.cancel

	c.running = false
	c.connected = false
	c.available = false
	c.cancel = nil
	c.subs = make(map[string]context.CancelFunc)

	c.mu.Unlock()

	c.roster.Reset()

	if cancel != nil {
		cancel()
	}

	c.events.Drain()

	return nil
}

// Send publishes msg to the recipient's mailbox topic.
func (c *Client) Send(_ context.Context, msg transport.Message) error {
	if !c.isConnected() {
		return fmt.Errorf("send: %w", transport.ErrNotConnected)
	}

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

	topic := MailboxTopic(to.Topic())

	if err := c.dialer.ensureTopic(topic); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	m := message.NewMessage(uuid.NewString(), body)
	m.Metadata.Set(metaTo, msg.To)

	if err := c.dialer.publisher.Publish(topic, m); err != nil {
		return errors.Wrap(err, "send")
	}

	return nil
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

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *Client) enqueue(ev event) {
	c.events.Push(ev)
}

// accepts reports whether a message addressed to to belongs to this
// session.
func (c *Client) accepts(to string) bool {
	addr, err := jid.Parse(to)
	if err != nil {
		return false
	}

	return addr.Resource == "" || c.cfg.JID.Resource == "" || addr.Resource == c.cfg.JID.Resource
}

func (c *Client) consumeMessages(messages <-chan *message.Message) {
	for m := range messages {
		m.Ack()

		var msg transport.Message

		if err := json.Unmarshal(m.Payload, &msg); err != nil {
			c.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}

		if !c.accepts(msg.To) {
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

func itemFromMessage(service, node string, m *message.Message) transport.Item {
	published, err := time.Parse(time.RFC3339Nano, m.Metadata.Get(metaPublished))
	if err != nil {
		published = time.Now().UTC()
	}

	if s := m.Metadata.Get(metaService); s != "" {
		service = s
	}

	return transport.Item{
		ID:        m.UUID,
		Service:   service,
		Node:      node,
		Publisher: m.Metadata.Get(metaPublisher),
		Payload:   string(m.Payload),
		Published: published,
	}
}
