package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/purposeinplay/go-artifact/blockingqueue"
	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/zap"
)

// Ensure type inmem.Client implements the transport interfaces.
var (
	_ transport.Client   = (*Client)(nil)
	_ transport.Presence = (*presence)(nil)
	_ transport.PubSub   = (*pubSub)(nil)
)

var errAlreadyConnected = errors.New("already connected")

// event is a unit of work for the delivery goroutine.
type event struct {
	session transport.SessionEvent
	err     error
	msg     *transport.Message
	item    *transport.Item
}

// Client is a session on a Server. Handlers are invoked in order from a
// single delivery goroutine.
type Client struct {
	server *Server
	cfg    transport.ClientConfig
	logger *zap.Logger

	events *blockingqueue.Queue[event]

	mu        sync.Mutex
	running   bool
	connected bool
	available bool
	approve   bool
	cancel    context.CancelFunc

	onSession transport.SessionHandler
	onMessage transport.MessageHandler
	onItem    transport.ItemHandler
}

func newClient(s *Server, cfg transport.ClientConfig) *Client {
	return &Client{
		server: s,
		cfg:    cfg,
		logger: s.logger.With(zap.String("jid", cfg.JID.String())),
		events: blockingqueue.New[event](),
	}
}

// Connect starts the delivery goroutine and logs in asynchronously.
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

	go func() {
		ev, err := c.server.login(c)
		if err != nil {
			c.logger.Debug("login failed", zap.Error(err))
			c.enqueue(event{session: ev, err: err})
		}
	}()

	return nil
}

// Disconnect logs out and stops delivery. It does not wait for the
// delivery goroutine, so it is safe to call from a handler.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()

	cancel := c.cancel

	c.running = false
	c.connected = false
	c.available = false
	c.cancel = nil

	c.mu.Unlock()

	c.server.logout(c)

	if cancel != nil {
		cancel()
	}

	// Discard what was queued for the closed session.
	c.events.Drain()

	return nil
}

// Send routes msg to its recipient.
func (c *Client) Send(_ context.Context, msg transport.Message) error {
	if !c.isConnected() {
		return fmt.Errorf("send: %w", transport.ErrNotConnected)
	}

	if msg.From == "" {
		msg.From = c.cfg.JID.String()
	}

	return c.server.route(msg)
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

// drop ends the session from the server side.
func (c *Client) drop(err error) {
	c.server.logout(c)

	c.mu.Lock()
	c.connected = false
	c.available = false
	c.mu.Unlock()

	c.enqueue(event{session: transport.SessionDisconnected, err: err})
}

func (c *Client) enqueue(ev event) {
	c.events.Push(ev)
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = connected
}

func (c *Client) approvesAll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.approve
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
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

type presence Client

func (p *presence) SetAvailable() error {
	return p.set(true)
}

func (p *presence) SetUnavailable() error {
	return p.set(false)
}

func (p *presence) set(available bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return fmt.Errorf("presence: %w", transport.ErrNotConnected)
	}

	p.available = available

	return nil
}

func (p *presence) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.available
}

func (p *presence) Subscribe(address string) error {
	c := (*Client)(p)

	if !c.isConnected() {
		return fmt.Errorf("subscribe: %w", transport.ErrNotConnected)
	}

	own := c.cfg.JID.Topic()

	to := jid.Canonical(address, c.cfg.JID.Domain)
	if to == own {
		return nil
	}

	c.server.requestSubscription(own, to)

	return nil
}

func (p *presence) Approve(address string) error {
	c := (*Client)(p)

	if !c.isConnected() {
		return fmt.Errorf("approve: %w", transport.ErrNotConnected)
	}

	return c.server.approve(c.cfg.JID.Topic(), jid.Canonical(address, c.cfg.JID.Domain))
}

func (p *presence) SetApproveAll(approve bool) {
	c := (*Client)(p)

	c.mu.Lock()
	c.approve = approve
	c.mu.Unlock()

	if approve && c.isConnected() {
		c.server.approvePending(c.cfg.JID.Topic())
	}
}

func (p *presence) Contacts() []string {
	return p.server.contacts(p.cfg.JID.Topic())
}

type pubSub Client

func (ps *pubSub) client() *Client {
	return (*Client)(ps)
}

func (ps *pubSub) Create(_ context.Context, service, node string) error {
	if !ps.client().isConnected() {
		return fmt.Errorf("create: %w", transport.ErrNotConnected)
	}

	return ps.server.create(ps.client(), service, node)
}

func (ps *pubSub) Publish(_ context.Context, service, node, payload string) error {
	c := ps.client()

	if !c.isConnected() {
		return fmt.Errorf("publish: %w", transport.ErrNotConnected)
	}

	item := transport.Item{
		ID:        uuid.NewString(),
		Service:   service,
		Publisher: c.cfg.JID.Topic(),
		Payload:   payload,
		Published: time.Now().UTC(),
	}

	return ps.server.publish(c, service, node, item)
}

func (ps *pubSub) Subscribe(_ context.Context, service, node string) error {
	if !ps.client().isConnected() {
		return fmt.Errorf("subscribe: %w", transport.ErrNotConnected)
	}

	return ps.server.subscribe(ps.client(), service, node)
}

func (ps *pubSub) Unsubscribe(_ context.Context, service, node string) error {
	if !ps.client().isConnected() {
		return fmt.Errorf("unsubscribe: %w", transport.ErrNotConnected)
	}

	return ps.server.unsubscribe(ps.client(), service, node)
}

func (ps *pubSub) SetOnItemPublished(h transport.ItemHandler) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.onItem = h
}
