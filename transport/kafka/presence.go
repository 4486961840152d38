package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/zap"
)

// Update kinds. The zero kind carries availability.
const (
	kindSubscribe  = "subscribe"
	kindSubscribed = "subscribed"
)

type update struct {
	Kind      string `json:"kind,omitempty"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Available bool   `json:"available"`
}

type presence Client

func (p *presence) SetAvailable() error {
	return p.set(true)
}

func (p *presence) SetUnavailable() error {
	return p.set(false)
}

func (p *presence) set(available bool) error {
	c := (*Client)(p)

	if err := c.broadcast(update{Available: available}); err != nil {
		return err
	}

	c.mu.Lock()
	c.available = available
	c.mu.Unlock()

	return nil
}

func (p *presence) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.available
}

func (p *presence) Subscribe(address string) error {
	c := (*Client)(p)

	to := jid.Canonical(address, c.cfg.JID.Domain)
	if to == c.cfg.JID.Topic() {
		return nil
	}

	// Ask first so an answer racing the publish is not dropped.
	c.roster.Ask(to)

	return c.broadcast(update{Kind: kindSubscribe, To: to})
}

func (p *presence) Approve(address string) error {
	c := (*Client)(p)

	requester := jid.Canonical(address, c.cfg.JID.Domain)

	if err := c.roster.Approve(requester); err != nil {
		return err
	}

	return c.broadcast(update{Kind: kindSubscribed, To: requester})
}

func (p *presence) SetApproveAll(approve bool) {
	c := (*Client)(p)

	for _, requester := range c.roster.SetApproveAll(approve) {
		c.answer(requester)
	}
}

// Contacts returns the approved contacts of this session. They are
// forgotten on disconnect.
func (p *presence) Contacts() []string {
	return p.roster.Contacts()
}

func (c *Client) broadcast(u update) error {
	if !c.isConnected() {
		return fmt.Errorf("presence: %w", transport.ErrNotConnected)
	}

	u.From = c.cfg.JID.Topic()

	body, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "encode presence")
	}

	if err := c.dialer.publisher.Publish(PresenceTopic, message.NewMessage(uuid.NewString(), body)); err != nil {
		return errors.Wrap(err, "presence")
	}

	return nil
}

func (c *Client) answer(requester string) {
	if err := c.broadcast(update{Kind: kindSubscribed, To: requester}); err != nil {
		c.logger.Warn("could not approve subscription", zap.String("from", requester), zap.Error(err))
	}
}

func (c *Client) consumePresence(updates <-chan *message.Message) {
	for m := range updates {
		m.Ack()

		var u update

		if err := json.Unmarshal(m.Payload, &u); err != nil {
			c.logger.Warn("dropping malformed presence", zap.Error(err))
			continue
		}

		c.observe(u)
	}
}

func (c *Client) observe(u update) {
	own := c.cfg.JID.Topic()

	if u.From == "" || u.From == own {
		return
	}

	switch u.Kind {
	case "":
		if c.roster.SetAvailable(u.From, u.Available) {
			c.logger.Debug("contact presence", zap.String("contact", u.From), zap.Bool("available", u.Available))
		}
	case kindSubscribe:
		if u.To == own && c.roster.Requested(u.From) {
			c.answer(u.From)
		}
	case kindSubscribed:
		if u.To == own {
			c.roster.Approved(u.From)
		}
	}
}
