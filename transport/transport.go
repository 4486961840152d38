// Package transport defines the contract an artifact consumes from the
// messaging framework it runs on: a session client, a presence service and
// a pubsub capability.
//
// Implementations live in the subpackages (inmem, amqp, kafka). The artifact
// never reaches past these interfaces, so any backend that maps its errors
// onto the sentinel conditions below can host artifacts.
package transport

import (
	"context"
	"time"

	"github.com/purposeinplay/go-artifact/jid"
)

// Message is a point-to-point message.
type Message struct {
	To       string            `json:"to"`
	From     string            `json:"from"`
	Body     string            `json:"body"`
	Thread   string            `json:"thread,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Item is a published-item notification.
type Item struct {
	ID string `json:"id"`
	// Service is the pubsub service the item was published on.
	Service string `json:"service"`
	// Node is the topic identifier as the backend reported it. It may or may
	// not carry a domain suffix.
	Node string `json:"node"`
	// Publisher is the address of the publishing entity.
	Publisher string    `json:"publisher"`
	Payload   string    `json:"payload"`
	Published time.Time `json:"published"`
}

// SessionEvent is a terminal outcome of a connection attempt, or a later
// loss of the session.
type SessionEvent int

// Session events.
const (
	SessionStarted SessionEvent = iota + 1
	SessionDisconnected
	SessionAuthFailed
)

func (e SessionEvent) String() string {
	switch e {
	case SessionStarted:
		return "session_start"
	case SessionDisconnected:
		return "disconnected"
	case SessionAuthFailed:
		return "failed_auth"
	default:
		return "unknown"
	}
}

// Handler functions registered on a Client. They are invoked from the
// client's delivery goroutine and must not block for long.
type (
	SessionHandler func(event SessionEvent, err error)
	MessageHandler func(msg Message)
	ItemHandler    func(item Item)
)

// ClientConfig binds a client to an identity.
type ClientConfig struct {
	JID      jid.JID
	Password string
	// Host and Port locate the server. Backends with their own configured
	// address may ignore them.
	Host string
	Port int
	// VerifySecurity enables certificate verification.
	VerifySecurity bool
	// AutoRegister asks the server to create the account when it is missing.
	AutoRegister bool
}

// Dialer constructs clients.
type Dialer interface {
	NewClient(cfg ClientConfig) (Client, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(cfg ClientConfig) (Client, error)

// NewClient calls f(cfg).
func (f DialerFunc) NewClient(cfg ClientConfig) (Client, error) {
	return f(cfg)
}

// Client is a session with the server.
type Client interface {
	// Connect starts connecting and authenticating. It returns once the
	// attempt is underway; the terminal outcome is delivered to the
	// SessionHandler. A returned error means the attempt could not start.
	Connect(ctx context.Context) error

	// Disconnect closes the session and waits for it to be torn down.
	Disconnect(ctx context.Context) error

	// Send delivers a point-to-point message.
	Send(ctx context.Context, msg Message) error

	HandleSession(h SessionHandler)
	HandleMessage(h MessageHandler)

	Presence() Presence
	PubSub() PubSub
}

// Presence is the presence service of a session.
type Presence interface {
	SetAvailable() error
	SetUnavailable() error
	IsAvailable() bool
	// Subscribe asks address to share its presence. address joins Contacts
	// once it approves. Asking for the own address does nothing.
	Subscribe(address string) error
	// Approve accepts the pending request of address, adding it to
	// Contacts. It returns an error matching ErrNoRequest when address has
	// not asked.
	Approve(address string) error
	// SetApproveAll approves pending and future requests automatically.
	SetApproveAll(approve bool)
	// Contacts returns the sorted bare addresses in the roster.
	Contacts() []string
}

// PubSub is the pubsub capability of a session.
type PubSub interface {
	// Create creates node on service. Implementations return an error
	// matching ErrConflict when it exists and ErrForbidden when the session
	// may not create it.
	Create(ctx context.Context, service, node string) error
	Publish(ctx context.Context, service, node, payload string) error
	Subscribe(ctx context.Context, service, node string) error
	Unsubscribe(ctx context.Context, service, node string) error
	// SetOnItemPublished replaces the handler for item notifications of
	// every subscribed node.
	SetOnItemPublished(h ItemHandler)
}
