package artifact

import (
	"context"
	"time"

	"github.com/purposeinplay/go-artifact/errors"
	"github.com/purposeinplay/go-artifact/transport"
)

// Send sends a point-to-point message. An empty sender is filled with the
// artifact's full address.
func (a *Artifact) Send(ctx context.Context, msg transport.Message) error {
	const op = "artifact.send"

	client := a.currentClient()
	if client == nil {
		return errors.E(errors.KindState, op, ErrNotStarted)
	}

	if msg.From == "" {
		msg.From = a.jid.String()
	}

	if err := client.Send(ctx, msg); err != nil {
		return errors.E(errors.KindConnection, op, err)
	}

	return nil
}

// Receive returns the next mailbox message. With a positive timeout it
// waits up to timeout, otherwise it returns at once. ok is false when no
// message arrived.
func (a *Artifact) Receive(ctx context.Context, timeout time.Duration) (msg transport.Message, ok bool) {
	if timeout <= 0 {
		return a.mailbox.TryTake()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return a.mailbox.Take(ctx)
}

// MailboxSize returns the number of queued messages.
func (a *Artifact) MailboxSize() int {
	return a.mailbox.Len()
}

func (a *Artifact) onMessage(msg transport.Message) {
	a.mailbox.Push(msg)
	a.metrics.MessageReceived(a.Topic())
}
