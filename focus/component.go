package focus

import (
	"context"
	"fmt"

	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/transport"
)

// Host is a full agent that carries a pubsub capability.
type Host interface {
	JID() jid.JID
	PubSubService() string
	PubSub() transport.PubSub
}

// Component gives a Host the ability to follow artifacts.
type Component struct {
	host  Host
	table *Table
}

// Attach wires a Component to host and installs its item handler on the
// host's pubsub capability.
func Attach(host Host, opts ...Option) *Component {
	c := &Component{
		host:  host,
		table: NewTable(host.JID(), opts...),
	}

	host.PubSub().SetOnItemPublished(c.OnItemPublished)

	return c
}

// Focus subscribes to the topic of the artifact at target and registers cb
// for its items. A later Focus on the same artifact replaces cb.
func (c *Component) Focus(ctx context.Context, target string, cb Callback) error {
	key := c.table.Set(target, cb)

	if err := c.host.PubSub().Subscribe(ctx, c.host.PubSubService(), key); err != nil {
		c.table.Remove(key)

		return fmt.Errorf("focus %s: %w", key, err)
	}

	return nil
}

// Ignore unsubscribes from the topic of target and forgets its callback.
func (c *Component) Ignore(ctx context.Context, target string) error {
	key, _ := c.table.Remove(target)

	if err := c.host.PubSub().Unsubscribe(ctx, c.host.PubSubService(), key); err != nil {
		return fmt.Errorf("ignore %s: %w", key, err)
	}

	return nil
}

// OnItemPublished dispatches a notification to the focused callback.
func (c *Component) OnItemPublished(item transport.Item) {
	c.table.Dispatch(item)
}

// Has reports whether target is focused.
func (c *Component) Has(target string) bool {
	return c.table.Has(target)
}

// Callbacks returns the focused topic keys.
func (c *Component) Callbacks() []string {
	return c.table.Keys()
}
