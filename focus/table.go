// Package focus maps published-item notifications to callbacks keyed by
// topic. The Table is shared by artifacts (link/unlink) and by the host-side
// Component (focus/ignore) attached to a full agent.
package focus

import (
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/purposeinplay/go-artifact/errors"
	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/metrics"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/zap"
)

// Callback consumes an item published on a followed topic.
type Callback func(publisher, payload string) error

// FailureHandler is notified when a callback fails or panics.
type FailureHandler func(topic string, err error)

// Table holds at most one callback per canonical topic key.
//
// Keys are bare addresses. A target without a domain takes the table's
// default domain; a notification whose node lacks a domain takes the
// publisher's domain.
type Table struct {
	mu        sync.RWMutex
	callbacks map[string]Callback

	domain string
	name   string

	logger    *zap.Logger
	metrics   *metrics.Collector
	onFailure FailureHandler
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger used for dispatch failures.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// WithMetrics sets the collector for delivery and failure counters.
func WithMetrics(c *metrics.Collector) Option {
	return func(t *Table) {
		t.metrics = c
	}
}

// WithFailureHandler sets a function notified of callback failures.
func WithFailureHandler(h FailureHandler) Option {
	return func(t *Table) {
		t.onFailure = h
	}
}

// NewTable returns an empty table owned by the entity at owner.
func NewTable(owner jid.JID, opts ...Option) *Table {
	t := &Table{
		callbacks: make(map[string]Callback),
		domain:    owner.Domain,
		name:      owner.Topic(),
		logger:    zap.NewNop(),
	}

	for _, o := range opts {
		o(t)
	}

	return t
}

// Key returns the canonical key for target.
func (t *Table) Key(target string) string {
	return jid.Canonical(target, t.domain)
}

// Set registers cb for target, replacing any previous callback. It returns
// the key cb was stored under.
func (t *Table) Set(target string, cb Callback) string {
	key := t.Key(target)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.callbacks[key] = cb

	return key
}

// Remove deletes the callback for target and reports whether one existed.
func (t *Table) Remove(target string) (string, bool) {
	key := t.Key(target)

	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.callbacks[key]
	delete(t.callbacks, key)

	return key, ok
}

// Has reports whether a callback is registered for target.
func (t *Table) Has(target string) bool {
	key := t.Key(target)

	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.callbacks[key]

	return ok
}

// Keys returns the registered keys, sorted.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.callbacks))

	for k := range t.callbacks {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Len returns the number of registered callbacks.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.callbacks)
}

// ItemKey resolves the key a notification is dispatched under.
func (t *Table) ItemKey(item transport.Item) string {
	domain := t.domain

	if publisher, err := jid.Parse(item.Publisher); err == nil {
		domain = publisher.Domain
	}

	return jid.Canonical(item.Node, domain)
}

// Dispatch invokes the callback registered for the item's topic. Unmatched
// topics are ignored. Callback errors and panics are logged and reported,
// never returned. It reports whether a callback ran successfully.
func (t *Table) Dispatch(item transport.Item) bool {
	key := t.ItemKey(item)

	t.mu.RLock()
	cb, ok := t.callbacks[key]
	t.mu.RUnlock()

	if !ok {
		t.logger.Debug("item for unfollowed topic", zap.String("topic", key))
		return false
	}

	if err := invoke(cb, item); err != nil {
		t.logger.Error(
			"callback failed",
			zap.String("topic", key),
			zap.String("publisher", item.Publisher),
			zap.Error(err),
		)

		t.metrics.CallbackFailed(t.name, key)

		if t.onFailure != nil {
			t.onFailure(key, err)
		}

		return false
	}

	t.metrics.Delivered(t.name, key)

	return true
}

// invoke runs cb, turning a panic into an error.
func invoke(cb Callback, item transport.Item) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("panic: %v\n%s", rvr, debug.Stack())
		}

		if err != nil {
			err = errors.E(errors.KindCallback, "focus.dispatch", err)
		}
	}()

	return cb(item.Publisher, item.Payload)
}
