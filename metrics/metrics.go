// Package metrics holds the Prometheus collectors shared by artifacts and
// readers. A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "artifact"

// Collector groups the counters exported by an artifact process.
type Collector struct {
	published        *prometheus.CounterVec
	publishErrors    *prometheus.CounterVec
	itemsDelivered   *prometheus.CounterVec
	callbackFailures *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	fetchFailures    *prometheus.CounterVec
}

// New creates a Collector and registers it with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_published_total",
			Help:      "Items published to the artifact's own topic.",
		}, []string{"jid"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Publish calls that failed.",
		}, []string{"jid"}),
		itemsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_delivered_total",
			Help:      "Published-item notifications dispatched to a callback.",
		}, []string{"jid", "topic"}),
		callbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_failures_total",
			Help:      "Subscriber callbacks that returned an error or panicked.",
		}, []string{"jid", "topic"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Point-to-point messages queued in the mailbox.",
		}, []string{"jid"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Reader iterations whose fetch or process step failed.",
		}, []string{"jid"}),
	}

	if reg == nil {
		return c, nil
	}

	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// MustNew is like New but panics on registration failure.
func MustNew(reg prometheus.Registerer) *Collector {
	c, err := New(reg)
	if err != nil {
		panic(err)
	}

	return c
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.published,
		c.publishErrors,
		c.itemsDelivered,
		c.callbackFailures,
		c.messagesReceived,
		c.fetchFailures,
	}
}

// Published records a successful publish.
func (c *Collector) Published(jid string) {
	if c == nil {
		return
	}

	c.published.WithLabelValues(jid).Inc()
}

// PublishFailed records a failed publish.
func (c *Collector) PublishFailed(jid string) {
	if c == nil {
		return
	}

	c.publishErrors.WithLabelValues(jid).Inc()
}

// Delivered records an item dispatched to a callback.
func (c *Collector) Delivered(jid, topic string) {
	if c == nil {
		return
	}

	c.itemsDelivered.WithLabelValues(jid, topic).Inc()
}

// CallbackFailed records a callback failure.
func (c *Collector) CallbackFailed(jid, topic string) {
	if c == nil {
		return
	}

	c.callbackFailures.WithLabelValues(jid, topic).Inc()
}

// MessageReceived records a message queued in a mailbox.
func (c *Collector) MessageReceived(jid string) {
	if c == nil {
		return
	}

	c.messagesReceived.WithLabelValues(jid).Inc()
}

// FetchFailed records a failed reader iteration.
func (c *Collector) FetchFailed(jid string) {
	if c == nil {
		return
	}

	c.fetchFailures.WithLabelValues(jid).Inc()
}
