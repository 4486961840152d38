package artifact

import (
	"context"
	"fmt"

	"github.com/purposeinplay/go-artifact/errors"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/zap"
)

// ensureTopic creates the artifact's topic. An existing topic is accepted.
func (a *Artifact) ensureTopic(ctx context.Context, client transport.Client) error {
	const op = "artifact.create_topic"

	err := client.PubSub().Create(ctx, a.pubSubService, a.Topic())

	switch {
	case err == nil:
		a.logger.Info("topic created", zap.String("service", a.pubSubService))
		return nil
	case errors.Is(err, transport.ErrConflict):
		a.logger.Info("topic already exists", zap.String("service", a.pubSubService))
		return nil
	case errors.Is(err, transport.ErrForbidden):
		a.logger.Error("topic creation forbidden", zap.String("service", a.pubSubService), zap.Error(err))
		return errors.E(errors.KindPermissionDenied, op, err)
	default:
		a.logger.Error("topic creation failed", zap.String("service", a.pubSubService), zap.Error(err))
		return errors.E(errors.KindNodeCreation, op, err)
	}
}

// Publish publishes payload to the artifact's own topic. It does not wait
// for subscribers.
func (a *Artifact) Publish(ctx context.Context, payload string) error {
	const op = "artifact.publish"

	client := a.currentClient()
	if client == nil {
		return errors.E(errors.KindState, op, ErrNotStarted)
	}

	if err := client.PubSub().Publish(ctx, a.pubSubService, a.Topic(), payload); err != nil {
		a.metrics.PublishFailed(a.Topic())

		return errors.E(errors.KindConnection, op, err)
	}

	a.metrics.Published(a.Topic())

	return nil
}

// Link subscribes to the topic of the artifact at target and registers cb
// for its items. Targets are keyed by bare address; a target without a
// domain is taken to live in this artifact's domain. A later Link on the
// same target replaces cb.
func (a *Artifact) Link(ctx context.Context, target string, cb Callback) error {
	client := a.currentClient()
	if client == nil {
		return errors.E(errors.KindState, "artifact.link", ErrNotStarted)
	}

	key := a.subscriptions.Set(target, cb)

	if err := client.PubSub().Subscribe(ctx, a.pubSubService, key); err != nil {
		a.subscriptions.Remove(key)

		return fmt.Errorf("link %s: %w", key, err)
	}

	a.logger.Debug("linked", zap.String("topic", key))

	return nil
}

// Unlink unsubscribes from target and forgets its callback.
func (a *Artifact) Unlink(ctx context.Context, target string) error {
	key, _ := a.subscriptions.Remove(target)

	client := a.currentClient()
	if client == nil {
		return nil
	}

	if err := client.PubSub().Unsubscribe(ctx, a.pubSubService, key); err != nil {
		return fmt.Errorf("unlink %s: %w", key, err)
	}

	a.logger.Debug("unlinked", zap.String("topic", key))

	return nil
}

// Links returns the keys of the linked topics.
func (a *Artifact) Links() []string {
	return a.subscriptions.Keys()
}

func (a *Artifact) onItemPublished(item transport.Item) {
	a.subscriptions.Dispatch(item)
}
