package kafka_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/purposeinplay/go-artifact/artifact"
	artifacterrors "github.com/purposeinplay/go-artifact/errors"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/purposeinplay/go-artifact/transport/kafka"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdmin struct {
	mu        sync.Mutex
	topics    map[string]bool
	forbidden map[string]bool
	authFail  bool
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{
		topics:    make(map[string]bool),
		forbidden: make(map[string]bool),
	}
}

func (f *fakeAdmin) CreateTopic(topic string, _ *sarama.TopicDetail, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.authFail:
		return sarama.ErrSASLAuthenticationFailed
	case f.forbidden[topic]:
		return &sarama.TopicError{Err: sarama.ErrTopicAuthorizationFailed}
	case f.topics[topic]:
		return &sarama.TopicError{Err: sarama.ErrTopicAlreadyExists}
	}

	f.topics[topic] = true

	return nil
}

func (f *fakeAdmin) DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	metadata := make([]*sarama.TopicMetadata, 0, len(topics))

	for _, topic := range topics {
		m := &sarama.TopicMetadata{Name: topic}

		if !f.topics[topic] {
			m.Err = sarama.ErrUnknownTopicOrPartition
		}

		metadata = append(metadata, m)
	}

	return metadata, nil
}

func (*fakeAdmin) Close() error { return nil }

func newDialer(t *testing.T, admin kafka.TopicAdmin) *kafka.Dialer {
	t.Helper()

	logger := zap.NewNop()

	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	d := kafka.NewDialer(ch, ch, admin, kafka.WithLogger(logger))

	t.Cleanup(func() { _ = d.Close() })

	return d
}

// idle keeps an artifact alive until it is stopped.
var idle = artifact.RunnerFunc(func(ctx context.Context, _ *artifact.Artifact) error {
	<-ctx.Done()
	return nil
})

func startArtifact(t *testing.T, d *kafka.Dialer, address string) *artifact.Artifact {
	t.Helper()

	a, err := artifact.New(address, "secret", artifact.WithDialer(d), artifact.WithRunner(idle))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background(), false))

	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	return a
}

func TestTopicName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pubsub.server.pub_at_server", kafka.TopicName("pubsub.server", "pub@server"))
	require.Equal(t, "pubsub.server.a_at_b_res", kafka.TopicName("pubsub.server", "a@b/res"))
	require.Equal(t, "artifact.mailbox.a_at_server", kafka.MailboxTopic("a@server"))
}

func TestKafka_PublishLink(t *testing.T) {
	t.Parallel()

	d := newDialer(t, newFakeAdmin())

	pub := startArtifact(t, d, "pub@server")
	sub := startArtifact(t, d, "sub@server")

	var (
		mu  sync.Mutex
		got []string
	)

	require.NoError(t, sub.Link(context.Background(), "pub", func(publisher, payload string) error {
		mu.Lock()
		defer mu.Unlock()

		got = append(got, publisher+" "+payload)

		return nil
	}))

	require.NoError(t, pub.Publish(context.Background(), "42"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(got) == 1 && got[0] == "pub@server 42"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Unlink(context.Background(), "pub@server"))
	require.NoError(t, pub.Publish(context.Background(), "43"))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	require.Len(t, got, 1)
	mu.Unlock()
}

func TestKafka_LinkMissingTopic(t *testing.T) {
	t.Parallel()

	d := newDialer(t, newFakeAdmin())
	a := startArtifact(t, d, "a@server")

	err := a.Link(context.Background(), "missing@server", func(string, string) error { return nil })
	require.ErrorIs(t, err, transport.ErrItemNotFound)
	require.Empty(t, a.Links())
}

func TestKafka_TopicConflictIsSuccess(t *testing.T) {
	t.Parallel()

	admin := newFakeAdmin()
	d := newDialer(t, admin)

	first, err := artifact.New("a@server", "", artifact.WithDialer(d), artifact.WithRunner(idle))
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background(), false))
	require.NoError(t, first.Stop(context.Background()))

	startArtifact(t, d, "a@server")
}

func TestKafka_StartFailures(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		admin        func() *fakeAdmin
		expectedKind artifacterrors.Kind
	}{
		"AuthFailed": {
			admin: func() *fakeAdmin {
				a := newFakeAdmin()
				a.authFail = true

				return a
			},
			expectedKind: artifacterrors.KindAuthentication,
		},
		"TopicForbidden": {
			admin: func() *fakeAdmin {
				a := newFakeAdmin()
				a.forbidden[kafka.TopicName("pubsub.server", "a@server")] = true

				return a
			},
			expectedKind: artifacterrors.KindPermissionDenied,
		},
	}

	for name, test := range tests {
		test := test

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a, err := artifact.New("a@server", "", artifact.WithDialer(newDialer(t, test.admin())))
			require.NoError(t, err)

			err = a.Start(context.Background(), false)
			require.Error(t, err)
			require.Equal(t, test.expectedKind, artifacterrors.KindOf(err))
		})
	}
}

func TestKafka_SendReceive(t *testing.T) {
	t.Parallel()

	d := newDialer(t, newFakeAdmin())

	a := startArtifact(t, d, "a@server")
	b := startArtifact(t, d, "b@server")

	require.NoError(t, a.Send(context.Background(), transport.Message{To: "b@server", Body: "ping"}))

	msg, ok := b.Receive(context.Background(), 2*time.Second)
	require.True(t, ok)
	require.Equal(t, "ping", msg.Body)
	require.Equal(t, "a@server", msg.From)
}

func TestKafka_Presence(t *testing.T) {
	t.Parallel()

	d := newDialer(t, newFakeAdmin())

	a := startArtifact(t, d, "a@server")
	b := startArtifact(t, d, "b@server")
	c := startArtifact(t, d, "c@server")

	require.NoError(t, a.Presence().SetAvailable())
	require.True(t, a.Presence().IsAvailable())

	// Being available does not make a a contact of b.
	require.Empty(t, b.Presence().Contacts())

	b.Presence().SetApproveAll(true)
	require.NoError(t, a.Presence().Subscribe("b"))

	require.Eventually(t, func() bool {
		return slices.Equal(a.Presence().Contacts(), []string{"b@server"}) &&
			slices.Equal(b.Presence().Contacts(), []string{"a@server"})
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Presence().Subscribe("a@server"))

	require.Eventually(t, func() bool {
		return a.Presence().Approve("c@server") == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return slices.Equal(c.Presence().Contacts(), []string{"a@server"})
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"b@server", "c@server"}, a.Presence().Contacts())
	require.NoError(t, a.Presence().SetUnavailable())
}
