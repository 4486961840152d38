package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/purposeinplay/go-artifact/transport/inmem"
	"github.com/stretchr/testify/require"
)

type session struct {
	event transport.SessionEvent
	err   error
}

func connect(
	t *testing.T,
	srv *inmem.Server,
	address, password string,
	autoRegister bool,
) (transport.Client, session) {
	t.Helper()

	c, err := srv.NewClient(transport.ClientConfig{
		JID:          jid.MustParse(address),
		Password:     password,
		AutoRegister: autoRegister,
	})
	require.NoError(t, err)

	events := make(chan session, 4)

	c.HandleSession(func(ev transport.SessionEvent, err error) {
		events <- session{ev, err}
	})

	require.NoError(t, c.Connect(context.Background()))

	t.Cleanup(func() {
		_ = c.Disconnect(context.Background())
	})

	select {
	case s := <-events:
		return c, s
	case <-time.After(time.Second):
		t.Fatal("no session event")
	}

	return nil, session{}
}

func TestServer_Login(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		setup        func(*testing.T, *inmem.Server)
		password     string
		autoRegister bool
		expected     transport.SessionEvent
		expectedErr  error
	}{
		"Registered": {
			setup: func(t *testing.T, s *inmem.Server) {
				require.NoError(t, s.Register("a@server", "secret"))
			},
			password: "secret",
			expected: transport.SessionStarted,
		},
		"WrongPassword": {
			setup: func(t *testing.T, s *inmem.Server) {
				require.NoError(t, s.Register("a@server", "secret"))
			},
			password:    "nope",
			expected:    transport.SessionAuthFailed,
			expectedErr: transport.ErrNotAuthorized,
		},
		"UnknownNoRegister": {
			password:    "secret",
			expected:    transport.SessionAuthFailed,
			expectedErr: transport.ErrNotAuthorized,
		},
		"AutoRegister": {
			password:     "secret",
			autoRegister: true,
			expected:     transport.SessionStarted,
		},
		"Offline": {
			setup: func(t *testing.T, s *inmem.Server) {
				s.SetOffline(true)
			},
			password:     "secret",
			autoRegister: true,
			expected:     transport.SessionDisconnected,
			expectedErr:  transport.ErrNotConnected,
		},
	}

	for name, test := range tests {
		test := test

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv := inmem.NewServer()

			if test.setup != nil {
				test.setup(t, srv)
			}

			_, s := connect(t, srv, "a@server/res", test.password, test.autoRegister)

			require.Equal(t, test.expected, s.event)

			if test.expectedErr != nil {
				require.ErrorIs(t, s.err, test.expectedErr)
			} else {
				require.NoError(t, s.err)
			}
		})
	}
}

func TestServer_RegistrationDisabled(t *testing.T) {
	t.Parallel()

	srv := inmem.NewServer(inmem.WithRegistration(false))

	_, s := connect(t, srv, "a@server", "secret", true)

	require.Equal(t, transport.SessionAuthFailed, s.event)
}

func TestPubSub_Create(t *testing.T) {
	t.Parallel()

	srv := inmem.NewServer()
	srv.Forbid("pubsub.server", "b@server")

	a, _ := connect(t, srv, "a@server", "x", true)
	b, _ := connect(t, srv, "b@server", "x", true)

	ctx := context.Background()

	require.NoError(t, a.PubSub().Create(ctx, "pubsub.server", "a@server"))
	require.True(t, srv.HasNode("pubsub.server", "a@server"))

	require.ErrorIs(t,
		a.PubSub().Create(ctx, "pubsub.server", "a@server"),
		transport.ErrConflict,
	)

	require.ErrorIs(t,
		b.PubSub().Create(ctx, "pubsub.server", "b@server"),
		transport.ErrForbidden,
	)
}

func TestPubSub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	srv := inmem.NewServer()

	pub, _ := connect(t, srv, "pub@server", "x", true)
	sub, _ := connect(t, srv, "sub@server", "x", true)

	ctx := context.Background()

	require.NoError(t, pub.PubSub().Create(ctx, "pubsub.server", "pub@server"))

	items := make(chan transport.Item, 8)

	sub.PubSub().SetOnItemPublished(func(item transport.Item) {
		items <- item
	})

	require.ErrorIs(t,
		sub.PubSub().Subscribe(ctx, "pubsub.server", "missing@server"),
		transport.ErrItemNotFound,
	)

	require.NoError(t, sub.PubSub().Subscribe(ctx, "pubsub.server", "pub@server"))
	require.Equal(t, 1, srv.Subscribers("pubsub.server", "pub@server"))

	require.ErrorIs(t,
		sub.PubSub().Publish(ctx, "pubsub.server", "pub@server", "x"),
		transport.ErrForbidden,
	)

	for _, payload := range []string{"1", "2", "3"} {
		require.NoError(t, pub.PubSub().Publish(ctx, "pubsub.server", "pub@server", payload))
	}

	for _, expected := range []string{"1", "2", "3"} {
		select {
		case item := <-items:
			require.Equal(t, expected, item.Payload)
			require.Equal(t, "pub@server", item.Node)
			require.Equal(t, "pub@server", item.Publisher)
			require.NotEmpty(t, item.ID)
		case <-time.After(time.Second):
			t.Fatal("item not delivered")
		}
	}

	require.NoError(t, sub.PubSub().Unsubscribe(ctx, "pubsub.server", "pub@server"))
	require.Zero(t, srv.Subscribers("pubsub.server", "pub@server"))
}

func TestPubSub_TrimmedNodeNames(t *testing.T) {
	t.Parallel()

	srv := inmem.NewServer(inmem.WithTrimmedNodeNames())

	pub, _ := connect(t, srv, "pub@server", "x", true)
	sub, _ := connect(t, srv, "sub@server", "x", true)

	ctx := context.Background()

	require.NoError(t, pub.PubSub().Create(ctx, "pubsub.server", "pub@server"))

	items := make(chan transport.Item, 1)

	sub.PubSub().SetOnItemPublished(func(item transport.Item) {
		items <- item
	})

	require.NoError(t, sub.PubSub().Subscribe(ctx, "pubsub.server", "pub@server"))
	require.NoError(t, pub.PubSub().Publish(ctx, "pubsub.server", "pub@server", "x"))

	select {
	case item := <-items:
		require.Equal(t, "pub", item.Node)
	case <-time.After(time.Second):
		t.Fatal("item not delivered")
	}
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	srv := inmem.NewServer()

	a, _ := connect(t, srv, "a@server/one", "x", true)

	ctx := context.Background()

	// b has no session yet, the message is stored.
	require.NoError(t, a.Send(ctx, transport.Message{To: "b@server", Body: "hello"}))

	c, err := srv.NewClient(transport.ClientConfig{
		JID:          jid.MustParse("b@server/two"),
		Password:     "x",
		AutoRegister: true,
	})
	require.NoError(t, err)

	messages := make(chan transport.Message, 4)
	started := make(chan struct{}, 1)

	c.HandleMessage(func(msg transport.Message) {
		messages <- msg
	})
	c.HandleSession(func(ev transport.SessionEvent, _ error) {
		if ev == transport.SessionStarted {
			started <- struct{}{}
		}
	})

	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Disconnect(ctx) })

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("session not started")
	}

	require.NoError(t, a.Send(ctx, transport.Message{To: "b@server/two", Body: "again"}))

	for _, expected := range []string{"hello", "again"} {
		select {
		case msg := <-messages:
			require.Equal(t, expected, msg.Body)
			require.Equal(t, "a@server/one", msg.From)
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()

	srv := inmem.NewServer()
	srv.Befriend("a@server", "b@server")

	a, _ := connect(t, srv, "a@server", "x", true)

	require.False(t, a.Presence().IsAvailable())
	require.NoError(t, a.Presence().SetAvailable())
	require.True(t, a.Presence().IsAvailable())
	require.Equal(t, []string{"b@server"}, a.Presence().Contacts())
	require.NoError(t, a.Presence().SetUnavailable())
	require.False(t, a.Presence().IsAvailable())

	require.NoError(t, a.Disconnect(context.Background()))
	require.ErrorIs(t, a.Presence().SetAvailable(), transport.ErrNotConnected)
}

func TestPresence_Subscriptions(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		approveAll bool
		approve    bool
		expected   []string
		pending    []string
	}{
		"Pending": {
			expected: []string{},
			pending:  []string{"b@server"},
		},
		"Approve": {
			approve:  true,
			expected: []string{"b@server"},
			pending:  []string{},
		},
		"ApproveAll": {
			approveAll: true,
			expected:   []string{"b@server"},
			pending:    []string{},
		},
	}

	for name, test := range tests {
		test := test

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv := inmem.NewServer()

			a, _ := connect(t, srv, "a@server", "x", true)
			b, _ := connect(t, srv, "b@server", "x", true)

			a.Presence().SetApproveAll(test.approveAll)

			require.NoError(t, b.Presence().Subscribe("a"))

			if test.approve {
				require.NoError(t, a.Presence().Approve("b@server"))
			}

			require.Equal(t, test.expected, a.Presence().Contacts())
			require.Equal(t, test.pending, srv.Requests("a@server"))

			if len(test.expected) > 0 {
				require.Equal(t, []string{"a@server"}, b.Presence().Contacts())
			}
		})
	}
}

func TestPresence_ApproveAllGrowsContacts(t *testing.T) {
	t.Parallel()

	srv := inmem.NewServer()

	a, _ := connect(t, srv, "a@server", "x", true)

	for _, address := range []string{"b@server", "c@server"} {
		c, _ := connect(t, srv, address, "x", true)
		require.NoError(t, c.Presence().Subscribe("a@server"))
	}

	require.Empty(t, a.Presence().Contacts())

	a.Presence().SetApproveAll(true)
	require.Equal(t, []string{"b@server", "c@server"}, a.Presence().Contacts())

	d, _ := connect(t, srv, "d@server", "x", true)
	require.NoError(t, d.Presence().Subscribe("a@server"))
	require.Equal(t, []string{"b@server", "c@server", "d@server"}, a.Presence().Contacts())

	err := a.Presence().Approve("e@server")
	require.ErrorIs(t, err, transport.ErrNoRequest)

	// Asking for the own presence does nothing.
	require.NoError(t, a.Presence().Subscribe("a@server"))
	require.Empty(t, srv.Requests("a@server"))
}

func TestServer_Kick(t *testing.T) {
	t.Parallel()

	srv := inmem.NewServer()

	c, err := srv.NewClient(transport.ClientConfig{
		JID:          jid.MustParse("a@server"),
		Password:     "x",
		AutoRegister: true,
	})
	require.NoError(t, err)

	events := make(chan transport.SessionEvent, 4)

	c.HandleSession(func(ev transport.SessionEvent, _ error) {
		events <- ev
	})

	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })

	require.Equal(t, transport.SessionStarted, <-events)

	srv.Kick("a@server")

	select {
	case ev := <-events:
		require.Equal(t, transport.SessionDisconnected, ev)
	case <-time.After(time.Second):
		t.Fatal("no disconnect")
	}

	require.ErrorIs(t,
		c.PubSub().Create(context.Background(), "pubsub.server", "a@server"),
		transport.ErrNotConnected,
	)
}
