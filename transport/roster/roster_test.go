package roster_test

import (
	"errors"
	"testing"

	"github.com/matryer/is"
	"github.com/purposeinplay/go-artifact/transport"
	"github.com/purposeinplay/go-artifact/transport/roster"
)

func TestRoster_Handshake(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	r := roster.New()

	// Answers nobody asked for are ignored.
	i.True(!r.Approved("b@server"))

	r.Ask("b@server")
	i.True(r.Approved("b@server"))

	i.True(!r.Requested("c@server"))
	i.Equal(r.Contacts(), []string{"b@server"})

	i.NoErr(r.Approve("c@server"))
	i.Equal(r.Contacts(), []string{"b@server", "c@server"})

	err := r.Approve("d@server")
	i.True(errors.Is(err, transport.ErrNoRequest))
}

func TestRoster_ApproveAll(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	r := roster.New()

	i.True(!r.Requested("c@server"))
	i.True(!r.Requested("b@server"))

	i.Equal(r.SetApproveAll(true), []string{"b@server", "c@server"})
	i.True(r.Requested("d@server"))
	i.Equal(r.Contacts(), []string{"b@server", "c@server", "d@server"})

	r.SetApproveAll(false)
	i.True(!r.Requested("e@server"))
	i.Equal(len(r.Contacts()), 3)

	r.Reset()
	i.Equal(len(r.Contacts()), 0)
}

func TestRoster_SetAvailable(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	r := roster.New()

	i.True(!r.SetAvailable("b@server", true))

	r.Ask("b@server")
	r.Approved("b@server")

	i.True(r.SetAvailable("b@server", true))
	i.True(!r.SetAvailable("b@server", true))
	i.True(r.SetAvailable("b@server", false))
}
