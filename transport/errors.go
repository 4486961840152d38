package transport

import (
	"errors"
)

var (
	// ErrConflict is reported by PubSub.Create when the node already exists.
	ErrConflict = errors.New("conflict")
	// ErrForbidden is reported when the session lacks permission.
	ErrForbidden = errors.New("forbidden")
	// ErrNotAuthorized is delivered with SessionAuthFailed.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotConnected is returned by operations on a session that is not
	// established.
	ErrNotConnected = errors.New("not connected")
	// ErrItemNotFound is returned when the target node does not exist.
	ErrItemNotFound = errors.New("item not found")
	// ErrNoRequest is returned by Presence.Approve when there is nothing to
	// approve.
	ErrNoRequest = errors.New("no pending subscription request")
)
