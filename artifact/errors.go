package artifact

import (
	"github.com/purposeinplay/go-artifact/errors"
)

// Errors returned by the Artifact's methods. They are wrapped in an
// *errors.Error carrying the matching kind.
var (
	ErrAlreadyStarted = errors.New("artifact already started")
	ErrStopped        = errors.New("artifact stopped")
	ErrNotStarted     = errors.New("artifact not started")
	ErrNotImplemented = errors.New("run is not implemented")
	ErrTimeout        = errors.New("timed out")
)
