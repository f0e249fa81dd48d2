package workflow

import (
	"errors"

	"github.com/soamn/slicePDF/internal/backend"
)

var (
	ErrInvalidPassword  = errors.New("password could not unlock the document")
	ErrNothingStaged    = errors.New("nothing staged")
	ErrRunInProgress    = errors.New("a run is already in progress")
	ErrSessionClosed    = errors.New("session closed")
	ErrPasswordRequired = errors.New("password is required")
	ErrInvalidOptions   = errors.New("invalid run options")
	ErrUnsupportedTool  = errors.New("tool does not support this operation")
	ErrPageNotFound     = errors.New("page not found")
)

// Skip reasons reported per file by AddSources, beyond the staging reasons of
// pages.SkipReason.
const (
	ReasonCanceled          = "canceled"
	ReasonInvalidPassword   = "invalid_password"
	ReasonAlreadyUnlocked   = "already_unlocked"
	ReasonNotAccepted       = "not_accepted"
	ReasonEngineUnavailable = "engine_unavailable"
	ReasonDecryptFailed     = "decrypt_failed"
	ReasonRunInProgress     = "run_in_progress"
)

// remoteMessage returns the engine's own message for err when it has one.
func remoteMessage(err error) string {
	var remote *backend.RemoteError
	if errors.As(err, &remote) && remote.Message != "" {
		return remote.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
