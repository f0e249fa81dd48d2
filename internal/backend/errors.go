package backend

import "errors"

const CodeEngineUnavailable = "ENGINE_UNAVAILABLE"

var ErrUnavailable = errors.New("processing engine unavailable")

// RemoteError is a failure reported by the engine. Message is shown to the user
// as is.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}
