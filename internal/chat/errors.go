package chat

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned by operations that need an open session.
var ErrNoSession = errors.New("no session open")

// TransportError covers sockets that failed to open, dropped, or rejected a write.
type TransportError struct {
	SessionID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport (session %s): %v", e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UploadError means an attachment could not be uploaded; the message it
// belonged to was not sent.
type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// TitleFetchError is a failed fallback title read. The title episode is re-armed.
type TitleFetchError struct {
	SessionID string
	Err       error
}

func (e *TitleFetchError) Error() string {
	return fmt.Sprintf("fetch title (session %s): %v", e.SessionID, e.Err)
}

func (e *TitleFetchError) Unwrap() error { return e.Err }

// ServerError is an explicit error frame from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server error"
	}
	return "server error: " + e.Message
}
