package domain

import (
	"errors"
	"fmt"
)

// Error categories for a translation session. Concrete failures wrap one of
// these so callers can branch with errors.Is.
var (
	// ErrConnection covers dial and close failures. Recovered by the watchdog
	// and only ever visible through the connection status.
	ErrConnection = errors.New("connection error")

	// ErrNegotiation means the language pair is missing or invalid.
	ErrNegotiation = errors.New("negotiation error")

	// ErrCapture means the microphone could not be opened or recorded.
	// It stops the capture loop.
	ErrCapture = errors.New("capture error")

	// ErrSend means a frame could not be written to the connection.
	ErrSend = errors.New("send error")

	// ErrServer marks an error frame reported by the remote service.
	ErrServer = errors.New("server error")
)

// ServerError carries the message of an inbound error frame.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", ErrServer, e.Message)
}

func (e *ServerError) Unwrap() error {
	return ErrServer
}

// UserFacing reports whether err belongs to a category that is shown to the
// user. Connection and send failures heal on their own and stay silent.
func UserFacing(err error) bool {
	return errors.Is(err, ErrCapture) || errors.Is(err, ErrNegotiation) || errors.Is(err, ErrServer)
}
