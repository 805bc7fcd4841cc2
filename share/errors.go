package bsshare

import (
	"errors"
)

var (
	// ErrDialFailure wraps every failure to reach a target endpoint. It is
	// never fatal: the target's reconnect supervisor takes over.
	ErrDialFailure = errors.New("target dial failed")

	// ErrClientClosed is the completion status of a session whose client
	// socket closed or failed
	ErrClientClosed = errors.New("client connection closed")

	// ErrSuperseded is the completion status of a session replaced by a newer
	// client on the same route
	ErrSuperseded = errors.New("session superseded by a newer client connection")

	// ErrSessionClosed is returned when writing through a session that is shutting down
	ErrSessionClosed = errors.New("session closed")

	// ErrNoHandshake is returned by Accept when the client disconnects before
	// sending its first frame
	ErrNoHandshake = errors.New("client closed before sending a first frame")
)
