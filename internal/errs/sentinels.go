// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across registry/server layers.
var (
	// ErrNameTaken indicates the requested identity already has a live connection.
	ErrNameTaken = errors.New("name taken")

	// ErrNotPaired indicates the user has no current chat partner.
	ErrNotPaired = errors.New("not paired")

	// ErrAlreadyPaired indicates one of the endpoints already has a partner.
	ErrAlreadyPaired = errors.New("already paired")

	// ErrPeerOffline indicates the counterpart has no live handler.
	ErrPeerOffline = errors.New("peer offline")

	// ErrSessionDestroyed indicates the chat session was already torn down.
	ErrSessionDestroyed = errors.New("session destroyed")

	// ErrBadSignature indicates message signature verification failed.
	ErrBadSignature = errors.New("bad signature")

	// ErrClosed indicates an operation on a connection that is shutting down.
	ErrClosed = errors.New("connection closed")
)
