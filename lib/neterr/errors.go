// Package neterr holds the error taxonomy shared by the networking
// components. Connection scoped errors carry the peer they originated from so
// callers can isolate the peer without failing unrelated operations.
package neterr

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

var (
	// ErrNotFound is returned when candidates were asked but none of them
	// had the content, or when there were no candidates at all. It is a
	// normal terminal result.
	ErrNotFound = errors.New("content not found")

	// ErrTimeout is returned when candidates were asked but none of them
	// responded at all within the retry budget.
	ErrTimeout = errors.New("no provider responded in time")

	// ErrShuttingDown is returned by commands issued after, or interrupted
	// by, shutdown.
	ErrShuttingDown = errors.New("swarm shutting down")
)

// TransportError is a dial or connection failure.
type TransportError struct {
	Peer peer.ID
	Addr ma.Multiaddr
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr != nil {
		return fmt.Sprintf("transport error with %s at %s: %s", e.Peer, e.Addr, e.Err)
	}
	return fmt.Sprintf("transport error with %s: %s", e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unsupported message from a peer. Only the
// offending peer is affected.
type ProtocolError struct {
	Peer     peer.ID
	Protocol string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s error from %s: %s", e.Protocol, e.Peer, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ValidationError is a received block whose bytes do not hash to the
// content id it was sent for.
type ValidationError struct {
	Peer     peer.ID
	Expected cid.Cid
	Actual   cid.Cid
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("block from %s does not match %s (got %s)", e.Peer, e.Expected, e.Actual)
}

// InternalError reports a broken internal assumption. It is fatal to the
// single operation that hit it.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %s", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// IsTerminal reports whether err is one of the normal "content not
// obtainable" results rather than a fault.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTimeout)
}
