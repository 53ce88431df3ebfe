package peermgr

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/lib/neterr"
)

// ConnID identifies a connection in the swarm's connection arena.
type ConnID uint64

type ConnState int

const (
	Dialing ConnState = iota
	Connected
	Negotiated
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Dialing:
		return "dialing"
	case Connected:
		return "connected"
	case Negotiated:
		return "negotiated"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Connection is one transport connection to a peer. A Disconnected
// connection is never revived; redialing creates a new one.
type Connection struct {
	ID          ConnID
	Peer        peer.ID
	Addr        ma.Multiaddr
	Direction   network.Direction
	Established time.Time
	Protocols   []protocol.ID
	State       ConnState
}

// Transition moves c to the next state. Any state may drop to Disconnected;
// otherwise only Dialing -> Connected -> Negotiated is allowed.
func (c *Connection) Transition(to ConnState) error {
	ok := false
	switch {
	case c.State == Disconnected:
	case to == Disconnected:
		ok = true
	case c.State == Dialing && to == Connected:
		ok = true
	case c.State == Connected && to == Negotiated:
		ok = true
	}
	if !ok {
		return &neterr.InternalError{
			Op:  "connection transition",
			Err: xerrors.Errorf("conn %d to %s: %s -> %s", c.ID, c.Peer, c.State, to),
		}
	}
	c.State = to
	return nil
}
