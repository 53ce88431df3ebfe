package swarm

import (
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/filter"
	"github.com/ursa-network/ursa/gossip"
	"github.com/ursa-network/ursa/peermgr"
)

// event is anything the loop reacts to that it did not ask for on a
// command channel. The set is closed; handleEvent switches over it.
type event interface {
	isEvent()
}

type (
	// inboundEvent is a decoded exchange message, in stream order.
	inboundEvent struct {
		from peer.ID
		msg  *exchange.Message
	}

	peerErrorEvent struct {
		from peer.ID
		err  error
	}

	connOpenedEvent struct {
		conn network.Conn
	}

	connClosedEvent struct {
		conn network.Conn
	}

	identifiedEvent struct {
		peer      peer.ID
		conn      network.Conn
		protocols []protocol.ID
		addrs     []ma.Multiaddr
		observed  ma.Multiaddr
	}

	reachabilityEvent struct {
		reachability network.Reachability
	}

	dialDoneEvent struct {
		conn peermgr.ConnID
		peer peer.ID
		err  error
	}

	verifiedEvent struct {
		fetch uint64
		cid   cid.Cid
		from  peer.ID
		data  []byte
		err   error
	}

	storedEvent struct {
		cid  cid.Cid
		from peer.ID
		data []byte
		err  error
	}

	servedEvent struct {
		peer peer.ID
		cid  cid.Cid
		kind exchange.Kind
		has  bool
		data []byte
		err  error
	}

	providerFoundEvent struct {
		cid      cid.Cid
		lookup   uint64
		provider peer.AddrInfo
	}

	lookupDoneEvent struct {
		cid    cid.Cid
		lookup uint64
		err    error
	}

	// filterEvent carries a peer filter decoded off the loop.
	filterEvent struct {
		peer   peer.ID
		filter *filter.Filter
	}

	announceEvent struct {
		info peer.AddrInfo
	}

	// mdnsFoundEvent is a peer seen on the local network.
	mdnsFoundEvent struct {
		info peer.AddrInfo
	}

	globalEvent struct {
		msg gossip.Message
	}

	// cacheRequestEvent asks us to fetch cids from hint.
	cacheRequestEvent struct {
		hint peer.ID
		cids []cid.Cid
	}

	// cacheMissEvent is a requested cid the local store does not have.
	cacheMissEvent struct {
		hint peer.ID
		cid  cid.Cid
	}

	contentAddedEvent struct {
		cid cid.Cid
	}
)

func (*inboundEvent) isEvent()       {}
func (*peerErrorEvent) isEvent()     {}
func (*connOpenedEvent) isEvent()    {}
func (*connClosedEvent) isEvent()    {}
func (*identifiedEvent) isEvent()    {}
func (*reachabilityEvent) isEvent()  {}
func (*dialDoneEvent) isEvent()      {}
func (*verifiedEvent) isEvent()      {}
func (*storedEvent) isEvent()        {}
func (*servedEvent) isEvent()        {}
func (*providerFoundEvent) isEvent() {}
func (*lookupDoneEvent) isEvent()    {}
func (*filterEvent) isEvent()        {}
func (*announceEvent) isEvent()      {}
func (*mdnsFoundEvent) isEvent()     {}
func (*globalEvent) isEvent()        {}
func (*cacheRequestEvent) isEvent()  {}
func (*cacheMissEvent) isEvent()     {}
func (*contentAddedEvent) isEvent()  {}
