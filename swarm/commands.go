package swarm

import (
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/ursa-network/ursa/control"
	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/peermgr"
)

// command is a request from the public API. Every command carries a
// buffered reply channel that is written at most once.
type command interface {
	isCommand()
}

type dialResult struct {
	peer peer.ID
	err  error
}

type requestResult struct {
	resp *control.Response
	err  error
}

type (
	fetchCommand struct {
		cid cid.Cid
		res chan exchange.Result
	}

	// leaveCommand unsubscribes an abandoned fetch. It has no reply.
	leaveCommand struct {
		cid cid.Cid
		res chan exchange.Result
	}

	dialCommand struct {
		addr ma.Multiaddr
		res  chan dialResult
	}

	provideCommand struct {
		cid cid.Cid
		res chan error
	}

	broadcastCommand struct {
		res chan error
	}

	cancelCommand struct {
		cid cid.Cid
		res chan bool
	}

	replicateCommand struct {
		cid cid.Cid
		res chan error
	}

	peersCommand struct {
		res chan []peer.ID
	}

	listenAddrsCommand struct {
		res chan []ma.Multiaddr
	}

	connectionsCommand struct {
		res chan []peermgr.Connection
	}

	requestCommand struct {
		peer peer.ID
		req  *control.Request
		res  chan requestResult
	}

	publishCommand struct {
		topic string
		data  []byte
		res   chan error
	}

	wantlistCommand struct {
		res chan []exchange.WantRequest
	}

	statsCommand struct {
		res chan Stats
	}
)

func (*fetchCommand) isCommand()       {}
func (*leaveCommand) isCommand()       {}
func (*dialCommand) isCommand()        {}
func (*provideCommand) isCommand()     {}
func (*broadcastCommand) isCommand()   {}
func (*cancelCommand) isCommand()      {}
func (*replicateCommand) isCommand()   {}
func (*peersCommand) isCommand()       {}
func (*listenAddrsCommand) isCommand() {}
func (*connectionsCommand) isCommand() {}
func (*requestCommand) isCommand()     {}
func (*publishCommand) isCommand()     {}
func (*wantlistCommand) isCommand()    {}
func (*statsCommand) isCommand()       {}
