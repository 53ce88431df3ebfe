package swarm

import (
	"context"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/control"
	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/lib/retry"
	"github.com/ursa-network/ursa/metrics"
	"github.com/ursa-network/ursa/nat"
	"github.com/ursa-network/ursa/peermgr"
)

func (s *Swarm) newConn(p peer.ID, addr ma.Multiaddr, dir network.Direction, state peermgr.ConnState) *peermgr.Connection {
	s.nextConn++
	c := &peermgr.Connection{
		ID:          s.nextConn,
		Peer:        p,
		Addr:        addr,
		Direction:   dir,
		Established: s.clk.Now(),
		State:       state,
	}
	s.conns[c.ID] = c
	return c
}

// pendingDial finds the placeholder of an explicit dial to p.
func (s *Swarm) pendingDial(p peer.ID) *peermgr.Connection {
	for _, c := range s.conns {
		if c.Peer == p && c.State == peermgr.Dialing {
			return c
		}
	}
	return nil
}

func (s *Swarm) transition(c *peermgr.Connection, to peermgr.ConnState) bool {
	if err := c.Transition(to); err != nil {
		log.Errorw("connection state", "error", err)
		return false
	}
	return true
}

func (s *Swarm) handleConnOpened(nc network.Conn) {
	if _, ok := s.connIDs[nc]; ok {
		return
	}
	p := nc.RemotePeer()

	c := s.pendingDial(p)
	if c != nil && nc.Stat().Direction == network.DirOutbound {
		c.Addr = nc.RemoteMultiaddr()
		c.Established = s.clk.Now()
		s.transition(c, peermgr.Connected)
	} else {
		c = s.newConn(p, nc.RemoteMultiaddr(), nc.Stat().Direction, peermgr.Connected)
	}
	s.connIDs[nc] = c.ID

	first := !s.peers.IsConnected(p)
	s.peers.Observe(p, nc.RemoteMultiaddr())
	s.peers.AddConn(p, c.ID, nc.RemoteMultiaddr())
	if first {
		log.Debugw("peer connected", "peer", p, "addr", nc.RemoteMultiaddr(), "direction", c.Direction)
		stats.Record(s.ctx, metrics.PeerCount.M(int64(len(s.peers.Connected()))))
	}
}

func (s *Swarm) handleConnClosed(nc network.Conn) {
	id, ok := s.connIDs[nc]
	if !ok {
		return
	}
	delete(s.connIDs, nc)

	p := nc.RemotePeer()
	if c, ok := s.conns[id]; ok {
		s.transition(c, peermgr.Disconnected)
		delete(s.conns, id)
	}
	if !s.peers.RemoveConn(p, id) {
		return
	}

	log.Debugw("peer disconnected", "peer", p)
	stats.Record(s.ctx, metrics.PeerCount.M(int64(len(s.peers.Connected()))))
	s.engine.PeerDisconnected(p)
	s.disc.Filters().Remove(p)
}

func (s *Swarm) handleIdentified(ev *identifiedEvent) {
	s.peers.Observe(ev.peer, ev.addrs...)
	s.peers.SetProtocols(ev.peer, ev.protocols)

	if id, ok := s.connIDs[ev.conn]; ok {
		if c := s.conns[id]; c != nil && c.State == peermgr.Connected {
			c.Protocols = ev.protocols
			s.transition(c, peermgr.Negotiated)
		}
	}

	if s.tracker.Observed(ev.peer, ev.observed) {
		s.announce()
	}

	// Give new peers our summary now instead of at the next broadcast.
	if s.peers.SupportsProtocol(ev.peer, control.ProtocolID) {
		s.sendSummary(ev.peer)
	}
}

func (s *Swarm) handleReachability(r network.Reachability) {
	if s.tracker.SetReachability(r) {
		s.announce()
	}
}

func (s *Swarm) handleAnnounce(ai peer.AddrInfo) {
	if ai.ID == s.host.ID() {
		return
	}
	s.peers.Observe(ai.ID, ai.Addrs...)
	s.host.Peerstore().AddAddrs(ai.ID, ai.Addrs, peerstore.TempAddrTTL)
}

// announce publishes the addresses we want others to use for us.
func (s *Swarm) announce() {
	addrs := s.tracker.Candidates()
	if s.gossip == nil || len(addrs) == 0 {
		return
	}
	data, err := nat.NewAnnouncement(s.host.ID(), addrs).Marshal()
	if err != nil {
		log.Errorw("encoding address announcement", "error", err)
		return
	}
	s.spawn(func(ctx context.Context) {
		if err := s.gossip.Publish(ctx, build.PeersTopic, data); err != nil {
			log.Debugw("publishing address announcement", "error", err)
		}
	})
}

func (s *Swarm) handleDial(cmd *dialCommand) {
	ai, err := peer.AddrInfoFromP2pAddr(cmd.addr)
	if err != nil {
		cmd.res <- dialResult{err: &neterr.TransportError{Addr: cmd.addr, Err: err}}
		return
	}
	if ai.ID == s.host.ID() {
		cmd.res <- dialResult{peer: ai.ID, err: &neterr.TransportError{Peer: ai.ID, Addr: cmd.addr, Err: xerrors.New("cannot dial self")}}
		return
	}
	s.dial(*ai, cmd.addr, cmd.res)
}

// dial connects to ai with the dial retry policy. addr is the address
// reported on failure. res, if set, receives the outcome.
func (s *Swarm) dial(ai peer.AddrInfo, addr ma.Multiaddr, res chan dialResult) {
	s.peers.Observe(ai.ID, ai.Addrs...)
	c := s.newConn(ai.ID, addr, network.DirOutbound, peermgr.Dialing)

	s.spawn(func(ctx context.Context) {
		_, err := retry.Retry(ctx, s.cfg.Dial, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.host.Connect(ctx, ai)
		})
		if err != nil {
			stats.Record(ctx, metrics.DialFailures.M(1))
			err = &neterr.TransportError{Peer: ai.ID, Addr: addr, Err: err}
		}
		s.push(&dialDoneEvent{conn: c.ID, peer: ai.ID, err: err})
		if res != nil {
			res <- dialResult{peer: ai.ID, err: err}
		}
	})
}

func (s *Swarm) handleDialDone(ev *dialDoneEvent) {
	c, ok := s.conns[ev.conn]
	if !ok || c.State != peermgr.Dialing {
		return
	}
	// Either the dial failed or it reused an existing connection; in both
	// cases the placeholder never became a connection of its own.
	s.transition(c, peermgr.Disconnected)
	delete(s.conns, ev.conn)
	if ev.err != nil {
		log.Infow("dial failed", "peer", ev.peer, "error", ev.err)
	}
}

func (s *Swarm) connections() []peermgr.Connection {
	out := make([]peermgr.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		cc := *c
		cc.Protocols = append(cc.Protocols[:0:0], c.Protocols...)
		out = append(out, cc)
	}
	return out
}

func (s *Swarm) listenAddrs() []ma.Multiaddr {
	out := append([]ma.Multiaddr(nil), s.host.Addrs()...)
	for _, a := range s.tracker.Candidates() {
		dup := false
		for _, have := range out {
			if have.Equal(a) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, a)
		}
	}
	return out
}
