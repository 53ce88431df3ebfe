package swarm

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

func (s *Swarm) startMDNS() {
	svc := mdns.NewMdnsService(s.host, s.cfg.MDNSServiceName, (*mdnsNotifee)(s))
	if err := svc.Start(); err != nil {
		log.Warnw("mdns discovery unavailable", "service", s.cfg.MDNSServiceName, "error", err)
		return
	}
	s.mdns = svc
	log.Infow("mdns discovery started", "service", s.cfg.MDNSServiceName)
}

// mdnsNotifee forwards local network discoveries to the loop.
type mdnsNotifee Swarm

var _ mdns.Notifee = (*mdnsNotifee)(nil)

func (n *mdnsNotifee) HandlePeerFound(ai peer.AddrInfo) {
	(*Swarm)(n).push(&mdnsFoundEvent{info: ai})
}

func (s *Swarm) handleMDNSFound(ai peer.AddrInfo) {
	if ai.ID == s.host.ID() || len(ai.Addrs) == 0 {
		return
	}
	s.peers.Observe(ai.ID, ai.Addrs...)
	s.host.Peerstore().AddAddrs(ai.ID, ai.Addrs, peerstore.TempAddrTTL)

	if s.peers.IsConnected(ai.ID) || s.pendingDial(ai.ID) != nil {
		return
	}
	log.Debugw("dialing peer found over mdns", "peer", ai.ID, "addrs", ai.Addrs)
	s.dial(ai, ai.Addrs[0], nil)
}
