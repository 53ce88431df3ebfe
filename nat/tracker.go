package nat

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var log = logging.Logger("nat")

// maxObserved bounds the distinct unconfirmed addresses remembered.
const maxObserved = 128

type observation struct {
	addr      ma.Multiaddr
	reporters map[peer.ID]struct{}
}

// Tracker derives the addresses this node should advertise from reachability
// events and the addresses other peers observe us on. It is not
// synchronized; the swarm event loop owns it.
type Tracker struct {
	self      peer.ID
	threshold int
	relays    []peer.AddrInfo

	reachability network.Reachability
	observed     map[string]*observation
	confirmed    []ma.Multiaddr
}

func NewTracker(self peer.ID, threshold int, relays []peer.AddrInfo) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &Tracker{
		self:      self,
		threshold: threshold,
		relays:    relays,
		observed:  make(map[string]*observation),
	}
}

func (t *Tracker) Reachability() network.Reachability {
	return t.reachability
}

// SetReachability records the AutoNAT verdict and reports whether it changed.
func (t *Tracker) SetReachability(r network.Reachability) bool {
	if r == t.reachability {
		return false
	}
	log.Infow("reachability changed", "from", t.reachability, "to", r)
	t.reachability = r
	return true
}

// Observed records that reporter saw us on addr. It returns true when addr
// becomes confirmed by this report. Non-public addresses are ignored.
func (t *Tracker) Observed(reporter peer.ID, addr ma.Multiaddr) bool {
	if addr == nil || reporter == t.self || !manet.IsPublicAddr(addr) {
		return false
	}
	k := string(addr.Bytes())
	o, ok := t.observed[k]
	if !ok {
		if len(t.observed) >= maxObserved {
			return false
		}
		o = &observation{addr: addr, reporters: make(map[peer.ID]struct{})}
		t.observed[k] = o
	}
	if _, dup := o.reporters[reporter]; dup {
		return false
	}
	o.reporters[reporter] = struct{}{}
	if len(o.reporters) != t.threshold {
		return false
	}
	t.confirmed = append(t.confirmed, addr)
	log.Infow("observed address confirmed", "addr", addr, "reporters", len(o.reporters))
	return true
}

// Confirmed returns the public addresses confirmed so far.
func (t *Tracker) Confirmed() []ma.Multiaddr {
	return append([]ma.Multiaddr(nil), t.confirmed...)
}

// Candidates returns the addresses to advertise. While the node is known to
// be private these are circuit addresses through the static relays;
// otherwise the confirmed public addresses.
func (t *Tracker) Candidates() []ma.Multiaddr {
	if t.reachability != network.ReachabilityPrivate {
		return t.Confirmed()
	}

	var out []ma.Multiaddr
	for _, r := range t.relays {
		circuit, err := ma.NewMultiaddr("/p2p/" + r.ID.String() + "/p2p-circuit")
		if err != nil {
			log.Warnw("building circuit address", "relay", r.ID, "error", err)
			continue
		}
		for _, a := range r.Addrs {
			out = append(out, a.Encapsulate(circuit))
		}
	}
	return out
}
