package swarm

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"go.opencensus.io/stats"

	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/filter"
	"github.com/ursa-network/ursa/metrics"
)

func (s *Swarm) handleFetch(cmd *fetchCommand) {
	if s.engine.Join(cmd.cid, cmd.res) {
		stats.Record(s.ctx, metrics.FetchCoalesced.M(1))
		return
	}
	s.startLookup(cmd.cid)
	s.engine.Start(cmd.cid, s.disc.Candidates(cmd.cid), true, cmd.res)
}

// startLookup runs a routing lookup for c in the background. Providers are
// fed to the engine as they arrive.
func (s *Swarm) startLookup(c cid.Cid) {
	k := c.KeyString()
	if l, ok := s.lookups[k]; ok {
		l.cancel()
	}
	s.nextLook++
	id := s.nextLook
	ctx, cancel := context.WithCancel(s.ctx)
	s.lookups[k] = lookup{id: id, cancel: cancel}

	s.spawn(func(context.Context) {
		defer cancel()
		err := s.disc.Lookup(ctx, c, func(ai peer.AddrInfo) {
			s.push(&providerFoundEvent{cid: c, lookup: id, provider: ai})
		})
		s.push(&lookupDoneEvent{cid: c, lookup: id, err: err})
	})
}

func (s *Swarm) currentLookup(c cid.Cid, id uint64) bool {
	l, ok := s.lookups[c.KeyString()]
	return ok && l.id == id
}

func (s *Swarm) handleProviderFound(ev *providerFoundEvent) {
	ai := ev.provider
	s.peers.Observe(ai.ID, ai.Addrs...)
	if len(ai.Addrs) > 0 {
		s.host.Peerstore().AddAddrs(ai.ID, ai.Addrs, peerstore.TempAddrTTL)
	}
	s.disc.Providers().Add(ev.cid, ai.ID)
	if s.currentLookup(ev.cid, ev.lookup) {
		s.engine.AddCandidates(ev.cid, ai.ID)
	}
}

func (s *Swarm) handleLookupDone(ev *lookupDoneEvent) {
	if !s.currentLookup(ev.cid, ev.lookup) {
		return
	}
	delete(s.lookups, ev.cid.KeyString())
	if ev.err != nil {
		log.Debugw("provider lookup failed", "cid", ev.cid, "error", ev.err)
	}
	s.engine.DiscoveryDone(ev.cid)
}

// provide records us as a provider of c, adds it to the local filter and
// announces it to the routing system in the background.
func (s *Swarm) provide(c cid.Cid) {
	s.disc.Providers().Add(c, s.host.ID())
	s.local.Add(c)
	s.spawn(func(ctx context.Context) {
		if err := s.disc.Provide(ctx, c); err != nil {
			log.Debugw("routing provide failed", "cid", c, "error", err)
		}
	})
}

func (s *Swarm) handleContentAdded(c cid.Cid) {
	if s.local.Has(c) && s.disc.Providers().Has(c, s.host.ID()) {
		return
	}
	s.provide(c)
}

func (s *Swarm) republish() {
	s.spawn(func(ctx context.Context) {
		n, err := s.disc.Republish(ctx, s.bs, s.local)
		if err != nil {
			log.Warnw("provider republish incomplete", "provided", n, "error", err)
			return
		}
		log.Infow("provider records republished", "count", n)
	})
}

func (s *Swarm) randomWalk() {
	s.spawn(func(ctx context.Context) {
		if err := s.disc.RandomWalk(ctx); err != nil {
			log.Debugw("random walk", "error", err)
		}
	})
}

// handleCacheRequest records hint as a provider of every requested cid
// and checks the store for the ones we may be missing.
func (s *Swarm) handleCacheRequest(ev *cacheRequestEvent) {
	for _, c := range ev.cids {
		s.disc.Providers().Add(c, ev.hint)
		if s.engine.InFlight(c) {
			s.engine.AddCandidates(c, ev.hint)
			continue
		}

		c := c
		s.submit(func(ctx context.Context) {
			has, err := s.bs.Has(ctx, c)
			if err != nil {
				log.Warnw("checking store for cache request", "cid", c, "error", err)
				return
			}
			if !has {
				s.push(&cacheMissEvent{hint: ev.hint, cid: c})
			}
		})
	}
}

// handleCacheMiss starts a fetch nobody waits on. The block lands in the
// store and is announced like any other content.
func (s *Swarm) handleCacheMiss(ev *cacheMissEvent) {
	if s.engine.InFlight(ev.cid) {
		s.engine.AddCandidates(ev.cid, ev.hint)
		return
	}
	candidates := append([]peer.ID{ev.hint}, s.disc.Candidates(ev.cid)...)
	s.engine.Start(ev.cid, candidates, false, nil)
}

func (s *Swarm) handleFilter(p peer.ID, f *filter.Filter) {
	if !s.disc.Filters().Update(p, f, s.clk.Now()) {
		return
	}
	stats.Record(s.ctx, metrics.FilterUpdates.M(1))
	log.Debugw("peer filter updated", "peer", p, "epoch", f.Epoch(), "version", f.Version())
}

// Stats is a point in time view of the swarm.
type Stats struct {
	Exchange exchange.Stats
	Network  exchange.NetStats

	ConnectedPeers int
	KnownPeers     int
	Connections    int

	ProviderRecords int
	PeerFilters     int
	FilterVersion   uint64
	FilterEntries   uint64

	Reachability string
	PendingTasks int64
}

func (s *Swarm) stats() Stats {
	return Stats{
		Exchange:        s.engine.Stats(),
		Network:         s.net.Stats(),
		ConnectedPeers:  len(s.peers.Connected()),
		KnownPeers:      len(s.peers.AddressBook()),
		Connections:     len(s.conns),
		ProviderRecords: s.disc.Providers().Len(),
		PeerFilters:     s.disc.Filters().Len(),
		FilterVersion:   s.local.Version(),
		FilterEntries:   s.local.Added(),
		Reachability:    s.tracker.Reachability().String(),
		PendingTasks:    s.pendingTasks(),
	}
}
