package discovery

import (
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raulk/clock"
)

// Record says Peer was known to hold Cid until Expires.
type Record struct {
	Cid     cid.Cid
	Peer    peer.ID
	Expires time.Time
}

// Providers caches provider records keyed by multihash. Expired records are
// dropped lazily when their content is next looked up. Not synchronized.
type Providers struct {
	ttl time.Duration
	clk clock.Clock

	recs map[string]map[peer.ID]time.Time
}

func NewProviders(ttl time.Duration, clk clock.Clock) *Providers {
	return &Providers{
		ttl:  ttl,
		clk:  clk,
		recs: make(map[string]map[peer.ID]time.Time),
	}
}

// Add creates or refreshes the record of p providing c.
func (ps *Providers) Add(c cid.Cid, p peer.ID) {
	k := string(c.Hash())
	m, ok := ps.recs[k]
	if !ok {
		m = make(map[peer.ID]time.Time)
		ps.recs[k] = m
	}
	m[p] = ps.clk.Now().Add(ps.ttl)
}

// Get returns the live providers of c, pruning expired ones.
func (ps *Providers) Get(c cid.Cid) []Record {
	k := string(c.Hash())
	m, ok := ps.recs[k]
	if !ok {
		return nil
	}

	now := ps.clk.Now()
	out := make([]Record, 0, len(m))
	for p, exp := range m {
		if !now.Before(exp) {
			delete(m, p)
			continue
		}
		out = append(out, Record{Cid: c, Peer: p, Expires: exp})
	}
	if len(m) == 0 {
		delete(ps.recs, k)
	}
	return out
}

// Has reports whether a live record exists for p providing c.
func (ps *Providers) Has(c cid.Cid, p peer.ID) bool {
	exp, ok := ps.recs[string(c.Hash())][p]
	return ok && ps.clk.Now().Before(exp)
}

// Len is the number of cached content keys, expired ones included.
func (ps *Providers) Len() int {
	return len(ps.recs)
}
