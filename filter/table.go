package filter

import (
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

type entry struct {
	f       *Filter
	updated time.Time
}

// Table holds the most recent filter of every peer that sent one. Filters
// are replaced wholesale and never merged. Table is not synchronized; it is
// owned by the swarm event loop.
type Table struct {
	peers map[peer.ID]*entry
}

func NewTable() *Table {
	return &Table{peers: make(map[peer.ID]*entry)}
}

// Update installs f as the filter of p if it is newer than the one held.
// A different epoch means the peer restarted, so its filter is taken
// regardless of version.
func (t *Table) Update(p peer.ID, f *Filter, now time.Time) bool {
	cur, ok := t.peers[p]
	if ok && cur.f.Epoch() == f.Epoch() && cur.f.Version() >= f.Version() {
		log.Debugw("ignoring stale filter", "peer", p, "have", cur.f.Version(), "got", f.Version())
		return false
	}
	t.peers[p] = &entry{f: f, updated: now}
	return true
}

// Remove forgets the filter of p.
func (t *Table) Remove(p peer.ID) {
	delete(t.peers, p)
}

// Has reports whether a filter is known for p.
func (t *Table) Has(p peer.ID) bool {
	_, ok := t.peers[p]
	return ok
}

// Version returns the version of the filter held for p.
func (t *Table) Version(p peer.ID) (uint64, bool) {
	e, ok := t.peers[p]
	if !ok {
		return 0, false
	}
	return e.f.Version(), true
}

// Match returns every peer whose filter may contain c.
func (t *Table) Match(c cid.Cid) []peer.ID {
	var out []peer.ID
	for p, e := range t.peers {
		if e.f.Has(c) {
			out = append(out, p)
		}
	}
	return out
}

func (t *Table) Len() int {
	return len(t.peers)
}
