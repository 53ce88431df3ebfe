package exchange

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/stats"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/metrics"
)

type serve struct {
	kind   Kind
	cancel context.CancelFunc
}

// ledger tracks the store lookups running on behalf of peers' wants, so a
// cancel or disconnect can abort them before an answer is sent.
type ledger struct {
	pending map[peer.ID]map[string]*serve
}

func newLedger() *ledger {
	return &ledger{pending: make(map[peer.ID]map[string]*serve)}
}

// count returns the number of lookups running for p.
func (l *ledger) count(p peer.ID) int {
	return len(l.pending[p])
}

func (l *ledger) get(p peer.ID, c cid.Cid) *serve {
	return l.pending[p][c.KeyString()]
}

func (l *ledger) add(p peer.ID, c cid.Cid, s *serve) {
	m, ok := l.pending[p]
	if !ok {
		m = make(map[string]*serve)
		l.pending[p] = m
	}
	m[c.KeyString()] = s
}

func (l *ledger) remove(p peer.ID, c cid.Cid) *serve {
	m, ok := l.pending[p]
	if !ok {
		return nil
	}
	k := c.KeyString()
	s, ok := m[k]
	if !ok {
		return nil
	}
	delete(m, k)
	if len(m) == 0 {
		delete(l.pending, p)
	}
	return s
}

func (l *ledger) cancel(p peer.ID, c cid.Cid) {
	if s := l.remove(p, c); s != nil {
		s.cancel()
	}
}

func (l *ledger) dropPeer(p peer.ID) {
	for _, s := range l.pending[p] {
		s.cancel()
	}
	delete(l.pending, p)
}

func (l *ledger) cancelAll() {
	for p := range l.pending {
		l.dropPeer(p)
	}
}

func (l *ledger) len() int {
	n := 0
	for _, m := range l.pending {
		n += len(m)
	}
	return n
}

func (e *Engine) serveWant(p peer.ID, c cid.Cid, kind Kind) {
	switch kind {
	case WantHave:
		e.stats.WantHaveReceived++
	case WantBlock:
		e.stats.WantBlockReceived++
	}

	if cur := e.ledger.get(p, c); cur != nil {
		if cur.kind == kind || kind == WantHave {
			// duplicate, or a want-have while the block is already on its way
			return
		}
		// upgraded to want-block
		e.ledger.cancel(p, c)
	} else if limit := e.cfg.MaxPendingServes; limit > 0 && e.ledger.count(p) >= limit {
		e.stats.ServesRejected++
		log.Debugw("peer has too many pending wants, answering dont-have", "peer", p, "cid", c, "pending", limit)
		e.env.Send(p, NewMessage(DontHave, c))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.ledger.add(p, c, &serve{kind: kind, cancel: cancel})
	e.env.Lookup(ctx, p, c, kind)
}

// Served reports the outcome of a Lookup. For want-have only has is
// meaningful; for want-block data holds the block when has is true.
func (e *Engine) Served(p peer.ID, c cid.Cid, kind Kind, has bool, data []byte, err error) {
	cur := e.ledger.get(p, c)
	if cur == nil || cur.kind != kind {
		// cancelled or superseded meanwhile
		return
	}
	e.ledger.remove(p, c)
	cur.cancel()

	if err != nil && !blockstore.IsNotFound(err) {
		log.Warnw("store lookup for peer failed", "peer", p, "cid", c, "error", err)
	}
	if err != nil {
		has = false
	}

	var resp *Message
	switch {
	case !has:
		resp = NewMessage(DontHave, c)
	case kind == WantHave:
		resp = NewMessage(Have, c)
	default:
		resp = NewBlockMessage(c, data)
	}

	if e.env.Send(p, resp) && resp.Kind == Block {
		e.stats.BlocksServed++
		stats.Record(context.Background(), metrics.BlockServed.M(1))
	}
}
