package swarm

import (
	"context"
	"errors"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/metrics"
)

// env adapts the swarm to exchange.Env. Its methods are called by the
// engine on the loop goroutine.
type env Swarm

var _ exchange.Env = (*env)(nil)

func (e *env) Send(p peer.ID, msg *exchange.Message) bool {
	s := (*Swarm)(e)
	if msg.Kind == exchange.WantHave || msg.Kind == exchange.WantBlock {
		stats.Record(metrics.Tagged(s.ctx, metrics.MessageKind, msg.Kind.String()), metrics.WantSent.M(1))
	}
	return s.net.Send(p, msg)
}

func (e *env) Verify(fetch uint64, c cid.Cid, from peer.ID, data []byte) {
	s := (*Swarm)(e)
	ok := s.submit(func(ctx context.Context) {
		s.push(&verifiedEvent{fetch: fetch, cid: c, from: from, data: data, err: verifyBlock(c, from, data)})
	})
	if !ok {
		s.push(&verifiedEvent{fetch: fetch, cid: c, from: from, err: neterr.ErrShuttingDown})
	}
}

func (e *env) Store(c cid.Cid, from peer.ID, data []byte) {
	s := (*Swarm)(e)
	ok := s.submit(func(ctx context.Context) {
		blk, err := blocks.NewBlockWithCid(data, c)
		if err == nil {
			err = s.bs.Put(ctx, blk)
		}
		if err != nil {
			err = xerrors.Errorf("storing %s: %w", c, err)
		}
		s.push(&storedEvent{cid: c, from: from, data: data, err: err})
	})
	if !ok {
		s.push(&storedEvent{cid: c, from: from, err: neterr.ErrShuttingDown})
	}
}

func (e *env) Lookup(ctx context.Context, p peer.ID, c cid.Cid, kind exchange.Kind) {
	s := (*Swarm)(e)
	s.submit(func(poolCtx context.Context) {
		if ctx.Err() != nil {
			// the want was cancelled before we got to it
			return
		}
		ev := &servedEvent{peer: p, cid: c, kind: kind}
		switch kind {
		case exchange.WantBlock:
			blk, err := s.bs.Get(ctx, c)
			switch {
			case err == nil:
				ev.has, ev.data = true, blk.RawData()
			case !blockstore.IsNotFound(err):
				ev.err = err
			}
		default:
			ev.has, ev.err = s.bs.Has(ctx, c)
		}
		if errors.Is(ev.err, context.Canceled) {
			return
		}
		s.push(ev)
	})
}

func (e *env) Finished(c cid.Cid, err error) {
	s := (*Swarm)(e)
	if l, ok := s.lookups[c.KeyString()]; ok {
		l.cancel()
		delete(s.lookups, c.KeyString())
	}
	if err != nil && !neterr.IsTerminal(err) && !errors.Is(err, neterr.ErrShuttingDown) {
		log.Warnw("fetch failed", "cid", c, "error", err)
	}
}

// verifyBlock checks that data hashes to c under c's own prefix.
func verifyBlock(c cid.Cid, from peer.ID, data []byte) error {
	got, err := c.Prefix().Sum(data)
	if err != nil {
		return &neterr.InternalError{Op: "verify", Err: err}
	}
	if !got.Equals(c) {
		return &neterr.ValidationError{Peer: from, Expected: c, Actual: got}
	}
	return nil
}

// receiver adapts the swarm to exchange.Receiver. It is called on stream
// goroutines and forwards onto the loop.
type receiver Swarm

var _ exchange.Receiver = (*receiver)(nil)

func (r *receiver) ReceiveMessage(p peer.ID, msg *exchange.Message) {
	(*Swarm)(r).push(&inboundEvent{from: p, msg: msg})
}

func (r *receiver) ReceiveError(p peer.ID, err error) {
	(*Swarm)(r).push(&peerErrorEvent{from: p, err: err})
}

func (s *Swarm) handlePeerError(p peer.ID, err error) {
	var perr *neterr.ProtocolError
	if errors.As(err, &perr) {
		log.Warnw("closing misbehaving peer", "peer", p, "error", err)
		stats.Record(metrics.Tagged(s.ctx, metrics.FailureType, "protocol"), metrics.ProtocolErrors.M(1))
		s.peers.PenalizeProtocolError(p)
		s.engine.PeerDisconnected(p)
		s.spawn(func(ctx context.Context) {
			_ = s.host.Network().ClosePeer(p)
		})
		return
	}

	// Anything else is a failed send: the wants we sent may never arrive.
	log.Debugw("exchange transport error", "peer", p, "error", err)
	s.engine.PeerDisconnected(p)
}
