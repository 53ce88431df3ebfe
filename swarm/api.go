package swarm

import (
	"context"
	"sync/atomic"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.opencensus.io/stats"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/control"
	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/metrics"
	"github.com/ursa-network/ursa/peermgr"
)

// send hands cmd to the loop.
func (s *Swarm) send(ctx context.Context, cmd command) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return neterr.ErrShuttingDown
	}
}

// await waits for the reply to a command already accepted by the loop.
func await[T any](ctx context.Context, s *Swarm, res <-chan T) (T, error) {
	var zero T
	select {
	case v := <-res:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		// the reply may have been written just before the loop stopped
		select {
		case v := <-res:
			return v, nil
		default:
			return zero, neterr.ErrShuttingDown
		}
	}
}

func call[T any](ctx context.Context, s *Swarm, cmd command, res <-chan T) (T, error) {
	if err := s.send(ctx, cmd); err != nil {
		var zero T
		return zero, err
	}
	return await(ctx, s, res)
}

// Fetch returns the bytes of c, from the local store if present and from
// the network otherwise. Concurrent fetches of the same content share one
// network operation. Fetched blocks are verified against c and stored
// before they are returned. The returned bytes belong to the caller.
func (s *Swarm) Fetch(ctx context.Context, c cid.Cid) ([]byte, error) {
	stats.Record(ctx, metrics.FetchRequested.M(1))

	blk, err := s.bs.Get(ctx, c)
	switch {
	case err == nil:
		stats.Record(ctx, metrics.FetchLocal.M(1))
		return append([]byte(nil), blk.RawData()...), nil
	case !blockstore.IsNotFound(err):
		log.Warnw("local store lookup failed, fetching from network", "cid", c, "error", err)
	}

	res := make(chan exchange.Result, 1)
	if err := s.send(ctx, &fetchCommand{cid: c, res: res}); err != nil {
		return nil, err
	}
	r, err := await(ctx, s, res)
	if err != nil {
		if ctx.Err() != nil {
			s.leave(c, res)
		}
		return nil, err
	}
	return r.Data, r.Err
}

// leave abandons a fetch subscription without waiting for ctx.
func (s *Swarm) leave(c cid.Cid, res chan exchange.Result) {
	select {
	case s.cmds <- &leaveCommand{cid: c, res: res}:
	case <-s.done:
	}
}

// Dial connects to the peer at addr, which must include a /p2p component.
func (s *Swarm) Dial(ctx context.Context, addr ma.Multiaddr) (peer.ID, error) {
	res := make(chan dialResult, 1)
	r, err := call(ctx, s, &dialCommand{addr: addr, res: res}, res)
	if err != nil {
		return "", err
	}
	return r.peer, r.err
}

// Provide announces that this node holds c. The routing announcement
// happens in the background.
func (s *Swarm) Provide(ctx context.Context, c cid.Cid) error {
	res := make(chan error, 1)
	err, cerr := call(ctx, s, &provideCommand{cid: c, res: res}, res)
	if cerr != nil {
		return cerr
	}
	return err
}

// BroadcastFilter publishes the local availability filter immediately.
func (s *Swarm) BroadcastFilter(ctx context.Context) error {
	res := make(chan error, 1)
	err, cerr := call(ctx, s, &broadcastCommand{res: res}, res)
	if cerr != nil {
		return cerr
	}
	return err
}

// Cancel aborts the in-flight fetch of c, failing every waiter with
// context.Canceled. It reports whether a fetch was running.
func (s *Swarm) Cancel(ctx context.Context, c cid.Cid) (bool, error) {
	res := make(chan bool, 1)
	return call(ctx, s, &cancelCommand{cid: c, res: res}, res)
}

// Replicate asks connected peers to cache c from us.
func (s *Swarm) Replicate(ctx context.Context, c cid.Cid) error {
	res := make(chan error, 1)
	err, cerr := call(ctx, s, &replicateCommand{cid: c, res: res}, res)
	if cerr != nil {
		return cerr
	}
	return err
}

// Peers returns the currently connected peers.
func (s *Swarm) Peers(ctx context.Context) ([]peer.ID, error) {
	res := make(chan []peer.ID, 1)
	return call(ctx, s, &peersCommand{res: res}, res)
}

// ListenAddrs returns the addresses this node listens on plus the
// externally confirmed or relayed ones.
func (s *Swarm) ListenAddrs(ctx context.Context) ([]ma.Multiaddr, error) {
	res := make(chan []ma.Multiaddr, 1)
	return call(ctx, s, &listenAddrsCommand{res: res}, res)
}

func (s *Swarm) Connections(ctx context.Context) ([]peermgr.Connection, error) {
	res := make(chan []peermgr.Connection, 1)
	return call(ctx, s, &connectionsCommand{res: res}, res)
}

// SendRequest sends a control request to p and returns its response.
func (s *Swarm) SendRequest(ctx context.Context, p peer.ID, req *control.Request) (*control.Response, error) {
	res := make(chan requestResult, 1)
	r, err := call(ctx, s, &requestCommand{peer: p, req: req, res: res}, res)
	if err != nil {
		return nil, err
	}
	return r.resp, r.err
}

// Publish sends data on a gossip topic.
func (s *Swarm) Publish(ctx context.Context, topic string, data []byte) error {
	res := make(chan error, 1)
	err, cerr := call(ctx, s, &publishCommand{topic: topic, data: data, res: res}, res)
	if cerr != nil {
		return cerr
	}
	return err
}

// Wantlist returns the outstanding wants of all running fetches.
func (s *Swarm) Wantlist(ctx context.Context) ([]exchange.WantRequest, error) {
	res := make(chan []exchange.WantRequest, 1)
	return call(ctx, s, &wantlistCommand{res: res}, res)
}

func (s *Swarm) Stats(ctx context.Context) (Stats, error) {
	res := make(chan Stats, 1)
	return call(ctx, s, &statsCommand{res: res}, res)
}

func (s *Swarm) pendingTasks() int64 {
	return atomic.LoadInt64(&s.pending)
}
