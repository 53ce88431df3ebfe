package swarm

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/control"
	"github.com/ursa-network/ursa/filter"
	"github.com/ursa-network/ursa/gossip"
	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/metrics"
	"github.com/ursa-network/ursa/nat"
)

// decodeFilter turns a marshalled snapshot into a filter. Decompression is
// too expensive for the loop, so callers run it on their own goroutine.
// Snapshots come from remote peers, so a panic while decoding is reported
// as an error.
func decodeFilter(data []byte) (f *filter.Filter, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, xerrors.Errorf("decoding filter snapshot panicked: %v", r)
		}
	}()

	snap, err := filter.UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}
	return snap.Filter()
}

func (s *Swarm) onFilterMessage(m gossip.Message) {
	f, err := decodeFilter(m.Body)
	if err != nil {
		log.Debugw("dropping bad filter snapshot", "from", m.From, "error", err)
		return
	}
	s.push(&filterEvent{peer: m.From, filter: f})
}

func (s *Swarm) onPeersMessage(m gossip.Message) {
	ai, err := nat.ParseAnnouncement(m.Body)
	if err != nil {
		log.Debugw("dropping bad announcement", "from", m.From, "error", err)
		return
	}
	if ai.ID != m.From {
		log.Debugw("dropping announcement for another peer", "from", m.From, "peer", ai.ID)
		return
	}
	s.push(&announceEvent{info: ai})
}

func (s *Swarm) encodeLocalFilter() ([]byte, error) {
	snap, err := s.local.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Marshal()
}

// broadcastFilter publishes the local filter on the filter topic. res, if
// set, receives the outcome.
func (s *Swarm) broadcastFilter(res chan error) {
	resolve := func(err error) {
		if res != nil {
			res <- err
		}
	}
	if s.gossip == nil {
		resolve(xerrors.New("gossip disabled"))
		return
	}

	ok := s.submit(func(ctx context.Context) {
		data, err := s.encodeLocalFilter()
		if err == nil {
			err = s.gossip.Publish(ctx, build.FilterTopic, data)
		}
		if err != nil {
			log.Warnw("filter broadcast failed", "error", err)
		} else {
			stats.Record(ctx, metrics.FilterBroadcasts.M(1))
		}
		resolve(err)
	})
	if !ok {
		resolve(neterr.ErrShuttingDown)
	}
}

// sendSummary pushes our filter to p directly over the control protocol.
func (s *Swarm) sendSummary(p peer.ID) {
	s.submit(func(ctx context.Context) {
		data, err := s.encodeLocalFilter()
		if err != nil {
			log.Warnw("encoding store summary", "error", err)
			return
		}
		resp, err := control.Send(ctx, s.host, p, control.NewStoreSummary(data))
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			log.Debugw("sending store summary", "peer", p, "error", err)
		}
	})
}

func (s *Swarm) handlePublish(cmd *publishCommand) {
	if s.gossip == nil {
		cmd.res <- xerrors.New("gossip disabled")
		return
	}
	s.spawn(func(ctx context.Context) {
		cmd.res <- s.gossip.Publish(ctx, cmd.topic, cmd.data)
	})
}

// HandleRequest answers control requests. It runs on the stream goroutine
// and only hands results to the loop.
func (s *Swarm) HandleRequest(ctx context.Context, p peer.ID, req *control.Request) *control.Response {
	switch req.Kind {
	case control.Ping:
		return control.NewResponse(control.Ok, "")

	case control.StoreSummary:
		f, err := decodeFilter(req.Summary)
		if err != nil {
			return control.NewResponse(control.BadRequest, err.Error())
		}
		s.push(&filterEvent{peer: p, filter: f})
		return control.NewResponse(control.Ok, "")

	case control.CacheRequest:
		s.push(&cacheRequestEvent{hint: p, cids: req.Cids})
		return control.NewResponse(control.Ok, "")

	default:
		return control.NewResponse(control.NotSupported, req.Kind.String())
	}
}

var _ control.Handler = (*Swarm)(nil)

func (s *Swarm) handleReplicate(cmd *replicateCommand) {
	var targets []peer.ID
	for _, p := range s.peers.Rank(s.peers.Connected()) {
		if len(targets) >= s.cfg.ReplicationFactor {
			break
		}
		if s.peers.SupportsProtocol(p, control.ProtocolID) {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		cmd.res <- xerrors.Errorf("replicating %s: no connected peers speak %s", cmd.cid, control.ProtocolID)
		return
	}

	c := cmd.cid
	s.spawn(func(ctx context.Context) {
		var lastErr error
		accepted := 0
		for _, p := range targets {
			resp, err := control.Send(ctx, s.host, p, control.NewCacheRequest(c))
			if err == nil {
				err = resp.Err()
			}
			if err != nil {
				log.Debugw("cache request refused", "peer", p, "cid", c, "error", err)
				lastErr = err
				continue
			}
			accepted++
		}
		if accepted == 0 {
			cmd.res <- xerrors.Errorf("replicating %s: %w", c, lastErr)
			return
		}
		log.Debugw("replicated", "cid", c, "peers", accepted)
		cmd.res <- nil
	})
}

func (s *Swarm) handleRequest(cmd *requestCommand) {
	s.spawn(func(ctx context.Context) {
		resp, err := control.Send(ctx, s.host, cmd.peer, cmd.req)
		cmd.res <- requestResult{resp: resp, err: err}
	})
}
