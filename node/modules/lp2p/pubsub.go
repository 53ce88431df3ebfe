package lp2p

import (
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"go.uber.org/fx"

	"github.com/ursa-network/ursa/node/config"
	"github.com/ursa-network/ursa/node/modules/helpers"
)

// GossipSub builds the router behind the filter, peers and global topics.
// Messages must be signed by their origin; the gossip layer relies on that
// to attribute filters and announcements to a peer.
func GossipSub(cfg config.Gossip) interface{} {
	return func(mctx helpers.MetricsCtx, lc fx.Lifecycle, host host.Host) (*pubsub.PubSub, error) {
		opts := []pubsub.Option{
			pubsub.WithMessageSigning(true),
			pubsub.WithStrictSignatureVerification(true),
			pubsub.WithPeerExchange(true),
			pubsub.WithFloodPublish(true),
		}
		if ttl := time.Duration(cfg.FilterBroadcastInterval); ttl > 0 {
			// a filter is superseded by the next broadcast, so the router
			// need not remember it for longer
			opts = append(opts, pubsub.WithSeenMessagesTTL(2*ttl))
		}
		return pubsub.NewGossipSub(helpers.LifecycleCtx(mctx, lc), host, opts...)
	}
}
