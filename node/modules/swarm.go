package modules

import (
	"context"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/raulk/clock"
	"go.uber.org/fx"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/discovery"
	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/lib/retry"
	"github.com/ursa-network/ursa/node/config"
	"github.com/ursa-network/ursa/node/modules/helpers"
	"github.com/ursa-network/ursa/node/modules/lp2p"
	"github.com/ursa-network/ursa/peermgr"
	"github.com/ursa-network/ursa/swarm"
)

// SwarmConfig flattens the node config into the swarm's own settings.
func SwarmConfig(cfg *config.Root, relays lp2p.Bootstrappers) swarm.Config {
	d := func(v config.Duration) time.Duration { return time.Duration(v) }

	sc := swarm.DefaultConfig()
	sc.Exchange = exchange.Config{
		MaxConcurrentAsks: cfg.Exchange.MaxConcurrentAsks,
		MaxRetries:        cfg.Exchange.MaxRetries,
		WantTimeout:       d(cfg.Exchange.WantTimeout),
		MaxPendingServes:  cfg.Exchange.MaxPendingServes,
	}
	sc.Discovery = discovery.Config{
		ProviderRecordTTL: d(cfg.Routing.ProviderRecordTTL),
		LookupTimeout:     d(cfg.Routing.LookupTimeout),
		MaxProviders:      cfg.Routing.MaxProviders,
	}
	sc.Peers = peermgr.Config{
		LivenessWindow:       d(cfg.Peers.LivenessWindow),
		AddressBookCapacity:  cfg.Peers.AddressBookCapacity,
		ScoreHalfLife:        d(cfg.Peers.ScoreHalfLife),
		TimeoutPenalty:       cfg.Peers.TimeoutPenalty,
		InvalidBlockPenalty:  cfg.Peers.InvalidBlockPenalty,
		ProtocolErrorPenalty: cfg.Peers.ProtocolErrorPenalty,
		DeliveryReward:       cfg.Peers.DeliveryReward,
	}
	sc.Workers = cfg.Exchange.Workers
	sc.Dial = retry.Policy{
		Attempts: cfg.Peers.DialAttempts,
		Min:      d(cfg.Peers.DialBackoffMin),
		Max:      d(cfg.Peers.DialBackoffMax),
	}
	sc.FilterCapacity = cfg.Filter.Capacity
	sc.FilterFalsePositiveRate = cfg.Filter.FalsePositiveRate
	sc.SeenCacheSize = cfg.Gossip.SeenCacheSize
	sc.ObservedAddrThreshold = cfg.NAT.ObservedAddrThreshold
	sc.StaticRelays = relays
	sc.ReplicationFactor = cfg.Exchange.ReplicationFactor
	sc.EnableMDNS = cfg.Discovery.EnableMDNS
	if cfg.Discovery.MDNSServiceName != "" {
		sc.MDNSServiceName = cfg.Discovery.MDNSServiceName
	}

	sc.FilterBroadcastInterval = d(cfg.Gossip.FilterBroadcastInterval)
	sc.ProviderRepublishInterval = d(cfg.Routing.RepublishInterval)
	sc.WantSweepInterval = d(cfg.Exchange.WantSweepInterval)
	sc.LivenessSweepInterval = d(cfg.Peers.LivenessSweepInterval)
	sc.RandomWalkInterval = d(cfg.Routing.RandomWalkInterval)
	if !cfg.Routing.EnableDHT {
		sc.RandomWalkInterval = 0
		sc.ProviderRepublishInterval = 0
	}
	return sc
}

type SwarmIn struct {
	fx.In

	Config     swarm.Config
	Host       host.Host
	Router     routing.ContentRouting
	PubSub     *pubsub.PubSub
	Blockstore *blockstore.NotifyingBlockstore
	Clock      clock.Clock `optional:"true"`
}

// Swarm builds the node's swarm and ties its loop to the app lifecycle.
func Swarm(lc fx.Lifecycle, in SwarmIn) (*swarm.Swarm, error) {
	s, err := swarm.New(in.Config, in.Host, in.Router, in.PubSub, in.Blockstore, in.Clock)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			return s.Shutdown(ctx)
		},
	})
	return s, nil
}

// RunBootstrap dials the bootstrap peers in the background once the swarm
// is running. Failures are logged; the node keeps going with whatever it
// reaches.
func RunBootstrap(mctx helpers.MetricsCtx, lc fx.Lifecycle, s *swarm.Swarm, peers lp2p.Bootstrappers) {
	if len(peers) == 0 {
		return
	}
	ctx := helpers.LifecycleCtx(mctx, lc)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go bootstrap(ctx, s, peers)
			return nil
		},
	})
}

func bootstrap(ctx context.Context, s *swarm.Swarm, peers []peer.AddrInfo) {
	connected := 0
	for _, ai := range peers {
		addrs, err := peer.AddrInfoToP2pAddrs(&ai)
		if err != nil {
			log.Warnw("bad bootstrap peer", "peer", ai.ID, "error", err)
			continue
		}
		for _, addr := range addrs {
			if _, err = s.Dial(ctx, addr); err == nil {
				connected++
				break
			}
		}
		if err != nil {
			log.Warnw("bootstrap dial failed", "peer", ai.ID, "error", err)
		}
	}
	log.Infow("bootstrap done", "connected", connected, "peers", len(peers))
}
