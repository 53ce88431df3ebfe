package lp2p

import (
	"context"
	"time"

	"github.com/ipfs/go-datastore"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	routinghelpers "github.com/libp2p/go-libp2p-routing-helpers"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	routedhost "github.com/libp2p/go-libp2p/p2p/host/routed"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/node/config"
	"github.com/ursa-network/ursa/node/modules/helpers"
)

type BaseIpfsRouting routing.Routing

// DHTStore is the datastore namespace holding DHT state.
type DHTStore datastore.Batching

// Bootstrappers are the peers dialed on start.
type Bootstrappers []peer.AddrInfo

func dhtMode(mode string) (dht.ModeOpt, error) {
	switch mode {
	case "", "auto":
		return dht.ModeAuto, nil
	case "client":
		return dht.ModeClient, nil
	case "server":
		return dht.ModeServer, nil
	default:
		return 0, xerrors.Errorf("unknown DHT mode %q", mode)
	}
}

func DHTRouting(cfg config.Routing) interface{} {
	return func(mctx helpers.MetricsCtx, lc fx.Lifecycle, host RawHost, dstore DHTStore, bootstrap Bootstrappers) (BaseIpfsRouting, error) {
		ctx := helpers.LifecycleCtx(mctx, lc)

		mode, err := dhtMode(cfg.DHTMode)
		if err != nil {
			return nil, err
		}

		opts := []dht.Option{
			dht.Mode(mode),
			dht.Datastore(dstore),
			dht.ProtocolPrefix(build.DhtProtocolPrefix),
			dht.MaxRecordAge(time.Duration(cfg.ProviderRecordTTL)),
			// content only; values are never stored
			dht.DisableValues(),
		}
		if cfg.Concurrency > 0 {
			opts = append(opts, dht.Concurrency(cfg.Concurrency))
		}
		if cfg.Resiliency > 0 {
			opts = append(opts, dht.Resiliency(cfg.Resiliency))
		}
		if cfg.BucketSize > 0 {
			opts = append(opts, dht.BucketSize(cfg.BucketSize))
		}
		if len(bootstrap) > 0 {
			opts = append(opts, dht.BootstrapPeers(bootstrap...))
		}

		d, err := dht.New(ctx, host, opts...)
		if err != nil {
			return nil, xerrors.Errorf("creating dht: %w", err)
		}

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return d.Close()
			},
		})

		return d, nil
	}
}

func NilRouting(mctx helpers.MetricsCtx) (BaseIpfsRouting, error) {
	return &routinghelpers.Null{}, nil
}

func RoutedHost(rh RawHost, r BaseIpfsRouting) host.Host {
	return routedhost.Wrap(rh, r)
}

func ContentRouting(r BaseIpfsRouting) routing.ContentRouting {
	return r
}
