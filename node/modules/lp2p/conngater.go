package lp2p

import (
	"net"

	"github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/net/conngater"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/node/config"
)

// GaterStore is the datastore namespace holding the block lists.
type GaterStore datastore.Batching

// ConnectionGater loads the persisted block lists and adds the configured
// entries on top.
func ConnectionGater(ds GaterStore, cfg *config.Root) (*conngater.BasicConnectionGater, error) {
	g, err := conngater.NewBasicConnectionGater(ds)
	if err != nil {
		return nil, xerrors.Errorf("creating connection gater: %w", err)
	}

	for _, s := range cfg.Libp2p.BlockedPeers {
		p, err := peer.Decode(s)
		if err != nil {
			return nil, xerrors.Errorf("parsing blocked peer %q: %w", s, err)
		}
		if err := g.BlockPeer(p); err != nil {
			return nil, err
		}
	}
	for _, s := range cfg.Libp2p.BlockedSubnets {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, xerrors.Errorf("parsing blocked subnet %q: %w", s, err)
		}
		if err := g.BlockSubnet(ipnet); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func ConnGaterOption(g *conngater.BasicConnectionGater) (opts Libp2pOpts, err error) {
	opts.Opts = append(opts.Opts, libp2p.ConnectionGater(g))
	return
}
