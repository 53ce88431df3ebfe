package lp2p

import (
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/nat"
	"github.com/ursa-network/ursa/node/config"
)

var log = logging.Logger("p2pnode")

type Libp2pOpts struct {
	fx.Out

	Opts []libp2p.Option `group:"libp2p"`
}

func PstoreAddSelfKeys(id peer.ID, sk crypto.PrivKey, ps peerstore.Peerstore) error {
	if err := ps.AddPubKey(id, sk.GetPublic()); err != nil {
		return err
	}

	return ps.AddPrivKey(id, sk)
}

func ConnectionManager(low, high uint, grace time.Duration, protected []string) func() (opts Libp2pOpts, err error) {
	return func() (Libp2pOpts, error) {
		cm, err := connmgr.NewConnManager(int(low), int(high), connmgr.WithGracePeriod(grace))
		if err != nil {
			return Libp2pOpts{}, err
		}
		for _, p := range protected {
			pid, err := peer.Decode(p)
			if err != nil {
				return Libp2pOpts{}, xerrors.Errorf("failed to parse protected peer %q: %w", p, err)
			}

			cm.Protect(pid, "config-prot")
		}

		return Libp2pOpts{
			Opts: []libp2p.Option{libp2p.ConnectionManager(cm)},
		}, nil
	}
}

func UserAgent(agent string) func() (opts Libp2pOpts, err error) {
	return func() (opts Libp2pOpts, err error) {
		opts.Opts = append(opts.Opts, libp2p.UserAgent(agent))
		return
	}
}

func DefaultUserAgent() (opts Libp2pOpts, err error) {
	return UserAgent(build.UserAgent())()
}

// NAT maps the NAT section of the config onto libp2p's traversal services.
// Bootstrap peers double as static relays.
func NAT(cfg config.NAT, relays []peer.AddrInfo) func() (opts Libp2pOpts, err error) {
	return func() (opts Libp2pOpts, err error) {
		opts.Opts = nat.Options(nat.Config{
			EnableNATService:      cfg.EnableNATService,
			EnablePortMap:         cfg.EnablePortMap,
			EnableHolePunching:    cfg.EnableHolePunching,
			EnableRelayClient:     cfg.EnableRelayClient,
			EnableRelayService:    cfg.EnableRelayService,
			StaticRelays:          relays,
			ObservedAddrThreshold: cfg.ObservedAddrThreshold,
		})
		return
	}
}

func AddrsFactory(announce []string) func() (opts Libp2pOpts, err error) {
	return func() (opts Libp2pOpts, err error) {
		if len(announce) == 0 {
			return
		}
		addrs, err := listenAddresses(announce)
		if err != nil {
			return opts, xerrors.Errorf("parsing announce addresses: %w", err)
		}
		opts.Opts = append(opts.Opts, libp2p.AddrsFactory(func([]ma.Multiaddr) []ma.Multiaddr {
			return addrs
		}))
		return
	}
}

func listenAddresses(addresses []string) ([]ma.Multiaddr, error) {
	var listen []ma.Multiaddr
	for _, addr := range addresses {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			return nil, xerrors.Errorf("failure to parse config.Libp2p.ListenAddresses: %w", err)
		}
		listen = append(listen, maddr)
	}

	return listen, nil
}

func StartListening(addresses []string) func(host RawHost) error {
	return func(host RawHost) error {
		listenAddrs, err := listenAddresses(addresses)
		if err != nil {
			return err
		}

		// listen on addresses
		err = host.Network().Listen(listenAddrs...)
		if err != nil {
			return xerrors.Errorf("failed to listen on addresses %v: %w", listenAddrs, err)
		}

		log.Infow("listening", "addrs", host.Network().ListenAddresses())
		return nil
	}
}
