package modules

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/lib/addrutil"
	"github.com/ursa-network/ursa/lib/ursalog"
	"github.com/ursa-network/ursa/node/config"
	"github.com/ursa-network/ursa/node/modules/helpers"
	"github.com/ursa-network/ursa/node/modules/lp2p"
	"github.com/ursa-network/ursa/node/repo"
)

var log = logging.Logger("modules")

func LockedRepo(lr repo.LockedRepo) func(lc fx.Lifecycle) repo.LockedRepo {
	return func(lc fx.Lifecycle) repo.LockedRepo {
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return lr.Close()
			},
		})

		return lr
	}
}

func PrivKey(lr repo.LockedRepo) (crypto.PrivKey, error) {
	return lr.Libp2pIdentity()
}

func DHTDatastore(mctx helpers.MetricsCtx, lr repo.LockedRepo) (lp2p.DHTStore, error) {
	return lr.Datastore(mctx, "/dht")
}

func GaterDatastore(mctx helpers.MetricsCtx, lr repo.LockedRepo) (lp2p.GaterStore, error) {
	return lr.Datastore(mctx, "/conngater")
}

// Bootstrappers resolves the configured bootstrap peers.
func Bootstrappers(mctx helpers.MetricsCtx, cfg *config.Root) (lp2p.Bootstrappers, error) {
	if len(cfg.Libp2p.BootstrapPeers) == 0 {
		return nil, nil
	}
	infos, err := addrutil.ParseAddresses(mctx, cfg.Libp2p.BootstrapPeers)
	if err != nil {
		return nil, xerrors.Errorf("parsing bootstrap peers: %w", err)
	}
	return infos, nil
}

// SetLogLevels applies the configured per-subsystem log levels.
func SetLogLevels(cfg *config.Root) error {
	return ursalog.SetSubsystemLevels(cfg.Logging.SubsystemLevels)
}
