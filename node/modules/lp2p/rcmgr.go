package lp2p

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/network"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/node/repo"
)

const limitsFile = "limits.json"

// Block transfers dominate stream usage, so the exchange protocol gets its
// own budget on top of the libp2p service defaults.
var (
	exchangeBaseLimit = rcmgr.BaseLimit{
		Streams:         1024,
		StreamsInbound:  512,
		StreamsOutbound: 512,
		Memory:          64 << 20,
	}
	exchangeLimitIncrease = rcmgr.BaseLimitIncrease{
		Streams:         256,
		StreamsInbound:  128,
		StreamsOutbound: 128,
		Memory:          32 << 20,
	}
	controlBaseLimit = rcmgr.BaseLimit{
		Streams:         128,
		StreamsInbound:  64,
		StreamsOutbound: 64,
		Memory:          4 << 20,
	}
)

func ResourceManager(lc fx.Lifecycle, lr repo.LockedRepo) (network.ResourceManager, error) {
	limits := rcmgr.DefaultLimits
	libp2p.SetDefaultServiceLimits(&limits)
	limits.AddProtocolLimit(build.ExchangeProtocolID, exchangeBaseLimit, exchangeLimitIncrease)
	limits.AddProtocolLimit(build.ControlProtocolID, controlBaseLimit, rcmgr.BaseLimitIncrease{})
	scaled := limits.AutoScale()

	var limiter rcmgr.Limiter

	// parse $repo/limits.json if it exists; memory repos have no path
	var limitsIn *os.File
	err := os.ErrNotExist
	if lr.Path() != "" {
		limitsIn, err = os.Open(filepath.Join(lr.Path(), limitsFile))
	}
	switch {
	case err == nil:
		defer limitsIn.Close() //nolint:errcheck
		limiter, err = rcmgr.NewLimiterFromJSON(limitsIn, scaled)
		if err != nil {
			return nil, xerrors.Errorf("error parsing limit file: %w", err)
		}

	case errors.Is(err, os.ErrNotExist):
		limiter = rcmgr.NewFixedLimiter(scaled)

	default:
		return nil, err
	}

	mgr, err := rcmgr.NewResourceManager(limiter)
	if err != nil {
		return nil, xerrors.Errorf("error creating resource manager: %w", err)
	}

	lc.Append(fx.StopHook(mgr.Close))
	return mgr, nil
}

func ResourceManagerOption(mgr network.ResourceManager) Libp2pOpts {
	return Libp2pOpts{
		Opts: []libp2p.Option{libp2p.ResourceManager(mgr)},
	}
}
