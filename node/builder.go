package node

import (
	"context"
	"errors"
	"time"

	logging "github.com/ipfs/go-log/v2"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/net/conngater"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/node/config"
	"github.com/ursa-network/ursa/node/modules"
	"github.com/ursa-network/ursa/node/modules/helpers"
	"github.com/ursa-network/ursa/node/modules/lp2p"
	"github.com/ursa-network/ursa/node/repo"
	"github.com/ursa-network/ursa/swarm"
)

//nolint:deadcode,varcheck
var log = logging.Logger("builder")

// special is a type used to give keys to modules which
//
//	can't really be identified by the returned type
type special struct{ id int }

//nolint:golint
var (
	SmuxTransportKey     = special{0} // Libp2p option
	NatKey               = special{1} // Libp2p option
	AddrsFactoryKey      = special{2} // Libp2p option
	ConnectionManagerKey = special{3} // Libp2p option
	ResourceManagerKey   = special{4} // Libp2p option
	UserAgentKey         = special{5} // Libp2p option
	ConnGaterKey         = special{6} // Libp2p option
)

type invoke int

// Invokes are called in the order they are defined.
//
//nolint:golint
const (
	SetLogLevelsKey = invoke(iota)

	// libp2p
	PstoreAddSelfKeysKey
	StartListeningKey

	// ursa
	RunSwarmKey
	BootstrapKey
	BlockstoreGCKey

	ExtractKey

	_nInvokes // keep this last
)

type Settings struct {
	// modules is a map of constructors for DI
	//
	// In most cases the index will be a reflect. Type of element returned by
	// the constructor, but for some 'constructors' it's hard to specify what's
	// the return type should be (or the constructor returns fx group)
	modules map[interface{}]fx.Option

	// invokes are separate from modules as they can't be referenced by return
	// type, and must be applied in correct order
	invokes []fx.Option

	cfg *config.Root

	Online bool // Online option applied
	Config bool // Config option applied
}

func defaults() []Option {
	return []Option{
		Override(new(helpers.MetricsCtx), context.Background),
	}
}

func libp2p(cfg *config.Root) Option {
	return Options(
		Override(new(peerstore.Peerstore), lp2p.Peerstore),

		Override(new(lp2p.RawHost), lp2p.Host),
		Override(new(host.Host), lp2p.RoutedHost),
		ApplyIf(func(*Settings) bool { return cfg.Routing.EnableDHT },
			Override(new(lp2p.BaseIpfsRouting), lp2p.DHTRouting(cfg.Routing)),
		),
		ApplyIf(func(*Settings) bool { return !cfg.Routing.EnableDHT },
			Override(new(lp2p.BaseIpfsRouting), lp2p.NilRouting),
		),
		Override(new(routing.ContentRouting), lp2p.ContentRouting),

		Override(SmuxTransportKey, lp2p.SmuxTransport(cfg.Libp2p)),
		Override(AddrsFactoryKey, lp2p.AddrsFactory(cfg.Libp2p.AnnounceAddresses)),
		Override(UserAgentKey, lp2p.DefaultUserAgent),
		Override(ConnectionManagerKey, lp2p.ConnectionManager(
			cfg.Libp2p.ConnMgrLow,
			cfg.Libp2p.ConnMgrHigh,
			time.Duration(cfg.Libp2p.ConnMgrGrace),
			nil,
		)),
		Override(new(*conngater.BasicConnectionGater), lp2p.ConnectionGater),
		Override(ConnGaterKey, lp2p.ConnGaterOption),
		Override(new(network.ResourceManager), lp2p.ResourceManager),
		Override(ResourceManagerKey, lp2p.ResourceManagerOption),

		Override(new(*pubsub.PubSub), lp2p.GossipSub(cfg.Gossip)),

		Override(PstoreAddSelfKeysKey, lp2p.PstoreAddSelfKeys),
		Override(StartListeningKey, lp2p.StartListening(cfg.Libp2p.ListenAddresses)),
	)
}

// Online sets up the libp2p stack and the swarm on top of it. It must come
// after Repo, which supplies the config.
func Online() Option {
	return func(s *Settings) error {
		if !s.Config {
			return errors.New("the Repo option must be set before Online")
		}
		s.Online = true
		return online(s.cfg)(s)
	}
}

func online(cfg *config.Root) Option {
	return Options(
		libp2p(cfg),

		Override(new(lp2p.Bootstrappers), modules.Bootstrappers),
		Override(NatKey, func(b lp2p.Bootstrappers) (lp2p.Libp2pOpts, error) {
			return lp2p.NAT(cfg.NAT, b)()
		}),
		Override(new(swarm.Config), modules.SwarmConfig),
		Override(new(*swarm.Swarm), modules.Swarm),

		Override(RunSwarmKey, func(*swarm.Swarm) {}),
		Override(BootstrapKey, modules.RunBootstrap),
	)
}

func Repo(r repo.Repo) Option {
	return func(settings *Settings) error {
		lr, err := r.Lock()
		if err != nil {
			return err
		}
		c, err := lr.Config()
		if err != nil {
			return err
		}

		return Options(
			Override(new(repo.LockedRepo), modules.LockedRepo(lr)), // module handles closing

			Override(new(lp2p.DHTStore), modules.DHTDatastore),
			Override(new(lp2p.GaterStore), modules.GaterDatastore),
			Override(new(*blockstore.NotifyingBlockstore), modules.ContentBlockstore),
			Override(BlockstoreGCKey, modules.BlockstoreGC),

			Override(new(crypto.PrivKey), modules.PrivKey),
			Override(new(crypto.PubKey), crypto.PrivKey.GetPublic),
			Override(new(peer.ID), peer.IDFromPublicKey),

			ConfigRoot(c),
		)(settings)
	}
}

// ConfigRoot installs cfg as the node configuration.
func ConfigRoot(cfg *config.Root) Option {
	return Options(
		func(s *Settings) error {
			s.Config = true
			s.cfg = cfg
			return nil
		},
		Override(new(*config.Root), cfg),
		Override(SetLogLevelsKey, modules.SetLogLevels),
	)
}

// MockHost places the node on a mock network instead of real transports.
// Transport level options have no effect there and are dropped.
func MockHost(mn mocknet.Mocknet) Option {
	return Options(
		ApplyIf(func(s *Settings) bool { return !s.Online },
			Error(errors.New("MockHost must be specified after Online")),
		),

		Override(new(lp2p.RawHost), lp2p.MockHost),
		Unset(StartListeningKey),
		Override(new(mocknet.Mocknet), mn),
	)
}

// Extract fills targets, which must be pointers, with the node's
// components once it is built.
func Extract(targets ...interface{}) Option {
	return func(s *Settings) error {
		s.invokes[ExtractKey] = fx.Populate(targets...)
		return nil
	}
}

type StopFunc func(context.Context) error

// New builds and starts a new ursa node
func New(ctx context.Context, opts ...Option) (StopFunc, error) {
	settings := Settings{
		modules: map[interface{}]fx.Option{},
		invokes: make([]fx.Option, _nInvokes),
	}

	// apply module options in the right order
	if err := Options(Options(defaults()...), Options(opts...))(&settings); err != nil {
		return nil, xerrors.Errorf("applying node options failed: %w", err)
	}

	// gather constructors for fx.Options
	ctors := make([]fx.Option, 0, len(settings.modules))
	for _, opt := range settings.modules {
		ctors = append(ctors, opt)
	}

	// fill holes in invokes for use in fx.Options
	for i, opt := range settings.invokes {
		if opt == nil {
			settings.invokes[i] = fx.Options()
		}
	}

	app := fx.New(
		fx.Options(ctors...),
		fx.Options(settings.invokes...),

		fx.NopLogger,
	)

	if err := app.Start(ctx); err != nil {
		// comment fx.NopLogger few lines above for easier debugging
		return nil, xerrors.Errorf("starting node: %w", err)
	}

	return app.Stop, nil
}
