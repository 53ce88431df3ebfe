// Package discovery finds candidate peers for a piece of content by
// combining cached provider records, DHT provider lookups and the
// availability filters gossiped by other peers.
package discovery

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/filter"
	"github.com/ursa-network/ursa/metrics"
	"github.com/ursa-network/ursa/peermgr"
)

var log = logging.Logger("discovery")

type Config struct {
	ProviderRecordTTL time.Duration
	// LookupTimeout bounds a single DHT provider lookup.
	LookupTimeout time.Duration
	// MaxProviders caps the providers taken from one lookup.
	MaxProviders int
}

func DefaultConfig() Config {
	return Config{
		ProviderRecordTTL: 24 * time.Hour,
		LookupTimeout:     30 * time.Second,
		MaxProviders:      20,
	}
}

// ClosestPeersFinder is implemented by routers that can run a random walk,
// such as the kademlia DHT.
type ClosestPeersFinder interface {
	GetClosestPeers(ctx context.Context, key string) ([]peer.ID, error)
}

// Discovery owns the provider record cache and the peer filter table. The
// candidate methods must be called from the swarm event loop; Lookup,
// Provide, Republish and RandomWalk only touch the router and are safe
// anywhere.
type Discovery struct {
	cfg  Config
	self peer.ID

	providers *Providers
	filters   *filter.Table
	peers     *peermgr.Store
	router    routing.ContentRouting
}

func New(cfg Config, self peer.ID, clk clock.Clock, peers *peermgr.Store, router routing.ContentRouting) *Discovery {
	return &Discovery{
		cfg:       cfg,
		self:      self,
		providers: NewProviders(cfg.ProviderRecordTTL, clk),
		filters:   filter.NewTable(),
		peers:     peers,
		router:    router,
	}
}

func (d *Discovery) Providers() *Providers {
	return d.providers
}

func (d *Discovery) Filters() *filter.Table {
	return d.filters
}

// Candidates returns the ranked peers that may hold c. Peers with a
// provider record or a matching filter come first, ordered by score.
// Connected peers that never sent a filter follow as a last resort.
func (d *Discovery) Candidates(c cid.Cid) []peer.ID {
	seen := map[peer.ID]struct{}{d.self: {}}
	var primary, fallback []peer.ID

	for _, rec := range d.providers.Get(c) {
		if _, ok := seen[rec.Peer]; ok {
			continue
		}
		seen[rec.Peer] = struct{}{}
		primary = append(primary, rec.Peer)
	}
	for _, p := range d.filters.Match(c) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		primary = append(primary, p)
	}
	for _, p := range d.peers.Connected() {
		if _, ok := seen[p]; ok || d.filters.Has(p) {
			continue
		}
		seen[p] = struct{}{}
		fallback = append(fallback, p)
	}

	return append(d.peers.Rank(primary), d.peers.Rank(fallback)...)
}

// Lookup asks the router for providers of c and calls found for each one
// as it arrives. It returns once the lookup finishes, times out or ctx is
// done.
func (d *Discovery) Lookup(ctx context.Context, c cid.Cid, found func(peer.AddrInfo)) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()

	stats.Record(ctx, metrics.ProviderLookups.M(1))

	n := 0
	for ai := range d.router.FindProvidersAsync(ctx, c, d.cfg.MaxProviders) {
		if ai.ID == d.self {
			continue
		}
		n++
		found(ai)
	}
	stats.Record(ctx, metrics.ProvidersFound.M(int64(n)))
	log.Debugw("provider lookup done", "cid", c, "found", n)

	if err := ctx.Err(); err != nil && n == 0 {
		return err
	}
	return nil
}

// Provide announces c to the routing system.
func (d *Discovery) Provide(ctx context.Context, c cid.Cid) error {
	if err := d.router.Provide(ctx, c, true); err != nil {
		return xerrors.Errorf("providing %s: %w", c, err)
	}
	return nil
}

// Republish re-announces every block in bs and folds it into the local
// filter. Individual provide failures are logged and skipped.
func (d *Discovery) Republish(ctx context.Context, bs blockstore.Blockstore, local *filter.Filter) (int, error) {
	keys, err := bs.AllKeysChan(ctx)
	if err != nil {
		return 0, xerrors.Errorf("listing local blocks: %w", err)
	}

	n := 0
	for c := range keys {
		if !local.Has(c) {
			local.Add(c)
		}
		if err := d.Provide(ctx, c); err != nil {
			log.Debugw("republish failed", "cid", c, "error", err)
			continue
		}
		n++
	}
	return n, ctx.Err()
}

// RandomWalk looks up the peers closest to a random key to keep the
// routing table fresh. It is a no-op for routers without a walk.
func (d *Discovery) RandomWalk(ctx context.Context) error {
	walker, ok := d.router.(ClosestPeersFinder)
	if !ok {
		return nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return xerrors.Errorf("generating walk key: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()
	ps, err := walker.GetClosestPeers(ctx, string(key))
	if err != nil {
		return xerrors.Errorf("random walk: %w", err)
	}
	log.Debugw("random walk done", "peers", len(ps))
	return nil
}
