package discovery

import (
	"context"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/filter"
	"github.com/ursa-network/ursa/peermgr"
)

type fakeRouter struct {
	provided  []cid.Cid
	providers []peer.AddrInfo
	walks     int
}

func (r *fakeRouter) Provide(ctx context.Context, c cid.Cid, announce bool) error {
	r.provided = append(r.provided, c)
	return nil
}

func (r *fakeRouter) FindProvidersAsync(ctx context.Context, c cid.Cid, count int) <-chan peer.AddrInfo {
	ch := make(chan peer.AddrInfo, len(r.providers))
	for i, ai := range r.providers {
		if i == count {
			break
		}
		ch <- ai
	}
	close(ch)
	return ch
}

func (r *fakeRouter) GetClosestPeers(ctx context.Context, key string) ([]peer.ID, error) {
	r.walks++
	return nil, nil
}

func newTestDiscovery(t *testing.T, router *fakeRouter) (*Discovery, *peermgr.Store, *clock.Mock) {
	clk := clock.NewMock()
	ps, err := peermgr.New(peermgr.DefaultConfig(), clk)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ProviderRecordTTL = time.Hour
	cfg.MaxProviders = 2
	return New(cfg, "self", clk, ps, router), ps, clk
}

func TestProvidersLazyExpiry(t *testing.T) {
	clk := clock.NewMock()
	ps := NewProviders(time.Minute, clk)
	c := blocks.NewBlock([]byte("x")).Cid()

	ps.Add(c, "a")
	clk.Add(30 * time.Second)
	ps.Add(c, "b")
	require.Len(t, ps.Get(c), 2)

	clk.Add(30 * time.Second)
	recs := ps.Get(c)
	require.Len(t, recs, 1)
	require.Equal(t, peer.ID("b"), recs[0].Peer)
	require.False(t, ps.Has(c, "a"))

	clk.Add(time.Minute)
	require.True(t, ps.Len() == 1, "pruning is lazy")
	require.Empty(t, ps.Get(c))
	require.Zero(t, ps.Len())
}

func TestCandidatesOrdering(t *testing.T) {
	d, ps, _ := newTestDiscovery(t, &fakeRouter{})
	c := blocks.NewBlock([]byte("content")).Cid()

	// record holders
	d.Providers().Add(c, "rec-low")
	d.Providers().Add(c, "rec-high")
	ps.RewardDelivery("rec-high")
	ps.PenalizeTimeout("rec-low")

	// a filter match
	f, err := filter.New(100, 0.01)
	require.NoError(t, err)
	f.Add(c)
	require.True(t, d.Filters().Update("filter", f, time.Now()))

	// connected peers: one without a filter, one whose filter misses c
	ps.AddConn("nofilter", 1, nil)
	ps.AddConn("miss", 2, nil)
	empty, err := filter.New(100, 0.01)
	require.NoError(t, err)
	require.True(t, d.Filters().Update("miss", empty, time.Now()))

	// self never shows up
	d.Providers().Add(c, "self")

	got := d.Candidates(c)
	require.Equal(t, []peer.ID{"rec-high", "filter", "rec-low", "nofilter"}, got)
}

func TestLookup(t *testing.T) {
	router := &fakeRouter{providers: []peer.AddrInfo{{ID: "self"}, {ID: "a"}, {ID: "b"}}}
	d, _, _ := newTestDiscovery(t, router)

	var found []peer.ID
	err := d.Lookup(context.Background(), blocks.NewBlock([]byte("x")).Cid(), func(ai peer.AddrInfo) {
		found = append(found, ai.ID)
	})
	require.NoError(t, err)
	// MaxProviders counts self too, it is only filtered after the router
	require.Equal(t, []peer.ID{"a"}, found)
}

func TestRepublish(t *testing.T) {
	ctx := context.Background()
	router := &fakeRouter{}
	d, _, _ := newTestDiscovery(t, router)

	bs := blockstore.NewMemorySync()
	b1, b2 := blocks.NewBlock([]byte("one")), blocks.NewBlock([]byte("two"))
	require.NoError(t, bs.Put(ctx, b1))
	require.NoError(t, bs.Put(ctx, b2))

	local, err := filter.New(100, 0.01)
	require.NoError(t, err)

	n, err := d.Republish(ctx, bs, local)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, router.provided, 2)
	require.True(t, local.Has(b1.Cid()))
	require.True(t, local.Has(b2.Cid()))

	require.NoError(t, d.RandomWalk(ctx))
	require.Equal(t, 1, router.walks)
}
