package swarm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"
	routinghelpers "github.com/libp2p/go-libp2p-routing-helpers"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/control"
	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/filter"
	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/lib/wire"
	"github.com/ursa-network/ursa/peermgr"
)

const waitFor = 10 * time.Second

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.FilterCapacity = 1000
	cfg.FilterBroadcastInterval = 0
	cfg.ProviderRepublishInterval = 0
	cfg.RandomWalkInterval = 0
	cfg.Discovery.LookupTimeout = time.Second
	cfg.Dial.Attempts = 1
	return cfg
}

type node struct {
	*Swarm
	bs *blockstore.NotifyingBlockstore
}

func newNode(t *testing.T, mn mocknet.Mocknet) *node {
	h, err := mn.GenPeer()
	require.NoError(t, err)

	bs := blockstore.NewNotifying(blockstore.NewMemorySync())
	s, err := New(testConfig(), h, routinghelpers.Null{}, nil, bs, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, s.Shutdown(ctx))
	})
	return &node{Swarm: s, bs: bs}
}

func connect(t *testing.T, mn mocknet.Mocknet) {
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())
}

func waitConnected(t *testing.T, n *node, p peer.ID) {
	require.Eventually(t, func() bool {
		ps, err := n.Peers(context.Background())
		if err != nil {
			return false
		}
		for _, have := range ps {
			if have == p {
				return true
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)
}

func mustStats(t *testing.T, n *node) Stats {
	st, err := n.Stats(context.Background())
	require.NoError(t, err)
	return st
}

func testBlock(data string) blocks.Block {
	return blocks.NewBlock([]byte(data))
}

func TestFetchLocal(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)

	blk := testBlock("local")
	require.NoError(t, a.bs.Put(context.Background(), blk))

	data, err := a.Fetch(context.Background(), blk.Cid())
	require.NoError(t, err)
	require.Equal(t, blk.RawData(), data)
	require.EqualValues(t, 0, mustStats(t, a).Exchange.FetchesStarted)

	// the caller may scribble over its copy
	data[0] ^= 0xff
	again, err := a.Fetch(context.Background(), blk.Cid())
	require.NoError(t, err)
	require.Equal(t, []byte("local"), again)
}

func TestFetchWithoutPeersIsNotFound(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)

	_, err := a.Fetch(context.Background(), testBlock("nowhere").Cid())
	require.ErrorIs(t, err, neterr.ErrNotFound)
}

func TestFetchFromPeer(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)
	b := newNode(t, mn)

	blk := testBlock("hello ursa")
	require.NoError(t, a.bs.Put(context.Background(), blk))

	connect(t, mn)
	waitConnected(t, b, a.Host().ID())

	data, err := b.Fetch(context.Background(), blk.Cid())
	require.NoError(t, err)
	require.Equal(t, blk.RawData(), data)

	// the block was verified and stored
	has, err := b.bs.Has(context.Background(), blk.Cid())
	require.NoError(t, err)
	require.True(t, has)

	require.Eventually(t, func() bool {
		return mustStats(t, a).Exchange.BlocksServed == 1
	}, waitFor, 10*time.Millisecond)
}

func TestFetchMissingIsNotFound(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)
	b := newNode(t, mn)
	connect(t, mn)
	waitConnected(t, b, a.Host().ID())

	_, err := b.Fetch(context.Background(), testBlock("missing").Cid())
	require.ErrorIs(t, err, neterr.ErrNotFound)
	require.EqualValues(t, 1, mustStats(t, b).Exchange.DontHaveReceived)
}

func TestStoreSummaryExchangedOnConnect(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)
	b := newNode(t, mn)

	blk := testBlock("summarised")
	require.NoError(t, a.bs.Put(context.Background(), blk))
	require.Eventually(t, func() bool {
		return mustStats(t, a).FilterEntries == 1
	}, waitFor, 10*time.Millisecond)

	connect(t, mn)
	require.Eventually(t, func() bool {
		return mustStats(t, b).PeerFilters == 1
	}, waitFor, 10*time.Millisecond)
}

func TestDialAndConnections(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)
	b := newNode(t, mn)
	require.NoError(t, mn.LinkAll())

	ctx := context.Background()
	addr := a.Host().Addrs()[0].Encapsulate(ma.StringCast("/p2p/" + a.Host().ID().String()))
	p, err := b.Dial(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, a.Host().ID(), p)

	require.Eventually(t, func() bool {
		conns, err := b.Connections(ctx)
		if err != nil || len(conns) != 1 {
			return false
		}
		c := conns[0]
		return c.Peer == p && c.Direction == network.DirOutbound && c.State != peermgr.Dialing
	}, waitFor, 10*time.Millisecond)

	_, err = b.Dial(ctx, a.Host().Addrs()[0])
	var te *neterr.TransportError
	require.ErrorAs(t, err, &te)

	_, err = b.Dial(ctx, ma.StringCast("/p2p/"+b.Host().ID().String()))
	require.ErrorAs(t, err, &te)
}

func TestReplicate(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)
	b := newNode(t, mn)

	blk := testBlock("replicate me")
	require.NoError(t, a.bs.Put(context.Background(), blk))

	connect(t, mn)
	waitConnected(t, a, b.Host().ID())

	// fails until identify tells a that b speaks the control protocol
	require.Eventually(t, func() bool {
		return a.Replicate(context.Background(), blk.Cid()) == nil
	}, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		has, err := b.bs.Has(context.Background(), blk.Cid())
		return err == nil && has
	}, waitFor, 10*time.Millisecond)
}

func TestPingOverControl(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)
	b := newNode(t, mn)
	connect(t, mn)

	resp, err := b.SendRequest(context.Background(), a.Host().ID(), control.NewPing())
	require.NoError(t, err)
	require.NoError(t, resp.Err())
}

// fakePeer answers exchange wants on its own terms.
type fakePeer struct {
	h       host.Host
	release chan struct{}
	// block returns the bytes to send for a want-block.
	block func(c cid.Cid) []byte

	lk     sync.Mutex
	wanted map[string]int
}

// newFakePeer answers want-block with block once release is closed. A nil
// release answers immediately.
func newFakePeer(t *testing.T, mn mocknet.Mocknet, block func(c cid.Cid) []byte, release chan struct{}) *fakePeer {
	h, err := mn.GenPeer()
	require.NoError(t, err)
	fp := &fakePeer{h: h, release: release, block: block, wanted: make(map[string]int)}
	h.SetStreamHandler(exchange.ProtocolID, fp.handle)
	return fp
}

func (fp *fakePeer) handle(s network.Stream) {
	defer s.Close() //nolint:errcheck
	from := s.Conn().RemotePeer()
	r := wire.NewReader(s)
	for {
		var msg exchange.Message
		if err := wire.ReadMsg(r, &msg); err != nil {
			return
		}
		fp.lk.Lock()
		fp.wanted[msg.Kind.String()]++
		fp.lk.Unlock()

		var reply *exchange.Message
		switch msg.Kind {
		case exchange.WantHave:
			reply = exchange.NewMessage(exchange.Have, msg.Cid)
		case exchange.WantBlock:
			if fp.release != nil {
				<-fp.release
			}
			reply = exchange.NewBlockMessage(msg.Cid, fp.block(msg.Cid))
		default:
			continue
		}
		go fp.send(from, reply)
	}
}

func (fp *fakePeer) send(p peer.ID, msg *exchange.Message) {
	s, err := fp.h.NewStream(context.Background(), p, exchange.ProtocolID)
	if err != nil {
		return
	}
	defer s.Close() //nolint:errcheck
	_ = wire.WriteMsg(s, msg)
}

func TestInvalidBlockIsRejected(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	b := newNode(t, mn)
	liar := newFakePeer(t, mn, func(cid.Cid) []byte { return []byte("not what you asked for") }, nil)
	connect(t, mn)
	waitConnected(t, b, liar.h.ID())

	c := testBlock("wanted").Cid()
	_, err := b.Fetch(context.Background(), c)
	require.ErrorIs(t, err, neterr.ErrNotFound)

	has, err := b.bs.Has(context.Background(), c)
	require.NoError(t, err)
	require.False(t, has)

	st := mustStats(t, b)
	require.EqualValues(t, 1, st.Exchange.InvalidBlocks)
}

func TestConcurrentFetchesCoalesce(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	b := newNode(t, mn)

	blk := testBlock("popular")
	release := make(chan struct{})
	fp := newFakePeer(t, mn, func(cid.Cid) []byte { return blk.RawData() }, release)
	connect(t, mn)
	waitConnected(t, b, fp.h.ID())

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	datas := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			datas[i], errs[i] = b.Fetch(context.Background(), blk.Cid())
		}(i)
	}

	require.Eventually(t, func() bool {
		return mustStats(t, b).Exchange.FetchesCoalesced == n-1
	}, waitFor, 10*time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], fmt.Sprintf("fetch %d", i))
		require.Equal(t, blk.RawData(), datas[i])
	}
	st := mustStats(t, b)
	require.EqualValues(t, 1, st.Exchange.FetchesStarted)

	fp.lk.Lock()
	defer fp.lk.Unlock()
	require.Equal(t, 1, fp.wanted[exchange.WantBlock.String()])
}

func TestCancelledFetchLeaves(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	b := newNode(t, mn)

	blk := testBlock("slow")
	release := make(chan struct{})
	fp := newFakePeer(t, mn, func(cid.Cid) []byte { return blk.RawData() }, release)
	t.Cleanup(func() { close(release) })
	connect(t, mn)
	waitConnected(t, b, fp.h.ID())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Fetch(ctx, blk.Cid())
		done <- err
	}()

	require.Eventually(t, func() bool {
		wl, err := b.Wantlist(context.Background())
		return err == nil && len(wl) == 1 && wl[0].Kind == exchange.WantBlock
	}, waitFor, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("fetch did not return")
	}

	require.Eventually(t, func() bool {
		return mustStats(t, b).Exchange.ActiveFetches == 0
	}, waitFor, 10*time.Millisecond)
}

func TestShutdownFailsPendingWork(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })

	h, err := mn.GenPeer()
	require.NoError(t, err)
	s, err := New(testConfig(), h, routinghelpers.Null{}, nil, blockstore.NewMemorySync(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	blk := testBlock("never")
	release := make(chan struct{})
	fp := newFakePeer(t, mn, func(cid.Cid) []byte { return blk.RawData() }, release)
	t.Cleanup(func() { close(release) })
	connect(t, mn)
	waitConnected(t, &node{Swarm: s}, fp.h.ID())

	done := make(chan error, 1)
	go func() {
		_, err := s.Fetch(context.Background(), blk.Cid())
		done <- err
	}()
	require.Eventually(t, func() bool {
		wl, err := s.Wantlist(context.Background())
		return err == nil && len(wl) == 1
	}, waitFor, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.ErrorIs(t, <-done, neterr.ErrShuttingDown)

	_, err = s.Peers(context.Background())
	require.ErrorIs(t, err, neterr.ErrShuttingDown)
	require.NoError(t, s.Shutdown(ctx))
}

func TestShutdownBeforeStart(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	h, err := mn.GenPeer()
	require.NoError(t, err)

	s, err := New(testConfig(), h, routinghelpers.Null{}, nil, blockstore.NewMemorySync(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))
	_, err = s.Stats(context.Background())
	require.ErrorIs(t, err, neterr.ErrShuttingDown)
}

func TestVerifyBlock(t *testing.T) {
	blk := testBlock("verify")
	require.NoError(t, verifyBlock(blk.Cid(), "p", blk.RawData()))

	err := verifyBlock(blk.Cid(), "p", []byte("other"))
	var ve *neterr.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, peer.ID("p"), ve.Peer)

	// content ids of another codec hash the same bytes
	raw := cid.NewCidV1(cid.Raw, blk.Cid().Hash())
	require.NoError(t, verifyBlock(raw, "p", blk.RawData()))
}

func TestMalformedStoreSummaryRejected(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	snap := &filter.Snapshot{
		Format: filter.SnapshotVersion,
		Bits:   enc.EncodeAll([]byte(`{"FilterSet":"AQ==","SetLocs":3}`), nil),
	}
	data, err := snap.Marshal()
	require.NoError(t, err)

	_, err = decodeFilter(data)
	require.Error(t, err)

	s := &Swarm{}
	resp := s.HandleRequest(context.Background(), "p", control.NewStoreSummary(data))
	require.Equal(t, control.BadRequest, resp.Status)
}

func TestMDNSFoundPeerIsDialed(t *testing.T) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	a := newNode(t, mn)
	b := newNode(t, mn)
	require.NoError(t, mn.LinkAll())

	found := (*mdnsNotifee)(a.Swarm)
	found.HandlePeerFound(peer.AddrInfo{ID: a.Host().ID(), Addrs: a.Host().Addrs()})

	ai := peer.AddrInfo{ID: b.Host().ID(), Addrs: b.Host().Addrs()}
	found.HandlePeerFound(ai)
	waitConnected(t, a, b.Host().ID())
	require.NotEmpty(t, a.Host().Peerstore().Addrs(b.Host().ID()))

	// seeing a connected peer again does not dial it a second time
	found.HandlePeerFound(ai)
	ctx := context.Background()
	require.Eventually(t, func() bool {
		conns, err := a.Connections(ctx)
		if err != nil || len(conns) != 1 {
			return false
		}
		return conns[0].Peer == b.Host().ID() && conns[0].State != peermgr.Dialing
	}, waitFor, 10*time.Millisecond)
}
