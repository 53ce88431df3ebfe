package peermgr

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, mod func(*Config)) (*Store, *clock.Mock) {
	cfg := DefaultConfig()
	if mod != nil {
		mod(&cfg)
	}
	clk := clock.NewMock()
	s, err := New(cfg, clk)
	require.NoError(t, err)
	return s, clk
}

func TestObserveMergesAddrs(t *testing.T) {
	s, _ := newTestStore(t, nil)
	p := peer.ID("a")
	a1 := ma.StringCast("/ip4/1.2.3.4/tcp/4001")
	a2 := ma.StringCast("/ip4/1.2.3.4/udp/4001/quic-v1")

	s.Observe(p, a1)
	s.Observe(p, a1, a2)
	require.Len(t, s.Addrs(p), 2)
}

func TestScoreDecay(t *testing.T) {
	s, clk := newTestStore(t, func(cfg *Config) {
		cfg.ScoreHalfLife = time.Minute
		cfg.InvalidBlockPenalty = 8
	})
	p := peer.ID("a")

	s.PenalizeInvalidBlock(p)
	require.InDelta(t, -8, s.Score(p), 1e-9)

	clk.Add(time.Minute)
	require.InDelta(t, -4, s.Score(p), 1e-9)

	clk.Add(2 * time.Minute)
	require.InDelta(t, -1, s.Score(p), 1e-9)

	// a reward applies on top of the decayed value
	s.RewardDelivery(p)
	require.InDelta(t, 0, s.Score(p), 1e-9)
}

func TestRankStableTies(t *testing.T) {
	s, _ := newTestStore(t, nil)
	a, b, c, d := peer.ID("a"), peer.ID("b"), peer.ID("c"), peer.ID("d")

	s.RewardDelivery(c)
	s.PenalizeTimeout(a)

	require.Equal(t, []peer.ID{c, b, d, a}, s.Rank([]peer.ID{a, b, c, d}))
}

func TestLivenessDemotion(t *testing.T) {
	s, clk := newTestStore(t, func(cfg *Config) {
		cfg.LivenessWindow = time.Minute
		cfg.AddressBookCapacity = 2
	})
	a, b, c, conn := peer.ID("a"), peer.ID("b"), peer.ID("c"), peer.ID("conn")

	s.Observe(a)
	clk.Add(time.Second)
	s.Observe(b)
	clk.Add(time.Second)
	s.Observe(c)
	s.AddConn(conn, 1, nil)

	clk.Add(30 * time.Second)
	require.Empty(t, s.SweepLiveness())

	clk.Add(time.Minute)
	require.ElementsMatch(t, []peer.ID{a, b, c}, s.SweepLiveness())

	// connected peers are never demoted
	require.Equal(t, []peer.ID{conn}, s.Active())
	require.Len(t, s.AddressBook(), 2)

	// observing a demoted peer promotes it again
	book := s.AddressBook()
	s.Observe(book[0])
	_, ok := s.Get(book[0])
	require.True(t, ok)
	require.Len(t, s.AddressBook(), 1)
}

func TestAddressBookEvictsOldest(t *testing.T) {
	s, clk := newTestStore(t, func(cfg *Config) {
		cfg.LivenessWindow = time.Minute
		cfg.AddressBookCapacity = 2
	})
	for _, p := range []peer.ID{"a", "b", "c"} {
		s.Observe(p)
		clk.Add(2 * time.Minute)
		s.SweepLiveness()
	}
	require.Equal(t, []peer.ID{"b", "c"}, s.AddressBook())
}

func TestConnTracking(t *testing.T) {
	s, _ := newTestStore(t, nil)
	p := peer.ID("a")

	s.AddConn(p, 1, nil)
	s.AddConn(p, 2, nil)
	require.True(t, s.IsConnected(p))
	require.False(t, s.RemoveConn(p, 1))
	require.True(t, s.RemoveConn(p, 2))
	require.False(t, s.IsConnected(p))
	require.Empty(t, s.Connected())
}

func TestConnectionTransitions(t *testing.T) {
	c := &Connection{ID: 1, Peer: "a", State: Dialing}
	require.Error(t, c.Transition(Negotiated))
	require.NoError(t, c.Transition(Connected))
	require.NoError(t, c.Transition(Negotiated))
	require.NoError(t, c.Transition(Disconnected))
	require.Error(t, c.Transition(Connected))
	require.Error(t, c.Transition(Disconnected))

	c = &Connection{ID: 2, Peer: "a", State: Dialing}
	require.NoError(t, c.Transition(Disconnected))
}
