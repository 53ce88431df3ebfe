package nat

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/test"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func randPeer(t *testing.T) peer.ID {
	p, err := test.RandPeerID()
	require.NoError(t, err)
	return p
}

func TestObservedAddrThreshold(t *testing.T) {
	self := randPeer(t)
	tr := NewTracker(self, 2, nil)
	pub := ma.StringCast("/ip4/8.8.8.8/tcp/4001")
	a, b := randPeer(t), randPeer(t)

	require.False(t, tr.Observed(a, pub))
	require.False(t, tr.Observed(a, pub), "same reporter counts once")
	require.False(t, tr.Observed(self, pub))
	require.Empty(t, tr.Confirmed())

	require.True(t, tr.Observed(b, pub))
	require.Len(t, tr.Confirmed(), 1)
	require.False(t, tr.Observed(randPeer(t), pub), "confirmed only once")

	require.False(t, tr.Observed(a, ma.StringCast("/ip4/192.168.1.2/tcp/4001")))
}

func TestCandidatesFollowReachability(t *testing.T) {
	relay := peer.AddrInfo{ID: randPeer(t), Addrs: []ma.Multiaddr{ma.StringCast("/ip4/1.1.1.1/tcp/4001")}}
	tr := NewTracker(randPeer(t), 1, []peer.AddrInfo{relay})
	pub := ma.StringCast("/ip4/8.8.8.8/tcp/4001")
	tr.Observed(randPeer(t), pub)

	require.Equal(t, []ma.Multiaddr{pub}, tr.Candidates())

	require.True(t, tr.SetReachability(network.ReachabilityPrivate))
	require.False(t, tr.SetReachability(network.ReachabilityPrivate))
	cands := tr.Candidates()
	require.Len(t, cands, 1)
	require.Equal(t, "/ip4/1.1.1.1/tcp/4001/p2p/"+relay.ID.String()+"/p2p-circuit", cands[0].String())

	require.True(t, tr.SetReachability(network.ReachabilityPublic))
	require.Equal(t, []ma.Multiaddr{pub}, tr.Candidates())
}

func TestAnnouncementRoundTrip(t *testing.T) {
	self := randPeer(t)
	addrs := []ma.Multiaddr{ma.StringCast("/ip4/8.8.8.8/tcp/4001")}

	data, err := NewAnnouncement(self, addrs).Marshal()
	require.NoError(t, err)
	ai, err := ParseAnnouncement(data)
	require.NoError(t, err)
	require.Equal(t, self, ai.ID)
	require.True(t, ai.Addrs[0].Equal(addrs[0]))

	_, err = ParseAnnouncement([]byte{0x01})
	require.Error(t, err)
}

func TestOptions(t *testing.T) {
	require.NotEmpty(t, Options(DefaultConfig()))
	require.Len(t, Options(Config{}), 1) // relay disabled
}
