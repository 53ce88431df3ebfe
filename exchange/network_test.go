package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/libp2p/go-msgio"
	"github.com/stretchr/testify/require"

	"github.com/ursa-network/ursa/lib/neterr"
)

type received struct {
	from peer.ID
	msg  *Message
	err  error
}

type chanReceiver chan received

func (r chanReceiver) ReceiveMessage(p peer.ID, msg *Message) { r <- received{from: p, msg: msg} }
func (r chanReceiver) ReceiveError(p peer.ID, err error)      { r <- received{from: p, err: err} }

func newNetPair(t *testing.T) (host.Host, host.Host, *Network, chanReceiver) {
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })

	ha, err := mn.GenPeer()
	require.NoError(t, err)
	hb, err := mn.GenPeer()
	require.NoError(t, err)
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())

	na, nb := NewNetwork(ha), NewNetwork(hb)
	na.Start(make(chanReceiver, 16))
	rb := make(chanReceiver, 16)
	nb.Start(rb)
	t.Cleanup(na.Stop)
	t.Cleanup(nb.Stop)
	return ha, hb, na, rb
}

func next(t *testing.T, r chanReceiver) received {
	select {
	case m := <-r:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return received{}
	}
}

func TestNetworkDeliversInOrder(t *testing.T) {
	ha, hb, na, rb := newNetPair(t)
	c := testBlock.Cid()

	require.True(t, na.Send(hb.ID(), NewMessage(WantHave, c)))
	require.True(t, na.Send(hb.ID(), NewMessage(Cancel, c)))
	require.True(t, na.Send(hb.ID(), NewBlockMessage(c, testBlock.RawData())))

	for _, k := range []Kind{WantHave, Cancel, Block} {
		m := next(t, rb)
		require.NoError(t, m.err)
		require.Equal(t, ha.ID(), m.from)
		require.Equal(t, k, m.msg.Kind)
		require.True(t, m.msg.Cid.Equals(c))
	}

	require.Eventually(t, func() bool {
		return na.Stats().MessagesSent == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNetworkReportsProtocolError(t *testing.T) {
	ha, hb, _, rb := newNetPair(t)

	s, err := ha.NewStream(context.Background(), hb.ID(), ProtocolID)
	require.NoError(t, err)
	require.NoError(t, msgio.NewVarintWriter(s).WriteMsg([]byte{0xde, 0xad, 0xbe, 0xef}))

	m := next(t, rb)
	var perr *neterr.ProtocolError
	require.ErrorAs(t, m.err, &perr)
	require.Equal(t, ha.ID(), perr.Peer)
	_ = s.Reset()
}

func TestNetworkSendAfterStop(t *testing.T) {
	_, hb, na, _ := newNetPair(t)
	na.Stop()
	require.False(t, na.Send(hb.ID(), NewMessage(WantHave, testBlock.Cid())))
}
