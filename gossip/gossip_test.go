package gossip

import (
	"context"
	"testing"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"

	"github.com/ursa-network/ursa/lib/wire"
)

const testTopic = "/ursa/test/1.0.0"

func newGossipPair(t *testing.T) (*Gossip, *Gossip, host.Host, host.Host) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })

	var gs []*Gossip
	var hs []host.Host
	for i := 0; i < 2; i++ {
		h, err := mn.GenPeer()
		require.NoError(t, err)
		ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithMessageSignaturePolicy(pubsub.StrictSign))
		require.NoError(t, err)
		g, err := New(ps, h.ID(), 16)
		require.NoError(t, err)
		t.Cleanup(g.Close)
		gs = append(gs, g)
		hs = append(hs, h)
	}

	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())
	return gs[0], gs[1], hs[0], hs[1]
}

func TestPublishDeliversToOthersOnly(t *testing.T) {
	a, b, ha, _ := newGossipPair(t)
	ctx := context.Background()

	gotB := make(chan Message, 16)
	require.NoError(t, b.OnMessage(testTopic, func(m Message) { gotB <- m }))
	gotA := make(chan Message, 16)
	require.NoError(t, a.OnMessage(testTopic, func(m Message) { gotA <- m }))

	// subscriptions propagate asynchronously; keep publishing until the mesh forms
	var msg Message
	require.Eventually(t, func() bool {
		_ = a.Publish(ctx, testTopic, []byte("hello"))
		select {
		case msg = <-gotB:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)

	require.Equal(t, []byte("hello"), msg.Body)
	require.Equal(t, ha.ID(), msg.From)
	require.Equal(t, testTopic, msg.Topic)

	select {
	case m := <-gotA:
		t.Fatalf("own message delivered: %v", m)
	default:
	}
}

func TestValidatorRejectsBadEnvelopes(t *testing.T) {
	a, _, ha, hb := newGossipPair(t)

	mk := func(env *Envelope) *pubsub.Message {
		data, err := wire.Encode(env)
		require.NoError(t, err)
		return &pubsub.Message{Message: newPbMessage(ha, data)}
	}

	ok := mk(&Envelope{Version: EnvelopeVersion, Origin: []byte(ha.ID()), Body: []byte("x")})
	require.Equal(t, pubsub.ValidationAccept, a.validate(context.Background(), ha.ID(), ok))
	require.NotNil(t, ok.ValidatorData)

	badVersion := mk(&Envelope{Version: EnvelopeVersion + 1, Origin: []byte(ha.ID())})
	require.Equal(t, pubsub.ValidationReject, a.validate(context.Background(), ha.ID(), badVersion))

	spoofed := mk(&Envelope{Version: EnvelopeVersion, Origin: []byte(hb.ID())})
	require.Equal(t, pubsub.ValidationReject, a.validate(context.Background(), ha.ID(), spoofed))

	garbage := &pubsub.Message{Message: newPbMessage(ha, []byte{0xff, 0x00})}
	require.Equal(t, pubsub.ValidationReject, a.validate(context.Background(), ha.ID(), garbage))
}

func newPbMessage(from host.Host, data []byte) *pb.Message {
	topic := testTopic
	return &pb.Message{
		From:  []byte(from.ID()),
		Data:  data,
		Topic: &topic,
	}
}
