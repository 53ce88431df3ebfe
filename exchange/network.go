package exchange

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/lib/wire"
)

var (
	sendMessageTimeout = 30 * time.Second
	openStreamTimeout  = 10 * time.Second
)

// outbound messages buffered per peer before Send starts dropping
const peerQueueSize = 256

// Receiver is handed every valid inbound message, in arrival order per
// stream, and every error attributable to a peer.
type Receiver interface {
	ReceiveMessage(p peer.ID, msg *Message)
	ReceiveError(p peer.ID, err error)
}

// NetStats counts messages moved by the network.
type NetStats struct {
	MessagesSent    uint64
	MessagesRecvd   uint64
	MessagesDropped uint64
}

// Network moves exchange messages over libp2p streams. Outbound messages to
// a peer go through a per-peer queue and a single lazily opened stream.
type Network struct {
	host     host.Host
	receiver Receiver
	notifee  *network.NotifyBundle

	lk      sync.Mutex
	senders map[peer.ID]*peerSender
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats NetStats
}

func NewNetwork(h host.Host) *Network {
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		host:    h,
		senders: make(map[peer.ID]*peerSender),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the stream handler; r receives all inbound traffic.
func (n *Network) Start(r Receiver) {
	n.receiver = r
	n.notifee = &network.NotifyBundle{
		DisconnectedF: func(nw network.Network, c network.Conn) {
			p := c.RemotePeer()
			if nw.Connectedness(p) != network.Connected {
				n.ClosePeer(p)
			}
		},
	}
	n.host.SetStreamHandler(ProtocolID, n.handleNewStream)
	n.host.Network().Notify(n.notifee)
}

// Stop unregisters the handler and tears down every outbound stream.
func (n *Network) Stop() {
	n.host.RemoveStreamHandler(ProtocolID)
	if n.notifee != nil {
		n.host.Network().StopNotify(n.notifee)
	}

	n.lk.Lock()
	n.closed = true
	for p, s := range n.senders {
		close(s.done)
		delete(n.senders, p)
	}
	n.lk.Unlock()

	n.cancel()
	n.wg.Wait()
}

// Send queues msg for p without blocking. It returns false when the queue
// is full or the network is stopped.
func (n *Network) Send(p peer.ID, msg *Message) bool {
	n.lk.Lock()
	if n.closed {
		n.lk.Unlock()
		return false
	}
	s, ok := n.senders[p]
	if !ok {
		s = &peerSender{
			n:     n,
			p:     p,
			queue: make(chan *Message, peerQueueSize),
			done:  make(chan struct{}),
		}
		n.senders[p] = s
		n.wg.Add(1)
		go s.run()
	}
	n.lk.Unlock()

	select {
	case s.queue <- msg:
		return true
	default:
		atomic.AddUint64(&n.stats.MessagesDropped, 1)
		log.Warnw("exchange send queue full, dropping message", "peer", p, "kind", msg.Kind)
		return false
	}
}

// ClosePeer stops the outbound queue of p, dropping anything still queued.
func (n *Network) ClosePeer(p peer.ID) {
	n.lk.Lock()
	defer n.lk.Unlock()
	if s, ok := n.senders[p]; ok {
		close(s.done)
		delete(n.senders, p)
	}
}

func (n *Network) Stats() NetStats {
	return NetStats{
		MessagesSent:    atomic.LoadUint64(&n.stats.MessagesSent),
		MessagesRecvd:   atomic.LoadUint64(&n.stats.MessagesRecvd),
		MessagesDropped: atomic.LoadUint64(&n.stats.MessagesDropped),
	}
}

// handleNewStream reads messages off an inbound stream one at a time until
// the remote closes it or misbehaves.
func (n *Network) handleNewStream(s network.Stream) {
	defer s.Close() //nolint:errcheck

	p := s.Conn().RemotePeer()
	reader := wire.NewReader(s)
	for {
		data, err := reader.ReadMsg()
		if err != nil {
			if err != io.EOF {
				_ = s.Reset()
				log.Debugw("exchange stream read failed", "peer", p, "error", err)
			}
			return
		}

		var msg Message
		if err := wire.Decode(data, &msg); err == nil {
			err = msg.Validate()
		}
		if err != nil {
			_ = s.Reset()
			n.receiver.ReceiveError(p, &neterr.ProtocolError{Peer: p, Protocol: string(ProtocolID), Err: err})
			return
		}

		atomic.AddUint64(&n.stats.MessagesRecvd, 1)
		n.receiver.ReceiveMessage(p, &msg)
	}
}

type peerSender struct {
	n     *Network
	p     peer.ID
	queue chan *Message
	done  chan struct{}

	stream network.Stream
}

func (ps *peerSender) run() {
	defer ps.n.wg.Done()
	defer func() {
		if ps.stream != nil {
			_ = ps.stream.Close()
		}
	}()

	for {
		select {
		case msg := <-ps.queue:
			if err := ps.send(msg); err != nil {
				ps.n.receiver.ReceiveError(ps.p, &neterr.TransportError{Peer: ps.p, Err: err})
			}
		case <-ps.done:
			return
		case <-ps.n.ctx.Done():
			return
		}
	}
}

// send writes msg, reopening the stream once if the current one broke.
func (ps *peerSender) send(msg *Message) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if ps.stream == nil {
			if ps.stream, err = ps.open(); err != nil {
				return err
			}
		}
		if err = ps.write(msg); err == nil {
			atomic.AddUint64(&ps.n.stats.MessagesSent, 1)
			return nil
		}
		log.Debugw("exchange stream write failed", "peer", ps.p, "attempt", attempt, "error", err)
		_ = ps.stream.Reset()
		ps.stream = nil
	}
	return err
}

func (ps *peerSender) open() (network.Stream, error) {
	ctx, cancel := context.WithTimeout(ps.n.ctx, openStreamTimeout)
	defer cancel()

	s, err := ps.n.host.NewStream(ctx, ps.p, ProtocolID)
	if err != nil {
		return nil, xerrors.Errorf("opening exchange stream: %w", err)
	}
	return s, nil
}

func (ps *peerSender) write(msg *Message) error {
	if err := ps.stream.SetWriteDeadline(time.Now().Add(sendMessageTimeout)); err != nil {
		log.Warnf("error setting deadline: %s", err)
	}
	if err := wire.WriteMsg(ps.stream, msg); err != nil {
		return err
	}
	if err := ps.stream.SetWriteDeadline(time.Time{}); err != nil {
		log.Warnf("error resetting deadline: %s", err)
	}
	return nil
}
