// Package swarm runs a peer node: it owns the connection arena, the
// exchange engine, discovery state and gossip membership, and drives them
// all from a single event loop.
//
// Inbound messages, worker completions, timers and API commands are
// serialised onto the loop, so none of the state it owns needs locking.
// Anything that can block (dialing, storage, hashing, routing) runs on a
// worker or a short lived goroutine and reports back as an event.
package swarm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	hpubsub "github.com/hannahhoward/go-pubsub"
	logging "github.com/ipfs/go-log/v2"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	levent "github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/control"
	"github.com/ursa-network/ursa/discovery"
	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/filter"
	"github.com/ursa-network/ursa/gossip"
	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/lib/workerpool"
	"github.com/ursa-network/ursa/metrics"
	"github.com/ursa-network/ursa/nat"
	"github.com/ursa-network/ursa/peermgr"
)

var log = logging.Logger("swarm")

type Swarm struct {
	cfg  Config
	host host.Host
	bs   blockstore.Blockstore
	clk  clock.Clock

	pool   *workerpool.Pool
	net    *exchange.Network
	gossip *gossip.Gossip
	ctrl   *control.Server

	// loop owned
	engine   *exchange.Engine
	disc     *discovery.Discovery
	peers    *peermgr.Store
	tracker  *nat.Tracker
	conns    map[peermgr.ConnID]*peermgr.Connection
	connIDs  map[network.Conn]peermgr.ConnID
	nextConn peermgr.ConnID
	lookups  map[string]lookup
	nextLook uint64
	global   gossip.Handler

	// local is internally synchronized; republish folds keys in off-loop.
	local *filter.Filter

	events chan event
	cmds   chan command

	notifee    *network.NotifyBundle
	mdns       mdns.Service
	busSub     levent.Subscription
	unsubAdded hpubsub.Unsubscribe
	pending    int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	teardown  sync.Once
	started   bool
}

type lookup struct {
	id     uint64
	cancel context.CancelFunc
}

// New assembles a swarm on top of h. router may be routinghelpers.Null and
// ps may be nil, in which case gossip features are disabled.
func New(cfg Config, h host.Host, router routing.ContentRouting, ps *pubsub.PubSub, bs blockstore.Blockstore, clk clock.Clock) (*Swarm, error) {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}

	peers, err := peermgr.New(cfg.Peers, clk)
	if err != nil {
		return nil, xerrors.Errorf("creating peer store: %w", err)
	}
	local, err := filter.New(cfg.FilterCapacity, cfg.FilterFalsePositiveRate)
	if err != nil {
		return nil, xerrors.Errorf("creating local filter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Swarm{
		cfg:     cfg,
		host:    h,
		bs:      bs,
		clk:     clk,
		pool:    workerpool.New(cfg.Workers),
		net:     exchange.NewNetwork(h),
		disc:    discovery.New(cfg.Discovery, h.ID(), clk, peers, router),
		peers:   peers,
		tracker: nat.NewTracker(h.ID(), cfg.ObservedAddrThreshold, cfg.StaticRelays),
		conns:   make(map[peermgr.ConnID]*peermgr.Connection),
		connIDs: make(map[network.Conn]peermgr.ConnID),
		lookups: make(map[string]lookup),
		local:   local,
		events:  make(chan event, cfg.EventQueueSize),
		cmds:    make(chan command),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.engine = exchange.NewEngine(cfg.Exchange, (*env)(s), peers, clk)
	s.ctrl = control.NewServer(s)

	if ps != nil {
		g, err := gossip.New(ps, h.ID(), cfg.SeenCacheSize)
		if err != nil {
			cancel()
			return nil, err
		}
		s.gossip = g
	}
	return s, nil
}

// OnGlobalMessage sets the handler for messages on the global topic. It
// must be called before Start.
func (s *Swarm) OnGlobalMessage(h gossip.Handler) {
	s.global = h
}

// Host returns the underlying libp2p host.
func (s *Swarm) Host() host.Host {
	return s.host
}

// Start registers protocol handlers and subscriptions and starts the loop.
func (s *Swarm) Start() error {
	var err error
	s.startOnce.Do(func() {
		err = s.start()
	})
	return err
}

func (s *Swarm) start() error {
	sub, err := s.host.EventBus().Subscribe([]interface{}{
		new(levent.EvtPeerIdentificationCompleted),
		new(levent.EvtLocalReachabilityChanged),
	})
	if err != nil {
		return xerrors.Errorf("subscribing to host events: %w", err)
	}
	s.busSub = sub

	if s.gossip != nil {
		if err := s.gossip.OnMessage(build.FilterTopic, s.onFilterMessage); err != nil {
			return err
		}
		if err := s.gossip.OnMessage(build.PeersTopic, s.onPeersMessage); err != nil {
			return err
		}
		if err := s.gossip.OnMessage(build.GlobalTopic, func(m gossip.Message) {
			s.push(&globalEvent{msg: m})
		}); err != nil {
			return err
		}
	}

	if nb, ok := s.bs.(*blockstore.NotifyingBlockstore); ok {
		s.unsubAdded = nb.OnContentAdded(func(ca blockstore.ContentAdded) {
			s.push(&contentAddedEvent{cid: ca.Cid})
		})
	}

	s.notifee = &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			s.push(&connOpenedEvent{conn: c})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			s.push(&connClosedEvent{conn: c})
		},
	}

	s.net.Start((*receiver)(s))
	s.host.SetStreamHandler(control.ProtocolID, s.ctrl.HandleStream)

	s.started = true
	s.wg.Add(2)
	go s.forwardBusEvents()
	go s.run()

	// Connections that existed before we started listening.
	s.host.Network().Notify(s.notifee)
	for _, c := range s.host.Network().Conns() {
		s.push(&connOpenedEvent{conn: c})
	}

	if s.cfg.EnableMDNS {
		s.startMDNS()
	}

	log.Infow("swarm started", "peer", s.host.ID(), "addrs", s.host.Addrs())
	return nil
}

// Shutdown stops the loop, fails every pending command with
// neterr.ErrShuttingDown and releases all resources. It is safe to call more
// than once.
func (s *Swarm) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		// a swarm that never started cannot start any more
		s.startOnce.Do(func() {})
		s.cancel()
		if !s.started {
			close(s.done)
		}
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.teardown.Do(func() {
		if s.mdns != nil {
			if err := s.mdns.Close(); err != nil {
				log.Debugw("closing mdns", "error", err)
			}
		}
		if s.notifee != nil {
			s.host.Network().StopNotify(s.notifee)
		}
		s.host.RemoveStreamHandler(control.ProtocolID)
		s.net.Stop()
		if s.gossip != nil {
			s.gossip.Close()
		}
		if s.unsubAdded != nil {
			s.unsubAdded()
		}
		if s.busSub != nil {
			_ = s.busSub.Close()
		}
		s.pool.Close()
		s.wg.Wait()
	})
	return nil
}

// push hands ev to the loop, waiting for queue space. Events produced after
// shutdown are dropped.
func (s *Swarm) push(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// submit runs task on the worker pool.
func (s *Swarm) submit(task func(ctx context.Context)) bool {
	n := atomic.AddInt64(&s.pending, 1)
	stats.Record(s.ctx, metrics.WorkerQueueLength.M(n))
	ok := s.pool.Submit(func(ctx context.Context) {
		defer atomic.AddInt64(&s.pending, -1)
		task(ctx)
	})
	if !ok {
		atomic.AddInt64(&s.pending, -1)
	}
	return ok
}

// spawn runs f on its own goroutine bound to the swarm lifetime.
func (s *Swarm) spawn(f func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f(s.ctx)
	}()
}

func (s *Swarm) forwardBusEvents() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case e, ok := <-s.busSub.Out():
			if !ok {
				return
			}
			switch evt := e.(type) {
			case levent.EvtPeerIdentificationCompleted:
				s.push(&identifiedEvent{
					peer:      evt.Peer,
					conn:      evt.Conn,
					protocols: evt.Protocols,
					addrs:     evt.ListenAddrs,
					observed:  evt.ObservedAddr,
				})
			case levent.EvtLocalReachabilityChanged:
				s.push(&reachabilityEvent{reachability: evt.Reachability})
			}
		}
	}
}

// ticker returns the channel of a clock ticker, or nil when d disables it.
func (s *Swarm) ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := s.clk.Ticker(d)
	return t.C, t.Stop
}

func (s *Swarm) run() {
	defer s.wg.Done()
	defer close(s.done)

	sweep, stopSweep := s.ticker(s.cfg.WantSweepInterval)
	defer stopSweep()
	liveness, stopLiveness := s.ticker(s.cfg.LivenessSweepInterval)
	defer stopLiveness()
	broadcast, stopBroadcast := s.ticker(s.cfg.FilterBroadcastInterval)
	defer stopBroadcast()
	republish, stopRepublish := s.ticker(s.cfg.ProviderRepublishInterval)
	defer stopRepublish()
	walk, stopWalk := s.ticker(s.cfg.RandomWalkInterval)
	defer stopWalk()

	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case <-sweep:
			s.engine.Sweep()
		case <-liveness:
			if evicted := s.peers.SweepLiveness(); len(evicted) > 0 {
				log.Debugw("evicted stale peers", "count", len(evicted))
			}
		case <-broadcast:
			s.broadcastFilter(nil)
		case <-republish:
			s.republish()
		case <-walk:
			s.randomWalk()
		case <-s.ctx.Done():
			s.engine.CancelAll(neterr.ErrShuttingDown)
			for _, l := range s.lookups {
				l.cancel()
			}
			log.Info("swarm loop stopped")
			return
		}
	}
}

func (s *Swarm) handleEvent(ev event) {
	switch ev := ev.(type) {
	case *inboundEvent:
		s.engine.ReceiveMessage(ev.from, ev.msg)
	case *peerErrorEvent:
		s.handlePeerError(ev.from, ev.err)
	case *connOpenedEvent:
		s.handleConnOpened(ev.conn)
	case *connClosedEvent:
		s.handleConnClosed(ev.conn)
	case *identifiedEvent:
		s.handleIdentified(ev)
	case *reachabilityEvent:
		s.handleReachability(ev.reachability)
	case *dialDoneEvent:
		s.handleDialDone(ev)
	case *verifiedEvent:
		s.engine.BlockVerified(ev.fetch, ev.cid, ev.from, ev.data, ev.err)
	case *storedEvent:
		s.engine.BlockStored(ev.cid, ev.from, ev.data, ev.err)
	case *servedEvent:
		s.engine.Served(ev.peer, ev.cid, ev.kind, ev.has, ev.data, ev.err)
	case *providerFoundEvent:
		s.handleProviderFound(ev)
	case *lookupDoneEvent:
		s.handleLookupDone(ev)
	case *filterEvent:
		s.handleFilter(ev.peer, ev.filter)
	case *announceEvent:
		s.handleAnnounce(ev.info)
	case *mdnsFoundEvent:
		s.handleMDNSFound(ev.info)
	case *globalEvent:
		if s.global != nil {
			s.global(ev.msg)
		}
	case *cacheRequestEvent:
		s.handleCacheRequest(ev)
	case *cacheMissEvent:
		s.handleCacheMiss(ev)
	case *contentAddedEvent:
		s.handleContentAdded(ev.cid)
	default:
		log.Errorf("unhandled swarm event %T", ev)
	}
}

func (s *Swarm) handleCommand(cmd command) {
	switch cmd := cmd.(type) {
	case *fetchCommand:
		s.handleFetch(cmd)
	case *leaveCommand:
		s.engine.Leave(cmd.cid, cmd.res)
	case *dialCommand:
		s.handleDial(cmd)
	case *provideCommand:
		s.provide(cmd.cid)
		cmd.res <- nil
	case *broadcastCommand:
		s.broadcastFilter(cmd.res)
	case *cancelCommand:
		cmd.res <- s.engine.Cancel(cmd.cid)
	case *replicateCommand:
		s.handleReplicate(cmd)
	case *peersCommand:
		cmd.res <- s.peers.Connected()
	case *listenAddrsCommand:
		cmd.res <- s.listenAddrs()
	case *connectionsCommand:
		cmd.res <- s.connections()
	case *requestCommand:
		s.handleRequest(cmd)
	case *publishCommand:
		s.handlePublish(cmd)
	case *wantlistCommand:
		cmd.res <- s.engine.Wantlist()
	case *statsCommand:
		cmd.res <- s.stats()
	default:
		log.Errorf("unhandled swarm command %T", cmd)
	}
}
