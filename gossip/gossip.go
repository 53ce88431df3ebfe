// Package gossip publishes and receives small broadcast messages (filter
// snapshots, peer announcements) over gossipsub topics.
package gossip

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/lib/wire"
	"github.com/ursa-network/ursa/metrics"
)

var log = logging.Logger("gossip")

// EnvelopeVersion is the only envelope version this node accepts.
const EnvelopeVersion = 1

const DefaultSeenCacheSize = 8192

// Envelope wraps every gossiped payload. Origin must match the signer of
// the pubsub message.
type Envelope struct {
	Version uint64
	Origin  []byte
	Body    []byte
}

func init() {
	wire.Register(Envelope{})
}

// Message is a validated gossip message handed to subscribers.
type Message struct {
	Topic string
	ID    string
	From  peer.ID
	Body  []byte
}

type Handler func(Message)

type Gossip struct {
	ps   *pubsub.PubSub
	self peer.ID

	seen *lru.Cache[string, struct{}]

	lk     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   []*pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ps *pubsub.PubSub, self peer.ID, seenCacheSize int) (*Gossip, error) {
	if seenCacheSize <= 0 {
		seenCacheSize = DefaultSeenCacheSize
	}
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("creating seen cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gossip{
		ps:     ps,
		self:   self,
		seen:   seen,
		topics: make(map[string]*pubsub.Topic),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (g *Gossip) topic(name string) (*pubsub.Topic, error) {
	g.lk.Lock()
	defer g.lk.Unlock()

	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	if err := g.ps.RegisterTopicValidator(name, g.validate); err != nil {
		return nil, xerrors.Errorf("registering validator for %s: %w", name, err)
	}
	t, err := g.ps.Join(name)
	if err != nil {
		return nil, xerrors.Errorf("joining topic %s: %w", name, err)
	}
	g.topics[name] = t
	return t, nil
}

func (g *Gossip) validate(ctx context.Context, pid peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	reject := func(what string) pubsub.ValidationResult {
		ctx, _ = tag.New(ctx, tag.Upsert(metrics.Topic, msg.GetTopic()), tag.Upsert(metrics.FailureType, what))
		stats.Record(ctx, metrics.PubsubRejected.M(1))
		log.Debugw("rejecting gossip message", "from", msg.GetFrom(), "reason", what)
		return pubsub.ValidationReject
	}

	var env Envelope
	if err := wire.Decode(msg.GetData(), &env); err != nil {
		return reject("decode")
	}
	if env.Version != EnvelopeVersion {
		return reject("version")
	}
	origin, err := peer.IDFromBytes(env.Origin)
	if err != nil {
		return reject("origin")
	}
	if origin != msg.GetFrom() {
		return reject("origin_mismatch")
	}

	msg.ValidatorData = &env
	return pubsub.ValidationAccept
}

// Publish wraps body in an envelope and publishes it on topic.
func (g *Gossip) Publish(ctx context.Context, topic string, body []byte) error {
	t, err := g.topic(topic)
	if err != nil {
		return err
	}
	data, err := wire.Encode(&Envelope{
		Version: EnvelopeVersion,
		Origin:  []byte(g.self),
		Body:    body,
	})
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, data); err != nil {
		return xerrors.Errorf("publishing to %s: %w", topic, err)
	}
	stats.Record(metrics.Tagged(ctx, metrics.Topic, topic), metrics.PubsubPublished.M(1))
	return nil
}

// OnMessage subscribes to topic and calls h for every validated message
// from another peer. h runs on the subscription goroutine, one message at
// a time.
func (g *Gossip) OnMessage(topic string, h Handler) error {
	t, err := g.topic(topic)
	if err != nil {
		return err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return xerrors.Errorf("subscribing to %s: %w", topic, err)
	}

	g.lk.Lock()
	g.subs = append(g.subs, sub)
	g.lk.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.readLoop(topic, sub, h)
	}()
	return nil
}

func (g *Gossip) readLoop(topic string, sub *pubsub.Subscription, h Handler) {
	ctx := metrics.Tagged(g.ctx, metrics.Topic, topic)
	for {
		msg, err := sub.Next(g.ctx)
		if err != nil {
			if g.ctx.Err() == nil {
				log.Warnw("gossip subscription ended", "topic", topic, "error", err)
			}
			return
		}
		if msg.ReceivedFrom == g.self || msg.GetFrom() == g.self {
			continue
		}
		if dup, _ := g.seen.ContainsOrAdd(msg.ID, struct{}{}); dup {
			stats.Record(ctx, metrics.PubsubDuplicate.M(1))
			continue
		}

		env, ok := msg.ValidatorData.(*Envelope)
		if !ok {
			log.Errorw("gossip message without validator data", "topic", topic)
			continue
		}

		stats.Record(ctx, metrics.PubsubDelivered.M(1))
		h(Message{
			Topic: topic,
			ID:    msg.ID,
			From:  msg.GetFrom(),
			Body:  env.Body,
		})
	}
}

// Close cancels all subscriptions and waits for their handlers to return.
func (g *Gossip) Close() {
	g.cancel()

	g.lk.Lock()
	for _, sub := range g.subs {
		sub.Cancel()
	}
	g.lk.Unlock()

	g.wg.Wait()
}
