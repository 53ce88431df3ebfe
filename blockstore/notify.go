package blockstore

import (
	"context"
	"sync"

	"github.com/hannahhoward/go-pubsub"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"
)

// ContentAdded is published once for every block that becomes newly present
// in a NotifyingBlockstore.
type ContentAdded struct {
	Cid  cid.Cid
	Size int
}

type contentAddedFn func(ContentAdded)

// NotifyingBlockstore wraps a Blockstore and publishes a ContentAdded event
// after each successful put of a block it did not already hold.
type NotifyingBlockstore struct {
	Blockstore

	// serialises the has-then-put check so concurrent puts of one block
	// notify once.
	putLk sync.Mutex
	ps    *pubsub.PubSub
}

var _ Blockstore = (*NotifyingBlockstore)(nil)

func NewNotifying(bs Blockstore) *NotifyingBlockstore {
	ps := pubsub.New(func(event pubsub.Event, subFn pubsub.SubscriberFn) error {
		evt, ok := event.(ContentAdded)
		if !ok {
			return xerrors.Errorf("wrong type of event")
		}
		sub, ok := subFn.(contentAddedFn)
		if !ok {
			return xerrors.Errorf("wrong type of subscriber")
		}
		sub(evt)
		return nil
	})
	return &NotifyingBlockstore{Blockstore: bs, ps: ps}
}

// OnContentAdded registers cb for every newly added block. Callbacks run on
// the putting goroutine and must not block.
func (n *NotifyingBlockstore) OnContentAdded(cb func(ContentAdded)) pubsub.Unsubscribe {
	return n.ps.Subscribe(contentAddedFn(cb))
}

func (n *NotifyingBlockstore) View(ctx context.Context, c cid.Cid, callback func([]byte) error) error {
	return View(ctx, n.Blockstore, c, callback)
}

func (n *NotifyingBlockstore) Put(ctx context.Context, b blocks.Block) error {
	n.putLk.Lock()
	defer n.putLk.Unlock()

	has, err := n.Blockstore.Has(ctx, b.Cid())
	if err != nil {
		return err
	}
	if err := n.Blockstore.Put(ctx, b); err != nil {
		return err
	}
	if !has {
		n.fire(b)
	}
	return nil
}

func (n *NotifyingBlockstore) PutMany(ctx context.Context, bs []blocks.Block) error {
	n.putLk.Lock()
	defer n.putLk.Unlock()

	fresh := make([]blocks.Block, 0, len(bs))
	for _, b := range bs {
		has, err := n.Blockstore.Has(ctx, b.Cid())
		if err != nil {
			return err
		}
		if !has {
			fresh = append(fresh, b)
		}
	}
	if err := n.Blockstore.PutMany(ctx, bs); err != nil {
		return err
	}
	for _, b := range fresh {
		n.fire(b)
	}
	return nil
}

func (n *NotifyingBlockstore) fire(b blocks.Block) {
	if err := n.ps.Publish(ContentAdded{Cid: b.Cid(), Size: len(b.RawData())}); err != nil {
		log.Errorf("unexpected error publishing content added event: %s", err)
	}
}
