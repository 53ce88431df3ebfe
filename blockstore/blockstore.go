package blockstore

import (
	"context"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("blockstore")

// ErrNotFound is returned by Get, GetSize and View when the block is absent.
var ErrNotFound = ipld.ErrNotFound{}

// Blockstore is the block store capability the node serves content from.
type Blockstore interface {
	DeleteBlock(context.Context, cid.Cid) error
	Has(context.Context, cid.Cid) (bool, error)
	Get(context.Context, cid.Cid) (blocks.Block, error)

	// GetSize returns the size of the block mapped to the given CID.
	GetSize(context.Context, cid.Cid) (int, error)

	Put(context.Context, blocks.Block) error
	PutMany(context.Context, []blocks.Block) error

	// AllKeysChan returns a channel from which the CIDs in the store can be
	// read. It should respect the given context, closing the channel when the
	// context is cancelled.
	AllKeysChan(ctx context.Context) (<-chan cid.Cid, error)
}

// Viewer is implemented by stores that can lend out block bytes without copying.
type Viewer interface {
	View(ctx context.Context, cid cid.Cid, callback func([]byte) error) error
}

// IsNotFound reports whether err means the block is not in the store.
func IsNotFound(err error) bool {
	return ipld.IsNotFound(err)
}

// View calls callback with the block bytes, using the zero-copy path when bs
// supports it.
func View(ctx context.Context, bs Blockstore, c cid.Cid, callback func([]byte) error) error {
	if v, ok := bs.(Viewer); ok {
		return v.View(ctx, c, callback)
	}
	blk, err := bs.Get(ctx, c)
	if err != nil {
		return err
	}
	return callback(blk.RawData())
}
