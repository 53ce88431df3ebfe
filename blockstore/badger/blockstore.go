package badgerbs

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
	logger "github.com/ipfs/go-log/v2"
	pool "github.com/libp2p/go-buffer-pool"
	"github.com/multiformats/go-base32"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/blockstore"
)

var (
	// ErrBlockstoreClosed is returned by every operation once Close was
	// called.
	ErrBlockstoreClosed = xerrors.New("badger blockstore closed")

	log = logger.Logger("badgerbs")
)

// Loading modes, re-exported so callers need not import badger.
const (
	FileIO    = options.FileIO
	MemoryMap = options.MemoryMap
	LoadToRAM = options.LoadToRAM
)

// Options are the badger options plus the key prefix blocks live under.
type Options struct {
	badger.Options

	Prefix string
}

func DefaultOptions(path string) Options {
	return Options{Options: badger.DefaultOptions(path)}
}

// badger calls Warningf where zap has Warnf.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

// Blockstore keeps blocks in badger. Keys are the base32 encoded multihash
// under the configured prefix, so blocks of different codecs sharing a hash
// are stored once.
type Blockstore struct {
	closed atomic.Bool

	db   *badger.DB
	keys keyer
}

var (
	_ blockstore.Blockstore = (*Blockstore)(nil)
	_ blockstore.Viewer     = (*Blockstore)(nil)
	_ io.Closer             = (*Blockstore)(nil)
)

// Open opens or creates the store at opts.Dir.
func Open(opts Options) (*Blockstore, error) {
	opts.Logger = badgerLogger{log.Desugar().WithOptions(zap.AddCallerSkip(2)).Sugar()}

	db, err := badger.Open(opts.Options)
	if err != nil {
		return nil, xerrors.Errorf("opening badger blockstore: %w", err)
	}
	return &Blockstore{db: db, keys: keyer{prefix: []byte(opts.Prefix)}}, nil
}

// Close closes the database. Later calls are no-ops.
func (b *Blockstore) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}

// CollectGarbage rewrites value log files until badger finds none with at
// least discardRatio of stale data, or ctx ends. It returns the number of
// files rewritten.
func (b *Blockstore) CollectGarbage(ctx context.Context, discardRatio float64) (int, error) {
	if b.closed.Load() {
		return 0, ErrBlockstoreClosed
	}

	rewritten := 0
	for ctx.Err() == nil {
		err := b.db.RunValueLogGC(discardRatio)
		switch {
		case err == nil:
			rewritten++
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
			// nothing left, or another run is in progress
			return rewritten, nil
		default:
			return rewritten, xerrors.Errorf("value log gc: %w", err)
		}
	}
	return rewritten, ctx.Err()
}

// withItem runs fn on the stored item for c inside a read transaction.
func (b *Blockstore) withItem(c cid.Cid, fn func(*badger.Item) error) error {
	if b.closed.Load() {
		return ErrBlockstoreClosed
	}

	k := b.keys.key(c)
	defer pool.Put(k)

	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		switch {
		case err == nil:
			return fn(item)
		case errors.Is(err, badger.ErrKeyNotFound):
			return ipld.ErrNotFound{Cid: c}
		default:
			return xerrors.Errorf("reading %s: %w", c, err)
		}
	})
}

// View lends the stored bytes to fn. fn must not retain them.
func (b *Blockstore) View(_ context.Context, c cid.Cid, fn func([]byte) error) error {
	return b.withItem(c, func(item *badger.Item) error {
		return item.Value(fn)
	})
}

func (b *Blockstore) Has(_ context.Context, c cid.Cid) (bool, error) {
	err := b.withItem(c, func(*badger.Item) error { return nil })
	switch {
	case err == nil:
		return true, nil
	case ipld.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (b *Blockstore) Get(_ context.Context, c cid.Cid) (blocks.Block, error) {
	if !c.Defined() {
		return nil, ipld.ErrNotFound{Cid: c}
	}

	var data []byte
	err := b.withItem(c, func(item *badger.Item) (err error) {
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, c)
}

func (b *Blockstore) GetSize(_ context.Context, c cid.Cid) (int, error) {
	size := -1
	err := b.withItem(c, func(item *badger.Item) error {
		size = int(item.ValueSize())
		return nil
	})
	return size, err
}

func (b *Blockstore) Put(_ context.Context, blk blocks.Block) error {
	if b.closed.Load() {
		return ErrBlockstoreClosed
	}

	k := b.keys.key(blk.Cid())
	defer pool.Put(k)

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, blk.RawData())
	}); err != nil {
		return xerrors.Errorf("storing %s: %w", blk.Cid(), err)
	}
	return nil
}

// PutMany writes blks in one batch.
func (b *Blockstore) PutMany(_ context.Context, blks []blocks.Block) error {
	if b.closed.Load() {
		return ErrBlockstoreClosed
	}

	// the batch holds on to keys until it is flushed
	keys := make([][]byte, 0, len(blks))
	defer func() {
		for _, k := range keys {
			pool.Put(k)
		}
	}()

	batch := b.db.NewWriteBatch()
	defer batch.Cancel()

	for _, blk := range blks {
		k := b.keys.key(blk.Cid())
		keys = append(keys, k)
		if err := batch.Set(k, blk.RawData()); err != nil {
			return xerrors.Errorf("storing %s: %w", blk.Cid(), err)
		}
	}
	if err := batch.Flush(); err != nil {
		return xerrors.Errorf("storing %d blocks: %w", len(blks), err)
	}
	return nil
}

func (b *Blockstore) DeleteBlock(_ context.Context, c cid.Cid) error {
	if b.closed.Load() {
		return ErrBlockstoreClosed
	}

	k := b.keys.key(c)
	defer pool.Put(k)

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

// AllKeysChan streams the stored keys as raw CIDs. The codec of the CID a
// block was stored under is not kept.
func (b *Blockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	if b.closed.Load() {
		return nil, ErrBlockstoreClosed
	}

	txn := b.db.NewTransaction(false)
	iter := txn.NewIterator(badger.IteratorOptions{
		PrefetchSize: 100,
		Prefix:       b.keys.prefix,
	})

	ch := make(chan cid.Cid)
	go func() {
		defer close(ch)
		defer txn.Discard()
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			// iterators keep running after the database is closed
			if ctx.Err() != nil || b.closed.Load() {
				return
			}

			c, err := b.keys.cid(iter.Item().Key())
			if err != nil {
				log.Warnw("skipping undecodable key", "key", string(iter.Item().Key()), "error", err)
				continue
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// keyer maps CIDs to storage keys: prefix followed by the unpadded base32
// multihash.
type keyer struct {
	prefix []byte
}

// key returns the storage key of c in a pooled buffer. Callers return it
// with pool.Put once badger is done with it.
func (k keyer) key(c cid.Cid) []byte {
	h := c.Hash()
	buf := pool.Get(len(k.prefix) + base32.RawStdEncoding.EncodedLen(len(h)))
	n := copy(buf, k.prefix)
	base32.RawStdEncoding.Encode(buf[n:], h)
	return buf
}

func (k keyer) cid(key []byte) (cid.Cid, error) {
	enc := key[len(k.prefix):]
	mh := make([]byte, base32.RawStdEncoding.DecodedLen(len(enc)))
	n, err := base32.RawStdEncoding.Decode(mh, enc)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh[:n]), nil
}
