package badgerbs

import (
	"context"
	"testing"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/ursa-network/ursa/blockstore"
)

func openTestStore(t *testing.T, prefix string) *Blockstore {
	opts := DefaultOptions(t.TempDir())
	opts.Prefix = prefix
	opts.SyncWrites = false

	bs, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return bs
}

func TestBadgerPutGet(t *testing.T) {
	for _, prefix := range []string{"", "/blocks/"} {
		t.Run("prefix="+prefix, func(t *testing.T) {
			ctx := context.Background()
			bs := openTestStore(t, prefix)

			b := blocks.NewBlock([]byte("some data"))
			_, err := bs.Get(ctx, b.Cid())
			require.True(t, blockstore.IsNotFound(err))

			require.NoError(t, bs.Put(ctx, b))

			has, err := bs.Has(ctx, b.Cid())
			require.NoError(t, err)
			require.True(t, has)

			got, err := bs.Get(ctx, b.Cid())
			require.NoError(t, err)
			require.Equal(t, b.RawData(), got.RawData())

			size, err := bs.GetSize(ctx, b.Cid())
			require.NoError(t, err)
			require.Equal(t, len(b.RawData()), size)

			require.NoError(t, bs.DeleteBlock(ctx, b.Cid()))
			has, err = bs.Has(ctx, b.Cid())
			require.NoError(t, err)
			require.False(t, has)
		})
	}
}

func TestBadgerAllKeysChan(t *testing.T) {
	ctx := context.Background()
	bs := openTestStore(t, "")

	var blks []blocks.Block
	for _, d := range []string{"a", "b", "c"} {
		blks = append(blks, blocks.NewBlock([]byte(d)))
	}
	require.NoError(t, bs.PutMany(ctx, blks))

	ch, err := bs.AllKeysChan(ctx)
	require.NoError(t, err)

	seen := map[string]bool{}
	for c := range ch {
		require.Equal(t, uint64(cid.Raw), c.Prefix().Codec)
		seen[string(c.Hash())] = true
	}
	require.Len(t, seen, 3)
	for _, b := range blks {
		require.True(t, seen[string(b.Cid().Hash())])
	}
}

func TestBadgerClosed(t *testing.T) {
	ctx := context.Background()
	bs := openTestStore(t, "")
	require.NoError(t, bs.Close())

	_, err := bs.Has(ctx, blocks.NewBlock([]byte("x")).Cid())
	require.ErrorIs(t, err, ErrBlockstoreClosed)
}

func TestBadgerCollectGarbage(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions(t.TempDir())
	opts.SyncWrites = false
	opts.ValueThreshold = 64
	opts.ValueLogFileSize = 1 << 20

	bs, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	var blks []blocks.Block
	for i := 0; i < 64; i++ {
		data := make([]byte, 64<<10)
		data[0], data[1] = byte(i), byte(i>>8)
		blks = append(blks, blocks.NewBlock(data))
	}
	require.NoError(t, bs.PutMany(ctx, blks))
	for _, b := range blks[:48] {
		require.NoError(t, bs.DeleteBlock(ctx, b.Cid()))
	}

	_, err = bs.CollectGarbage(ctx, 0.5)
	require.NoError(t, err)

	// survivors are untouched
	for _, b := range blks[48:] {
		got, err := bs.Get(ctx, b.Cid())
		require.NoError(t, err)
		require.Equal(t, b.RawData(), got.RawData())
	}

	require.NoError(t, bs.Close())
	_, err = bs.CollectGarbage(ctx, 0.5)
	require.ErrorIs(t, err, ErrBlockstoreClosed)
}
