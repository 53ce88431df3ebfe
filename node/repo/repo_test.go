package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/require"

	"github.com/ursa-network/ursa/node/config"
)

func genFsRepo(t *testing.T) *FsRepo {
	repo, err := NewFS(filepath.Join(t.TempDir(), "repo"))
	require.NoError(t, err)
	require.NoError(t, repo.Init())
	return repo
}

func TestFsBasic(t *testing.T) {
	basicTest(t, genFsRepo(t))
}

func TestMemBasic(t *testing.T) {
	basicTest(t, NewMemory(nil))
}

func basicTest(t *testing.T, repo Repo) {
	ctx := context.Background()

	lrepo, err := repo.Lock()
	require.NoError(t, err)

	_, err = repo.Lock()
	require.ErrorIs(t, err, ErrRepoAlreadyLocked)

	cfg, err := lrepo.Config()
	require.NoError(t, err)
	require.Equal(t, config.DefaultRoot().Exchange, cfg.Exchange)

	require.NoError(t, lrepo.SetConfig(func(c *config.Root) {
		c.Exchange.WantTimeout = config.Duration(time.Minute)
	}))

	key, err := lrepo.Libp2pIdentity()
	require.NoError(t, err)

	ds, err := lrepo.Datastore(ctx, "/dht")
	require.NoError(t, err)
	require.NoError(t, ds.Put(ctx, datastore.NewKey("/k"), []byte("v")))

	bs, err := lrepo.Blockstore(ctx)
	require.NoError(t, err)
	blk := blocks.NewBlock([]byte("persisted"))
	require.NoError(t, bs.Put(ctx, blk))

	require.NoError(t, lrepo.Close())
	require.ErrorIs(t, lrepo.Close(), ErrClosedRepo)

	lrepo, err = repo.Lock()
	require.NoError(t, err)
	defer lrepo.Close() //nolint:errcheck

	cfg, err = lrepo.Config()
	require.NoError(t, err)
	require.Equal(t, config.Duration(time.Minute), cfg.Exchange.WantTimeout)

	key2, err := lrepo.Libp2pIdentity()
	require.NoError(t, err)
	require.True(t, key.Equals(key2))

	ds, err = lrepo.Datastore(ctx, "/dht")
	require.NoError(t, err)
	v, err := ds.Get(ctx, datastore.NewKey("/k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	bs, err = lrepo.Blockstore(ctx)
	require.NoError(t, err)
	has, err := bs.Has(ctx, blk.Cid())
	require.NoError(t, err)
	require.True(t, has)
}

func TestFsInitTwice(t *testing.T) {
	repo := genFsRepo(t)
	require.ErrorIs(t, repo.Init(), ErrRepoExists)
}

func TestFsIdentityPermissions(t *testing.T) {
	repo := genFsRepo(t)
	lrepo, err := repo.Lock()
	require.NoError(t, err)
	defer lrepo.Close() //nolint:errcheck

	_, err = lrepo.Libp2pIdentity()
	require.NoError(t, err)

	fsr := lrepo.(*fsLockedRepo)
	require.NoError(t, os.Chmod(fsr.keyPath(identityKey), 0644))
	_, err = lrepo.Libp2pIdentity()
	require.Error(t, err)
}
