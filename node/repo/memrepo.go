package repo

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/node/config"
)

// MemRepo keeps everything in memory. It backs ephemeral nodes and tests.
type MemRepo struct {
	repoLock chan struct{}

	datastore  datastore.Batching
	blockstore blockstore.Blockstore

	keyLk sync.Mutex
	key   crypto.PrivKey

	config struct {
		sync.Mutex
		val *config.Root
	}
}

var _ Repo = &MemRepo{}

// NewMemory creates a memory repo holding cfg, or the defaults if cfg is
// nil.
func NewMemory(cfg *config.Root) *MemRepo {
	if cfg == nil {
		cfg = config.DefaultRoot()
	}
	mr := &MemRepo{
		repoLock:   make(chan struct{}, 1),
		datastore:  dssync.MutexWrap(datastore.NewMapDatastore()),
		blockstore: blockstore.NewMemorySync(),
	}
	mr.config.val = cfg
	return mr
}

func (mem *MemRepo) Lock() (LockedRepo, error) {
	select {
	case mem.repoLock <- struct{}{}:
	default:
		return nil, ErrRepoAlreadyLocked
	}
	return &lockedMemRepo{mem: mem}, nil
}

type lockedMemRepo struct {
	mem *MemRepo

	lk     sync.Mutex
	closed bool
}

func (lmem *lockedMemRepo) checkToken() error {
	lmem.lk.Lock()
	defer lmem.lk.Unlock()
	if lmem.closed {
		return ErrClosedRepo
	}
	return nil
}

func (lmem *lockedMemRepo) Path() string {
	return ""
}

func (lmem *lockedMemRepo) Close() error {
	lmem.lk.Lock()
	defer lmem.lk.Unlock()
	if lmem.closed {
		return ErrClosedRepo
	}
	lmem.closed = true
	<-lmem.mem.repoLock
	return nil
}

func (lmem *lockedMemRepo) Datastore(_ context.Context, ns string) (datastore.Batching, error) {
	if err := lmem.checkToken(); err != nil {
		return nil, err
	}
	return namespace.Wrap(lmem.mem.datastore, datastore.NewKey(ns)), nil
}

func (lmem *lockedMemRepo) Blockstore(_ context.Context) (blockstore.Blockstore, error) {
	if err := lmem.checkToken(); err != nil {
		return nil, err
	}
	return lmem.mem.blockstore, nil
}

func (lmem *lockedMemRepo) Config() (*config.Root, error) {
	if err := lmem.checkToken(); err != nil {
		return nil, err
	}
	lmem.mem.config.Lock()
	defer lmem.mem.config.Unlock()
	cfg := *lmem.mem.config.val
	return &cfg, nil
}

func (lmem *lockedMemRepo) SetConfig(c func(*config.Root)) error {
	if err := lmem.checkToken(); err != nil {
		return err
	}
	lmem.mem.config.Lock()
	defer lmem.mem.config.Unlock()
	cfg := *lmem.mem.config.val
	c(&cfg)
	lmem.mem.config.val = &cfg
	return nil
}

func (lmem *lockedMemRepo) Libp2pIdentity() (crypto.PrivKey, error) {
	if err := lmem.checkToken(); err != nil {
		return nil, err
	}
	lmem.mem.keyLk.Lock()
	defer lmem.mem.keyLk.Unlock()
	if lmem.mem.key == nil {
		pk, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, xerrors.Errorf("generating identity: %w", err)
		}
		lmem.mem.key = pk
	}
	return lmem.mem.key, nil
}
