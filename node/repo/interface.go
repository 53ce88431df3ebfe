package repo

import (
	"context"

	"github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/node/config"
)

var (
	ErrRepoAlreadyLocked = xerrors.New("repo is already locked")
	ErrClosedRepo        = xerrors.New("repo is no longer open")
	ErrRepoExists        = xerrors.New("repo exists")
)

type Repo interface {
	// Lock locks the repo for exclusive use.
	Lock() (LockedRepo, error)
}

type LockedRepo interface {
	// Close closes repo and removes lock.
	Close() error

	// Path returns the repo directory. It is empty for in-memory repos.
	Path() string

	// Datastore returns the datastore mounted at namespace. Used for the
	// DHT's provider and record tables.
	Datastore(ctx context.Context, namespace string) (datastore.Batching, error)

	// Blockstore returns the content store.
	Blockstore(ctx context.Context) (blockstore.Blockstore, error)

	// Config returns the config in this repo.
	Config() (*config.Root, error)
	SetConfig(func(*config.Root)) error

	// Libp2pIdentity returns the host's private key, generating and
	// persisting one on first use.
	Libp2pIdentity() (crypto.PrivKey, error)
}
