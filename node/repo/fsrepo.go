package repo

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	levelds "github.com/ipfs/go-ds-leveldb"
	fslock "github.com/ipfs/go-fs-lock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/mitchellh/go-homedir"
	"github.com/multiformats/go-base32"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/blockstore"
	badgerbs "github.com/ursa-network/ursa/blockstore/badger"
	"github.com/ursa-network/ursa/node/config"
)

const (
	fsConfig    = "config.toml"
	fsDatastore = "datastore"
	fsBlocks    = "blocks"
	fsLock      = "repo.lock"
	fsKeystore  = "keystore"

	identityKey = "libp2p-host"
)

var log = logging.Logger("repo")

// FsRepo is struct for repo, use NewFS to create
type FsRepo struct {
	path       string
	configPath string
}

var _ Repo = &FsRepo{}

// NewFS creates a repo instance based on a path on file system
func NewFS(path string) (*FsRepo, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}

	return &FsRepo{
		path:       path,
		configPath: filepath.Join(path, fsConfig),
	}, nil
}

func (fsr *FsRepo) SetConfigPath(cfgPath string) {
	fsr.configPath = cfgPath
}

func (fsr *FsRepo) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(fsr.path, fsKeystore))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Init creates the repo layout and writes a commented default config. It
// returns ErrRepoExists if the repo is already initialized.
func (fsr *FsRepo) Init() error {
	exist, err := fsr.Exists()
	if err != nil {
		return err
	}
	if exist {
		return ErrRepoExists
	}

	log.Infof("Initializing repo at '%s'", fsr.path)
	err = os.MkdirAll(fsr.path, 0755) //nolint: gosec
	if err != nil && !os.IsExist(err) {
		return err
	}

	if err := fsr.initConfig(); err != nil {
		return xerrors.Errorf("init config: %w", err)
	}

	return os.Mkdir(filepath.Join(fsr.path, fsKeystore), 0700)
}

func (fsr *FsRepo) initConfig() error {
	_, err := os.Stat(fsr.configPath)
	if err == nil {
		// exists
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	comm, err := config.ConfigComment(config.DefaultRoot())
	if err != nil {
		return xerrors.Errorf("comment: %w", err)
	}
	return os.WriteFile(fsr.configPath, comm, 0644)
}

// Lock acquires exclusive lock on this repo
func (fsr *FsRepo) Lock() (LockedRepo, error) {
	locked, err := fslock.Locked(fsr.path, fsLock)
	if err != nil {
		return nil, xerrors.Errorf("could not check lock status: %w", err)
	}
	if locked {
		return nil, ErrRepoAlreadyLocked
	}

	closer, err := fslock.Lock(fsr.path, fsLock)
	if err != nil {
		return nil, xerrors.Errorf("could not lock the repo: %w", err)
	}
	return &fsLockedRepo{
		path:       fsr.path,
		configPath: fsr.configPath,
		closer:     closer,
	}, nil
}

type fsLockedRepo struct {
	path       string
	configPath string
	closer     io.Closer

	ds     datastore.Batching
	dsErr  error
	dsOnce sync.Once

	bs     *badgerbs.Blockstore
	bsErr  error
	bsOnce sync.Once

	configLk sync.Mutex
	keyLk    sync.Mutex
}

func (fsr *fsLockedRepo) Path() string {
	return fsr.path
}

func (fsr *fsLockedRepo) Close() error {
	if err := fsr.stillValid(); err != nil {
		return err
	}

	if fsr.ds != nil {
		if err := fsr.ds.Close(); err != nil {
			return xerrors.Errorf("could not close datastore: %w", err)
		}
	}
	if fsr.bs != nil {
		if err := fsr.bs.Close(); err != nil {
			return xerrors.Errorf("could not close blockstore: %w", err)
		}
	}

	err := fsr.closer.Close()
	fsr.closer = nil
	return err
}

// join joins path elements with fsr.path
func (fsr *fsLockedRepo) join(paths ...string) string {
	return filepath.Join(append([]string{fsr.path}, paths...)...)
}

func (fsr *fsLockedRepo) stillValid() error {
	if fsr.closer == nil {
		return ErrClosedRepo
	}
	return nil
}

func (fsr *fsLockedRepo) Datastore(_ context.Context, ns string) (datastore.Batching, error) {
	if err := fsr.stillValid(); err != nil {
		return nil, err
	}
	fsr.dsOnce.Do(func() {
		path := fsr.join(fsDatastore, "metadata")
		if err := os.MkdirAll(path, 0755); err != nil {
			fsr.dsErr = err
			return
		}
		fsr.ds, fsr.dsErr = levelds.NewDatastore(path, nil)
	})
	if fsr.dsErr != nil {
		return nil, xerrors.Errorf("opening datastore: %w", fsr.dsErr)
	}
	return namespace.Wrap(fsr.ds, datastore.NewKey(ns)), nil
}

// Blockstore returns the badger backed content store.
func (fsr *fsLockedRepo) Blockstore(_ context.Context) (blockstore.Blockstore, error) {
	if err := fsr.stillValid(); err != nil {
		return nil, err
	}
	fsr.bsOnce.Do(func() {
		path := fsr.join(fsDatastore, fsBlocks)
		if err := os.MkdirAll(path, 0755); err != nil {
			fsr.bsErr = err
			return
		}

		opts, err := BadgerBlockstoreOptions(path, false)
		if err != nil {
			fsr.bsErr = err
			return
		}

		//
		// Tri-state environment variable URSA_BADGERSTORE_DISABLE_FSYNC
		// - unset == the default (currently fsync enabled)
		// - set with a false-y value == fsync enabled no matter what a future default is
		// - set with any other value == fsync is disabled ignored defaults
		//
		if nosync, set := os.LookupEnv("URSA_BADGERSTORE_DISABLE_FSYNC"); set {
			nosync = strings.ToLower(nosync)
			opts.SyncWrites = nosync == "" || nosync == "0" || nosync == "false" || nosync == "no"
		}

		fsr.bs, fsr.bsErr = badgerbs.Open(opts)
	})
	if fsr.bsErr != nil {
		return nil, fsr.bsErr
	}
	return fsr.bs, nil
}

func (fsr *fsLockedRepo) Config() (*config.Root, error) {
	fsr.configLk.Lock()
	defer fsr.configLk.Unlock()

	return config.FromFile(fsr.configPath, config.DefaultRoot())
}

func (fsr *fsLockedRepo) SetConfig(c func(*config.Root)) error {
	if err := fsr.stillValid(); err != nil {
		return err
	}

	fsr.configLk.Lock()
	defer fsr.configLk.Unlock()

	cfg, err := config.FromFile(fsr.configPath, config.DefaultRoot())
	if err != nil {
		return err
	}

	// mutate in-memory representation of config
	c(cfg)

	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(fsr.configPath, buf.Bytes(), 0644)
}

var kstrPermissionMsg = "permissions of key: '%s' are too relaxed, " +
	"required: 0600, got: %#o"

func (fsr *fsLockedRepo) keyPath(name string) string {
	return fsr.join(fsKeystore, base32.RawStdEncoding.EncodeToString([]byte(name)))
}

func (fsr *fsLockedRepo) Libp2pIdentity() (crypto.PrivKey, error) {
	if err := fsr.stillValid(); err != nil {
		return nil, err
	}

	fsr.keyLk.Lock()
	defer fsr.keyLk.Unlock()

	keyPath := fsr.keyPath(identityKey)
	fstat, err := os.Stat(keyPath)
	switch {
	case os.IsNotExist(err):
		return fsr.newIdentity(keyPath)
	case err != nil:
		return nil, xerrors.Errorf("opening key '%s': %w", identityKey, err)
	}

	if fstat.Mode()&0077 != 0 {
		return nil, xerrors.Errorf(kstrPermissionMsg, identityKey, fstat.Mode())
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, xerrors.Errorf("reading key '%s': %w", identityKey, err)
	}
	pk, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, xerrors.Errorf("decoding key '%s': %w", identityKey, err)
	}
	return pk, nil
}

func (fsr *fsLockedRepo) newIdentity(keyPath string) (crypto.PrivKey, error) {
	pk, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, xerrors.Errorf("generating identity: %w", err)
	}
	data, err := crypto.MarshalPrivateKey(pk)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(fsr.join(fsKeystore), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, xerrors.Errorf("writing key '%s': %w", identityKey, err)
	}
	log.Infow("generated new libp2p identity", "path", keyPath)
	return pk, nil
}
