// Package filter implements the availability filter a node gossips to
// advertise the content it holds, and the table of filters received from
// other peers.
package filter

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/ipfs/bbloom"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("filter")

const (
	DefaultCapacity          = 100_000
	DefaultFalsePositiveRate = 0.01
)

// Filter is a bloom filter over content multihashes. It never yields false
// negatives for keys added to it. Every Add bumps the version so receivers
// can tell a newer snapshot from a replayed one.
type Filter struct {
	lk sync.RWMutex
	bf *bbloom.Bloom

	epoch   uint64
	version uint64
	added   uint64
}

// New returns an empty filter sized for capacity entries at fpRate, with a
// fresh random epoch.
func New(capacity uint64, fpRate float64) (*Filter, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		return nil, xerrors.Errorf("false positive rate must be in (0, 1), got %f", fpRate)
	}

	bf, err := bbloom.New(float64(capacity), fpRate)
	if err != nil {
		return nil, xerrors.Errorf("error creating bloom filter: %w", err)
	}

	var epoch [8]byte
	if _, err := rand.Read(epoch[:]); err != nil {
		return nil, xerrors.Errorf("error reading epoch: %w", err)
	}

	return &Filter{bf: bf, epoch: binary.BigEndian.Uint64(epoch[:])}, nil
}

func key(c cid.Cid) []byte {
	return c.Hash()
}

// Add inserts c and returns the new version.
func (f *Filter) Add(c cid.Cid) uint64 {
	f.lk.Lock()
	defer f.lk.Unlock()

	f.bf.Add(key(c))
	f.added++
	f.version++
	return f.version
}

// Has reports whether c may have been added.
func (f *Filter) Has(c cid.Cid) bool {
	f.lk.RLock()
	defer f.lk.RUnlock()
	return f.bf.Has(key(c))
}

func (f *Filter) Version() uint64 {
	f.lk.RLock()
	defer f.lk.RUnlock()
	return f.version
}

func (f *Filter) Epoch() uint64 {
	return f.epoch
}

// Added is the number of Add calls, duplicates included.
func (f *Filter) Added() uint64 {
	f.lk.RLock()
	defer f.lk.RUnlock()
	return f.added
}
