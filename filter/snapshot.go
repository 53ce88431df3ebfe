package filter

import (
	"encoding/json"
	"math/bits"

	"github.com/ipfs/bbloom"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/lib/wire"
)

// SnapshotVersion is bumped on incompatible changes to the snapshot layout.
const SnapshotVersion = 1

// maxBitsSize bounds the decompressed filter so a hostile peer cannot make
// us allocate without limit.
const maxBitsSize = 64 << 20

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBitsSize))
)

// Snapshot is the serialized form of a Filter as gossiped to peers.
type Snapshot struct {
	Format  uint64
	Epoch   uint64
	Version uint64
	// zstd compressed bbloom encoding
	Bits []byte
}

func init() {
	wire.Register(Snapshot{})
}

// Snapshot captures the current state of f. It holds a read lock while the
// bits are encoded, so callers should run it off the event loop.
func (f *Filter) Snapshot() (*Snapshot, error) {
	f.lk.RLock()
	raw := f.bf.JSONMarshal()
	version := f.version
	f.lk.RUnlock()

	if raw == nil {
		return nil, xerrors.Errorf("encoding bloom filter failed")
	}

	return &Snapshot{
		Format:  SnapshotVersion,
		Epoch:   f.epoch,
		Version: version,
		Bits:    encoder.EncodeAll(raw, nil),
	}, nil
}

// Filter rebuilds a read-only filter from the snapshot.
func (s *Snapshot) Filter() (*Filter, error) {
	if s.Format != SnapshotVersion {
		return nil, xerrors.Errorf("unsupported filter snapshot format %d", s.Format)
	}

	raw, err := decoder.DecodeAll(s.Bits, nil)
	if err != nil {
		return nil, xerrors.Errorf("decompressing filter: %w", err)
	}

	if err := checkBloom(raw); err != nil {
		return nil, xerrors.Errorf("decoding filter: %w", err)
	}
	bf, err := bbloom.JSONUnmarshal(raw)
	if err != nil {
		return nil, xerrors.Errorf("decoding filter: %w", err)
	}

	return &Filter{bf: bf, epoch: s.Epoch, version: s.Version}, nil
}

const (
	minBloomBits = 512
	maxSetLocs   = 64
)

// bloomFields mirrors the JSON layout written by bbloom.
type bloomFields struct {
	FilterSet []byte
	SetLocs   uint64
}

// checkBloom rejects encodings bbloom would index out of range on or that
// would make lookups loop for too long. bbloom sizes its bitset from the
// bit count rounded up to a power of two, so only exact powers are safe.
func checkBloom(raw []byte) error {
	var bf bloomFields
	if err := json.Unmarshal(raw, &bf); err != nil {
		return err
	}
	n := uint64(len(bf.FilterSet))
	if n == 0 || n%8 != 0 {
		return xerrors.Errorf("bitset length %d is not a non-zero multiple of 8", n)
	}
	if nbits := n * 8; nbits < minBloomBits || bits.OnesCount64(nbits) != 1 {
		return xerrors.Errorf("bitset size %d is not a power of two of at least %d bits", nbits, minBloomBits)
	}
	if bf.SetLocs < 1 || bf.SetLocs > maxSetLocs {
		return xerrors.Errorf("hash location count %d out of range", bf.SetLocs)
	}
	return nil
}

// Marshal encodes the snapshot for the wire.
func (s *Snapshot) Marshal() ([]byte, error) {
	return wire.Encode(s)
}

// UnmarshalSnapshot decodes a snapshot produced by Marshal.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := wire.Decode(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
