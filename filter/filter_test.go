package filter

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func testCid(i int) cid.Cid {
	return blocks.NewBlock([]byte(fmt.Sprintf("block-%d", i))).Cid()
}

func TestFilterNoFalseNegatives(t *testing.T) {
	f, err := New(10_000, 0.01)
	require.NoError(t, err)

	for i := 0; i < 10_000; i++ {
		f.Add(testCid(i))
	}
	for i := 0; i < 10_000; i++ {
		require.True(t, f.Has(testCid(i)), "missing key %d", i)
	}
	require.EqualValues(t, 10_000, f.Version())
}

func TestFilterFalsePositiveRate(t *testing.T) {
	const n = 10_000
	f, err := New(n, 0.01)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		f.Add(testCid(i))
	}

	fp := 0
	for i := n; i < 2*n; i++ {
		if f.Has(testCid(i)) {
			fp++
		}
	}
	require.Less(t, float64(fp)/n, 0.03)
}

func TestFilterKeyIgnoresCodec(t *testing.T) {
	f, err := New(100, 0.01)
	require.NoError(t, err)

	c := testCid(1)
	f.Add(c)
	require.True(t, f.Has(cid.NewCidV1(cid.DagCBOR, c.Hash())))
}

func TestFilterBadRate(t *testing.T) {
	_, err := New(100, 0)
	require.Error(t, err)
	_, err = New(100, 1)
	require.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	f, err := New(1000, 0.01)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		f.Add(testCid(i))
	}

	snap, err := f.Snapshot()
	require.NoError(t, err)
	data, err := snap.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	rf, err := got.Filter()
	require.NoError(t, err)

	require.Equal(t, f.Epoch(), rf.Epoch())
	require.EqualValues(t, 100, rf.Version())
	for i := 0; i < 100; i++ {
		require.True(t, rf.Has(testCid(i)))
	}
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	s := &Snapshot{Format: SnapshotVersion, Bits: []byte("not zstd")}
	_, err := s.Filter()
	require.Error(t, err)

	s = &Snapshot{Format: SnapshotVersion + 1}
	_, err = s.Filter()
	require.Error(t, err)
}

func TestSnapshotRejectsMalformedBloom(t *testing.T) {
	bitset := func(n int) string {
		return base64.StdEncoding.EncodeToString(make([]byte, n))
	}
	for name, raw := range map[string]string{
		"short bitset":   `{"FilterSet":"AQ==","SetLocs":3}`,
		"empty bitset":   `{"FilterSet":"","SetLocs":3}`,
		"not power of 2": fmt.Sprintf(`{"FilterSet":%q,"SetLocs":3}`, bitset(96)),
		"too small":      fmt.Sprintf(`{"FilterSet":%q,"SetLocs":3}`, bitset(32)),
		"zero locs":      fmt.Sprintf(`{"FilterSet":%q,"SetLocs":0}`, bitset(64)),
		"huge locs":      fmt.Sprintf(`{"FilterSet":%q,"SetLocs":9223372036854775807}`, bitset(64)),
		"not json":       `FilterSet`,
	} {
		t.Run(name, func(t *testing.T) {
			snap := &Snapshot{
				Format: SnapshotVersion,
				Bits:   encoder.EncodeAll([]byte(raw), nil),
			}
			data, err := snap.Marshal()
			require.NoError(t, err)
			got, err := UnmarshalSnapshot(data)
			require.NoError(t, err)

			require.NotPanics(t, func() {
				_, err = got.Filter()
			})
			require.Error(t, err)
		})
	}

	// smallest well formed bitset still decodes
	snap := &Snapshot{
		Format: SnapshotVersion,
		Bits:   encoder.EncodeAll([]byte(fmt.Sprintf(`{"FilterSet":%q,"SetLocs":3}`, bitset(64))), nil),
	}
	f, err := snap.Filter()
	require.NoError(t, err)
	require.False(t, f.Has(testCid(1)))
}

func TestTableReplacement(t *testing.T) {
	p := peer.ID("peer-a")
	now := time.Now()
	tbl := NewTable()

	f1, err := New(100, 0.01)
	require.NoError(t, err)
	f1.Add(testCid(1))
	v1 := cloneVia(t, f1)

	f1.Add(testCid(2))
	v2 := cloneVia(t, f1)

	require.True(t, tbl.Update(p, v2, now))
	require.Equal(t, []peer.ID{p}, tbl.Match(testCid(2)))

	// older version of the same epoch is ignored
	require.False(t, tbl.Update(p, v1, now))
	require.Equal(t, []peer.ID{p}, tbl.Match(testCid(2)))

	// a restarted peer comes back with a new epoch and a low version; the
	// filter is replaced, not merged.
	f2, err := New(100, 0.01)
	require.NoError(t, err)
	f2.Add(testCid(3))
	require.True(t, tbl.Update(p, cloneVia(t, f2), now))
	require.Empty(t, tbl.Match(testCid(2)))
	require.Equal(t, []peer.ID{p}, tbl.Match(testCid(3)))

	tbl.Remove(p)
	require.False(t, tbl.Has(p))
	require.Zero(t, tbl.Len())
}

func cloneVia(t *testing.T, f *Filter) *Filter {
	snap, err := f.Snapshot()
	require.NoError(t, err)
	out, err := snap.Filter()
	require.NoError(t, err)
	return out
}
