package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

type testMsg struct {
	Version uint64
	Kind    uint64
	Cids    []cid.Cid
	Data    []byte
}

func init() {
	Register(testMsg{})
}

func TestFramedStream(t *testing.T) {
	mh, err := multihash.Sum([]byte("hello"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, mh)

	var buf bytes.Buffer
	require.NoError(t, WriteMsg(&buf, &testMsg{Version: 1, Kind: 2, Cids: []cid.Cid{c}, Data: []byte("a")}))
	require.NoError(t, WriteMsg(&buf, &testMsg{Version: 1, Kind: 3}))

	r := NewReader(&buf)

	var first, second testMsg
	require.NoError(t, ReadMsg(r, &first))
	require.NoError(t, ReadMsg(r, &second))
	require.Equal(t, uint64(2), first.Kind)
	require.True(t, first.Cids[0].Equals(c))
	require.Equal(t, []byte("a"), first.Data)
	require.Equal(t, uint64(3), second.Kind)

	var third testMsg
	require.ErrorIs(t, ReadMsg(r, &third), io.EOF)
}

func TestDecodeGarbage(t *testing.T) {
	var m testMsg
	require.Error(t, Decode([]byte{0xff, 0x00, 0x13}, &m))
}
