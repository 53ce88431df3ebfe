package addrutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddressesGroupsByPeer(t *testing.T) {
	const id = "QmTd6UvR47vUidRNZ1ZKXHrAFhqTJAD27rKL9XYghEKgKX"
	infos, err := ParseAddresses(context.Background(), []string{
		"/ip4/1.2.3.4/tcp/6009/p2p/" + id,
		"/ip4/1.2.3.4/udp/6009/quic-v1/p2p/" + id,
	})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, id, infos[0].ID.String())
	require.Len(t, infos[0].Addrs, 2)
}

func TestParseAddressesRejectsGarbage(t *testing.T) {
	_, err := ParseAddresses(context.Background(), []string{"not-a-multiaddr"})
	require.Error(t, err)
}
