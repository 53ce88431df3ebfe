package neterr

import (
	"errors"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := xerrors.Errorf("dialing: %w", &TransportError{Peer: peer.ID("p"), Err: base})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, peer.ID("p"), te.Peer)
	require.True(t, errors.Is(err, base))

	perr := &ProtocolError{Peer: peer.ID("p"), Protocol: "/x", Err: base}
	require.True(t, errors.Is(perr, base))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(xerrors.Errorf("fetch: %w", ErrNotFound)))
	require.True(t, IsTerminal(ErrTimeout))
	require.False(t, IsTerminal(&InternalError{Op: "want", Err: errors.New("dup")}))
	require.False(t, IsTerminal(nil))
}
