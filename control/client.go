package control

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/lib/wire"
)

// Send opens a stream to p, sends req and waits for the response. Failing
// to reach p is a TransportError; an undecodable response is a
// ProtocolError. A response with a non-Ok status is returned as is.
func Send(ctx context.Context, h host.Host, p peer.ID, req *Request) (*Response, error) {
	stream, err := h.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return nil, &neterr.TransportError{Peer: p, Err: xerrors.Errorf("opening control stream: %w", err)}
	}
	defer stream.Close() //nolint:errcheck

	deadline := time.Now().Add(WriteReqDeadline)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = stream.SetWriteDeadline(deadline)
	if err := wire.WriteMsg(stream, req); err != nil {
		_ = stream.Reset()
		return nil, &neterr.TransportError{Peer: p, Err: xerrors.Errorf("writing control request: %w", err)}
	}
	_ = stream.SetWriteDeadline(time.Time{})
	if err := stream.CloseWrite(); err != nil {
		log.Debugw("closing write side of control stream", "peer", p, "error", err)
	}

	deadline = time.Now().Add(ReadResDeadline)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = stream.SetReadDeadline(deadline)
	data, err := wire.NewReader(stream).ReadMsg()
	if err != nil {
		_ = stream.Reset()
		return nil, &neterr.TransportError{Peer: p, Err: xerrors.Errorf("reading control response: %w", err)}
	}

	var resp Response
	if err := wire.Decode(data, &resp); err != nil {
		return nil, &neterr.ProtocolError{Peer: p, Protocol: string(ProtocolID), Err: err}
	}
	if resp.Version != ProtocolVersion {
		return nil, &neterr.ProtocolError{
			Peer:     p,
			Protocol: string(ProtocolID),
			Err:      xerrors.Errorf("unsupported response version %d", resp.Version),
		}
	}
	return &resp, nil
}
