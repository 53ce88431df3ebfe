package control

import (
	"context"
	"time"

	inet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ursa-network/ursa/lib/wire"
)

// Handler processes a validated request. It must always return a response.
type Handler interface {
	HandleRequest(ctx context.Context, p peer.ID, req *Request) *Response
}

type HandlerFunc func(ctx context.Context, p peer.ID, req *Request) *Response

func (f HandlerFunc) HandleRequest(ctx context.Context, p peer.ID, req *Request) *Response {
	return f(ctx, p, req)
}

// Server answers control requests.
type Server struct {
	handler Handler
	// bounds the time the handler may take
	handleTimeout time.Duration
}

func NewServer(h Handler) *Server {
	return &Server{handler: h, handleTimeout: 30 * time.Second}
}

// HandleStream reads one request, answers it and closes the stream.
func (s *Server) HandleStream(stream inet.Stream) {
	defer stream.Close() //nolint:errcheck

	p := stream.Conn().RemotePeer()

	_ = stream.SetReadDeadline(time.Now().Add(ReadReqDeadline))
	var req Request
	if err := wire.ReadMsg(wire.NewReader(stream), &req); err != nil {
		_ = stream.SetReadDeadline(time.Time{})
		log.Warnw("failed to read control request", "peer", p, "error", err)
		s.respond(stream, NewResponse(BadRequest, "malformed request"))
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	log.Debugw("control request", "peer", p, "kind", req.Kind)

	resp := validate(&req)
	if resp == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.handleTimeout)
		resp = s.handler.HandleRequest(ctx, p, &req)
		cancel()
	}
	if resp == nil {
		resp = NewResponse(InternalError, "no response")
	}
	s.respond(stream, resp)
}

func (s *Server) respond(stream inet.Stream, resp *Response) {
	_ = stream.SetDeadline(time.Now().Add(WriteResDeadline))
	if err := wire.WriteMsg(stream, resp); err != nil {
		_ = stream.SetDeadline(time.Time{})
		log.Warnw("failed to write back response for control stream",
			"err", err, "peer", stream.Conn().RemotePeer())
		return
	}
	_ = stream.SetDeadline(time.Time{})
}
