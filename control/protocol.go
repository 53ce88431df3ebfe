// Package control implements the request/response side channel peers use
// for things that do not fit the block exchange: pushing a filter summary
// directly, asking a peer to cache content, and liveness pings.
//
// Every request is sent on a fresh stream that carries exactly one request
// and one response.
package control

import (
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/lib/wire"
)

var log = logging.Logger("control")

const ProtocolID = build.ControlProtocolID

const ProtocolVersion = 1

// MaxCacheRequestCids bounds the cids a single CacheRequest may name.
const MaxCacheRequestCids = 256

const (
	ReadReqDeadline  = 10 * time.Second
	ReadResDeadline  = 30 * time.Second
	WriteReqDeadline = 10 * time.Second
	WriteResDeadline = 10 * time.Second
)

type Kind uint64

const (
	StoreSummary Kind = iota + 1
	CacheRequest
	Ping
)

func (k Kind) String() string {
	switch k {
	case StoreSummary:
		return "store-summary"
	case CacheRequest:
		return "cache-request"
	case Ping:
		return "ping"
	default:
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
}

type Request struct {
	Version uint64
	Kind    Kind

	// StoreSummary: a marshalled filter snapshot
	Summary []byte
	// CacheRequest: content the receiver is asked to fetch from the sender
	Cids []cid.Cid
}

func NewStoreSummary(summary []byte) *Request {
	return &Request{Version: ProtocolVersion, Kind: StoreSummary, Summary: summary}
}

func NewCacheRequest(cids ...cid.Cid) *Request {
	return &Request{Version: ProtocolVersion, Kind: CacheRequest, Cids: cids}
}

func NewPing() *Request {
	return &Request{Version: ProtocolVersion, Kind: Ping}
}

type Status uint64

const (
	Ok Status = iota
	BadRequest
	NotSupported
	InternalError
	Unavailable
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "ok"
	case BadRequest:
		return "bad request"
	case NotSupported:
		return "not supported"
	case InternalError:
		return "internal error"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("status(%d)", uint64(s))
	}
}

type Response struct {
	Version uint64
	Status  Status
	Message string
}

func NewResponse(status Status, msg string) *Response {
	return &Response{Version: ProtocolVersion, Status: status, Message: msg}
}

// Err converts a non-Ok response into an error.
func (r *Response) Err() error {
	if r.Status == Ok {
		return nil
	}
	return xerrors.Errorf("control request failed (%s): %s", r.Status, r.Message)
}

func init() {
	wire.Register(Request{}, Response{})
}

// validate returns a BadRequest response if req cannot be processed.
func validate(req *Request) *Response {
	if req.Version != ProtocolVersion {
		return NewResponse(BadRequest, fmt.Sprintf("unsupported version %d", req.Version))
	}
	switch req.Kind {
	case StoreSummary:
		if len(req.Summary) == 0 {
			return NewResponse(BadRequest, "empty summary")
		}
	case CacheRequest:
		if len(req.Cids) == 0 {
			return NewResponse(BadRequest, "no cids")
		}
		if len(req.Cids) > MaxCacheRequestCids {
			return NewResponse(BadRequest, fmt.Sprintf("too many cids (%d > %d)", len(req.Cids), MaxCacheRequestCids))
		}
	case Ping:
	default:
		return NewResponse(NotSupported, fmt.Sprintf("unknown request kind %d", uint64(req.Kind)))
	}
	return nil
}
