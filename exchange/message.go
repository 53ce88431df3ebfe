package exchange

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/lib/wire"
)

// ProtocolID is the libp2p protocol the exchange streams are opened with.
const ProtocolID = build.ExchangeProtocolID

// MessageVersion is carried by every message.
const MessageVersion = 1

type Kind uint64

const (
	WantHave Kind = iota + 1
	WantBlock
	Cancel
	Have
	DontHave
	Block
)

func (k Kind) String() string {
	switch k {
	case WantHave:
		return "want-have"
	case WantBlock:
		return "want-block"
	case Cancel:
		return "cancel"
	case Have:
		return "have"
	case DontHave:
		return "dont-have"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
}

// IsRequest is true for kinds sent by a fetching client.
func (k Kind) IsRequest() bool {
	return k == WantHave || k == WantBlock || k == Cancel
}

type Message struct {
	Version uint64
	Kind    Kind
	Cid     cid.Cid
	// only set on Block
	Data []byte
}

func init() {
	wire.Register(Message{})
}

func NewMessage(k Kind, c cid.Cid) *Message {
	return &Message{Version: MessageVersion, Kind: k, Cid: c}
}

func NewBlockMessage(c cid.Cid, data []byte) *Message {
	return &Message{Version: MessageVersion, Kind: Block, Cid: c, Data: data}
}

// Validate checks the fields a decoder cannot: version, kind and shape.
func (m *Message) Validate() error {
	if m.Version != MessageVersion {
		return xerrors.Errorf("unsupported message version %d", m.Version)
	}
	if m.Kind < WantHave || m.Kind > Block {
		return xerrors.Errorf("unknown message kind %d", uint64(m.Kind))
	}
	if !m.Cid.Defined() {
		return xerrors.Errorf("%s message without cid", m.Kind)
	}
	if m.Kind != Block && len(m.Data) > 0 {
		return xerrors.Errorf("%s message carries %d bytes of data", m.Kind, len(m.Data))
	}
	return nil
}
