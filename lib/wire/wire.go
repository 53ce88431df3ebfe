// Package wire frames protocol messages as varint length-prefixed CBOR.
package wire

import (
	"io"

	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-msgio"
	"golang.org/x/xerrors"
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = network.MessageSizeMax

// Register makes a message struct type known to the CBOR atlas. Every struct
// type reachable from a message must be registered.
func Register(types ...interface{}) {
	for _, t := range types {
		cbor.RegisterCborType(t)
	}
}

// Encode serializes v without framing.
func Encode(v interface{}) ([]byte, error) {
	data, err := cbor.DumpObject(v)
	if err != nil {
		return nil, xerrors.Errorf("cbor encode: %w", err)
	}
	return data, nil
}

// Decode deserializes data produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	if err := cbor.DecodeInto(data, v); err != nil {
		return xerrors.Errorf("cbor decode: %w", err)
	}
	return nil
}

// NewReader wraps r in a bounded varint frame reader.
func NewReader(r io.Reader) msgio.ReadCloser {
	return msgio.NewVarintReaderSize(r, MaxMessageSize)
}

// WriteMsg encodes v and writes it as one frame.
func WriteMsg(w io.Writer, v interface{}) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	if len(data) > MaxMessageSize {
		return xerrors.Errorf("message too large: %d > %d", len(data), MaxMessageSize)
	}
	return msgio.NewVarintWriter(w).WriteMsg(data)
}

// ReadMsg reads one frame from r and decodes it into v.
func ReadMsg(r msgio.Reader, v interface{}) error {
	data, err := r.ReadMsg()
	if err != nil {
		return err
	}
	return Decode(data, v)
}
