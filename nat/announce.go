package nat

import (
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/lib/wire"
)

// Announcement advertises the addresses a peer can be reached on.
type Announcement struct {
	Peer  []byte
	Addrs [][]byte
}

func init() {
	wire.Register(Announcement{})
}

func NewAnnouncement(self peer.ID, addrs []ma.Multiaddr) *Announcement {
	a := &Announcement{Peer: []byte(self)}
	for _, addr := range addrs {
		a.Addrs = append(a.Addrs, addr.Bytes())
	}
	return a
}

func (a *Announcement) Marshal() ([]byte, error) {
	return wire.Encode(a)
}

// ParseAnnouncement decodes an announcement, skipping unparsable addresses.
func ParseAnnouncement(data []byte) (peer.AddrInfo, error) {
	var a Announcement
	if err := wire.Decode(data, &a); err != nil {
		return peer.AddrInfo{}, err
	}
	id, err := peer.IDFromBytes(a.Peer)
	if err != nil {
		return peer.AddrInfo{}, xerrors.Errorf("announcement peer id: %w", err)
	}
	ai := peer.AddrInfo{ID: id}
	for _, b := range a.Addrs {
		addr, err := ma.NewMultiaddrBytes(b)
		if err != nil {
			log.Debugw("skipping bad announced address", "peer", id, "error", err)
			continue
		}
		ai.Addrs = append(ai.Addrs, addr)
	}
	return ai, nil
}
