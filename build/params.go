package build

import "github.com/libp2p/go-libp2p/core/protocol"

// Protocol identifiers. Bumping a version makes the node incompatible with
// peers on the old one.
const (
	DhtProtocolPrefix protocol.ID = "/ursa"

	ExchangeProtocolID protocol.ID = "/ursa/exchange/1.0.0"
	ControlProtocolID  protocol.ID = "/ursa/control/1.0.0"
)

// Gossip topics.
const (
	FilterTopic = "/ursa/filter/1.0.0"
	PeersTopic  = "/ursa/peers/1.0.0"
	GlobalTopic = "/ursa/global"
)
