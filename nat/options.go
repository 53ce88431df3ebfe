// Package nat configures libp2p's NAT traversal services and tracks the
// node's externally reachable addresses.
package nat

import (
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
)

type Config struct {
	// EnableNATService answers AutoNAT dial-back requests for other peers.
	EnableNATService bool
	// EnablePortMap tries UPnP/NAT-PMP port mappings on the gateway.
	EnablePortMap      bool
	EnableHolePunching bool
	// EnableRelayClient lets the node listen through StaticRelays when it
	// is not publicly reachable.
	EnableRelayClient bool
	// EnableRelayService makes the node act as a relay for others.
	EnableRelayService bool
	StaticRelays       []peer.AddrInfo

	// ObservedAddrThreshold is the number of distinct peers that must report
	// an address before it is advertised.
	ObservedAddrThreshold int
}

func DefaultConfig() Config {
	return Config{
		EnableNATService:      true,
		EnablePortMap:         true,
		EnableHolePunching:    true,
		EnableRelayClient:     true,
		ObservedAddrThreshold: 3,
	}
}

// Options translates cfg into libp2p host options.
func Options(cfg Config) []libp2p.Option {
	var opts []libp2p.Option
	if cfg.EnableNATService {
		opts = append(opts, libp2p.EnableNATService())
	}
	if cfg.EnablePortMap {
		opts = append(opts, libp2p.NATPortMap())
	}

	relay := cfg.EnableRelayClient || cfg.EnableRelayService
	if !relay {
		opts = append(opts, libp2p.DisableRelay())
	} else {
		opts = append(opts, libp2p.EnableRelay())
	}
	if cfg.EnableRelayService {
		opts = append(opts, libp2p.EnableRelayService())
	}
	if cfg.EnableRelayClient && len(cfg.StaticRelays) > 0 {
		opts = append(opts, libp2p.EnableAutoRelayWithStaticRelays(cfg.StaticRelays))
	}

	// hole punching needs the relay transport for the initial connection
	if cfg.EnableHolePunching && relay {
		opts = append(opts, libp2p.EnableHolePunching())
	}
	return opts
}
