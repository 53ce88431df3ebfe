package config

import (
	"encoding"
	"time"
)

// DefaultRoot returns the default node configuration.
func DefaultRoot() *Root {
	return &Root{
		Libp2p: Libp2p{
			ListenAddresses: []string{
				"/ip4/0.0.0.0/tcp/6009",
				"/ip6/::/tcp/6009",
				"/ip4/0.0.0.0/udp/6009/quic-v1",
			},

			ConnMgrLow:   150,
			ConnMgrHigh:  180,
			ConnMgrGrace: Duration(20 * time.Second),

			MuxerAcceptBacklog: 512,
		},
		Routing: Routing{
			EnableDHT:   true,
			DHTMode:     "auto",
			Concurrency: 10,
			Resiliency:  3,
			BucketSize:  20,

			ProviderRecordTTL:  Duration(24 * time.Hour),
			LookupTimeout:      Duration(30 * time.Second),
			MaxProviders:       20,
			RepublishInterval:  Duration(12 * time.Hour),
			RandomWalkInterval: Duration(5 * time.Minute),
		},
		Gossip: Gossip{
			SeenCacheSize:           8192,
			FilterBroadcastInterval: Duration(30 * time.Second),
		},
		Filter: Filter{
			Capacity:          100_000,
			FalsePositiveRate: 0.01,
		},
		Exchange: Exchange{
			WantTimeout:       Duration(10 * time.Second),
			MaxConcurrentAsks: 3,
			MaxRetries:        3,
			WantSweepInterval: Duration(time.Second),
			Workers:           8,
			ReplicationFactor: 3,
			MaxPendingServes:  256,
		},
		Peers: Peers{
			LivenessWindow:        Duration(10 * time.Minute),
			LivenessSweepInterval: Duration(time.Minute),
			AddressBookCapacity:   1024,

			ScoreHalfLife:        Duration(10 * time.Minute),
			TimeoutPenalty:       1,
			InvalidBlockPenalty:  10,
			ProtocolErrorPenalty: 5,
			DeliveryReward:       1,

			DialAttempts:   3,
			DialBackoffMin: Duration(500 * time.Millisecond),
			DialBackoffMax: Duration(5 * time.Second),
		},
		NAT: NAT{
			EnableNATService:      true,
			EnablePortMap:         true,
			EnableHolePunching:    true,
			EnableRelayClient:     true,
			EnableRelayService:    false,
			ObservedAddrThreshold: 4,
		},
		Discovery: Discovery{
			EnableMDNS:      true,
			MDNSServiceName: "_ursa-discovery",
		},
		Storage: Storage{
			GCInterval:     Duration(time.Hour),
			GCDiscardRatio: 0.5,
		},
		Logging: Logging{
			SubsystemLevels: map[string]string{},
		},
	}
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
