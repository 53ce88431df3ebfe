package swarm

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ursa-network/ursa/discovery"
	"github.com/ursa-network/ursa/exchange"
	"github.com/ursa-network/ursa/filter"
	"github.com/ursa-network/ursa/gossip"
	"github.com/ursa-network/ursa/lib/retry"
	"github.com/ursa-network/ursa/peermgr"
)

type Config struct {
	Exchange  exchange.Config
	Discovery discovery.Config
	Peers     peermgr.Config

	// Workers bounds concurrent verification and storage tasks.
	Workers int
	// Dial is the retry policy for explicit dials.
	Dial retry.Policy

	FilterCapacity          uint64
	FilterFalsePositiveRate float64
	SeenCacheSize           int

	// ObservedAddrThreshold is the number of peers that must report the same
	// external address before it is advertised.
	ObservedAddrThreshold int
	StaticRelays          []peer.AddrInfo

	// ReplicationFactor is the number of peers asked to cache a block on
	// Replicate.
	ReplicationFactor int

	// EnableMDNS dials peers found on the local network under
	// MDNSServiceName.
	EnableMDNS      bool
	MDNSServiceName string

	// A zero interval disables the timer.
	FilterBroadcastInterval   time.Duration
	ProviderRepublishInterval time.Duration
	WantSweepInterval         time.Duration
	LivenessSweepInterval     time.Duration
	RandomWalkInterval        time.Duration

	// EventQueueSize is the capacity of the loop's inbound event queue.
	// Producers block when it is full.
	EventQueueSize int
}

func DefaultConfig() Config {
	return Config{
		Exchange:  exchange.DefaultConfig(),
		Discovery: discovery.DefaultConfig(),
		Peers:     peermgr.DefaultConfig(),

		Workers: 8,
		Dial: retry.Policy{
			Attempts: 3,
			Min:      500 * time.Millisecond,
			Max:      5 * time.Second,
		},

		FilterCapacity:          filter.DefaultCapacity,
		FilterFalsePositiveRate: filter.DefaultFalsePositiveRate,
		SeenCacheSize:           gossip.DefaultSeenCacheSize,

		ObservedAddrThreshold: 4,
		ReplicationFactor:     3,

		MDNSServiceName: "_ursa-discovery",

		FilterBroadcastInterval:   30 * time.Second,
		ProviderRepublishInterval: 12 * time.Hour,
		WantSweepInterval:         time.Second,
		LivenessSweepInterval:     time.Minute,
		RandomWalkInterval:        5 * time.Minute,

		EventQueueSize: 1024,
	}
}
