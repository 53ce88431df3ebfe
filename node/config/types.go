package config

// Root is the node configuration, stored as config.toml in the repo.
type Root struct {
	Libp2p    Libp2p
	Routing   Routing
	Gossip    Gossip
	Filter    Filter
	Exchange  Exchange
	Peers     Peers
	NAT       NAT
	Discovery Discovery
	Storage   Storage
	Logging   Logging
}

// Libp2p contains configs for libp2p
type Libp2p struct {
	// ListenAddresses are the multiaddrs the host listens on.
	ListenAddresses []string
	// AnnounceAddresses replace the listen addresses in what we advertise,
	// if set.
	AnnounceAddresses []string
	// BootstrapPeers are dialed on start and used as static relays.
	BootstrapPeers []string

	// BlockedPeers and BlockedSubnets are refused at the connection level.
	// Blocks persist in the repo datastore across restarts.
	BlockedPeers   []string
	BlockedSubnets []string

	ConnMgrLow   uint
	ConnMgrHigh  uint
	ConnMgrGrace Duration

	// MuxerAcceptBacklog bounds the yamux streams a peer may open before we
	// accept them.
	MuxerAcceptBacklog int
	// MuxerMaxStreamWindow caps the yamux receive window per stream, in bytes.
	// Zero keeps the yamux default.
	MuxerMaxStreamWindow uint32
}

type Routing struct {
	// EnableDHT turns the kademlia DHT on. When off the node relies on
	// gossip filters and connected peers only.
	EnableDHT bool
	// DHTMode is one of "auto", "client" or "server".
	DHTMode string
	// Concurrency is the kademlia alpha parameter.
	Concurrency int
	// Resiliency is the kademlia beta parameter.
	Resiliency int
	BucketSize int

	ProviderRecordTTL  Duration
	LookupTimeout      Duration
	MaxProviders       int
	RepublishInterval  Duration
	RandomWalkInterval Duration
}

type Gossip struct {
	SeenCacheSize int
	// FilterBroadcastInterval is how often the local filter is published.
	FilterBroadcastInterval Duration
}

// Filter sizes the local availability filter.
type Filter struct {
	Capacity          uint64
	FalsePositiveRate float64
}

type Exchange struct {
	WantTimeout       Duration
	MaxConcurrentAsks int
	MaxRetries        int
	WantSweepInterval Duration
	// Workers bounds concurrent hashing and storage tasks.
	Workers int
	// ReplicationFactor is how many peers a replicate request asks.
	ReplicationFactor int
	// MaxPendingServes caps the wants a single peer may have waiting on
	// us. Wants beyond it are answered DontHave straight away.
	MaxPendingServes int
}

type Peers struct {
	LivenessWindow        Duration
	LivenessSweepInterval Duration
	AddressBookCapacity   int

	ScoreHalfLife        Duration
	TimeoutPenalty       float64
	InvalidBlockPenalty  float64
	ProtocolErrorPenalty float64
	DeliveryReward       float64

	DialAttempts   int
	DialBackoffMin Duration
	DialBackoffMax Duration
}

type NAT struct {
	EnableNATService   bool
	EnablePortMap      bool
	EnableHolePunching bool
	EnableRelayClient  bool
	EnableRelayService bool
	// ObservedAddrThreshold is the number of peers that must observe the same
	// address before we advertise it.
	ObservedAddrThreshold int
}

type Discovery struct {
	// EnableMDNS finds and dials peers on the local network.
	EnableMDNS bool
	// MDNSServiceName is the mDNS service tag; only peers using the same
	// tag find each other.
	MDNSServiceName string
}

type Storage struct {
	// GCInterval is how often the block store reclaims space left by
	// deleted blocks. Zero disables it.
	GCInterval Duration
	// GCDiscardRatio is the share of stale data a value log file needs
	// before it is rewritten.
	GCDiscardRatio float64
}

type Logging struct {
	// SubsystemLevels overrides log levels per subsystem, e.g.
	// exchange = "debug".
	SubsystemLevels map[string]string
}
