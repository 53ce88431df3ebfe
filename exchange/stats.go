package exchange

// Stats are engine counters since start.
type Stats struct {
	FetchesStarted   uint64
	FetchesCoalesced uint64
	ActiveFetches    int

	WantHaveSent     uint64
	WantBlockSent    uint64
	CancelSent       uint64
	HaveReceived     uint64
	DontHaveReceived uint64
	BlocksReceived   uint64
	InvalidBlocks    uint64
	TimedOutWants    uint64

	WantHaveReceived  uint64
	WantBlockReceived uint64
	CancelReceived    uint64
	BlocksServed      uint64
	// ServesRejected counts wants refused because the peer had too many
	// pending.
	ServesRejected uint64
	PendingServes  int
}
