package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/ursa-network/ursa/build"
)

// Distribution
var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 3000, 4000, 5000, 7500, 10000, 20000, 50000, 100000)
var blockSizeDistribution = view.Distribution(256, 1<<10, 4<<10, 16<<10, 64<<10, 256<<10, 1<<20, 2<<20, 4<<20)

// Global Tags
var (
	// common
	Version, _ = tag.NewKey("version")
	Commit, _  = tag.NewKey("commit")

	// exchange
	PeerID, _      = tag.NewKey("peer_id")
	FailureType, _ = tag.NewKey("failure_type")
	MessageKind, _ = tag.NewKey("kind")
	Outcome, _     = tag.NewKey("outcome") // found / not_found / timeout / canceled

	// gossip
	Topic, _ = tag.NewKey("topic")
)

// Measures
var (
	UrsaInfo  = stats.Int64("info", "Arbitrary counter to tag ursa info to", stats.UnitDimensionless)
	PeerCount = stats.Int64("peer/count", "Current number of connected peers", stats.UnitDimensionless)

	FetchRequested    = stats.Int64("fetch/requested", "Number of fetch requests", stats.UnitDimensionless)
	FetchLocal        = stats.Int64("fetch/local", "Number of fetches served from the local store", stats.UnitDimensionless)
	FetchCoalesced    = stats.Int64("fetch/coalesced", "Number of fetches joining an in-flight operation", stats.UnitDimensionless)
	FetchCompleted    = stats.Int64("fetch/completed", "Number of finished network fetch operations", stats.UnitDimensionless)
	FetchDuration     = stats.Float64("fetch/duration_ms", "Duration of network fetch operations", stats.UnitMilliseconds)
	WantSent          = stats.Int64("exchange/want_sent", "Counter for sent want messages", stats.UnitDimensionless)
	WantTimedOut      = stats.Int64("exchange/want_timeout", "Counter for wants that timed out", stats.UnitDimensionless)
	BlockReceived     = stats.Int64("exchange/block_received", "Counter for received blocks", stats.UnitDimensionless)
	BlockInvalid      = stats.Int64("exchange/block_invalid", "Counter for blocks failing cid validation", stats.UnitDimensionless)
	BlockServed       = stats.Int64("exchange/block_served", "Counter for blocks sent to peers", stats.UnitDimensionless)
	BlockSize         = stats.Int64("exchange/block_size", "Size of received blocks", stats.UnitBytes)
	ProtocolErrors    = stats.Int64("exchange/protocol_error", "Counter for peer protocol violations", stats.UnitDimensionless)
	ProviderLookups   = stats.Int64("discovery/lookups", "Counter for routing provider lookups", stats.UnitDimensionless)
	ProvidersFound    = stats.Int64("discovery/providers_found", "Counter for providers returned by lookups", stats.UnitDimensionless)
	FilterBroadcasts  = stats.Int64("filter/broadcast", "Counter for filter snapshot broadcasts", stats.UnitDimensionless)
	FilterUpdates     = stats.Int64("filter/update", "Counter for accepted peer filter snapshots", stats.UnitDimensionless)
	PubsubPublished   = stats.Int64("pubsub/published", "Counter for total published messages", stats.UnitDimensionless)
	PubsubDelivered   = stats.Int64("pubsub/delivered", "Counter for total delivered messages", stats.UnitDimensionless)
	PubsubRejected    = stats.Int64("pubsub/rejected", "Counter for total rejected messages", stats.UnitDimensionless)
	PubsubDuplicate   = stats.Int64("pubsub/duplicate", "Counter for total duplicate messages", stats.UnitDimensionless)
	DialFailures      = stats.Int64("swarm/dial_failure", "Counter for failed dials after retries", stats.UnitDimensionless)
	WorkerQueueLength = stats.Int64("swarm/worker_pending", "Number of submitted but unfinished worker tasks", stats.UnitDimensionless)
)

var (
	InfoView = &view.View{
		Name:        "info",
		Description: "Ursa node information",
		Measure:     UrsaInfo,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit},
	}
	PeerCountView = &view.View{
		Measure:     PeerCount,
		Aggregation: view.LastValue(),
	}
	FetchRequestedView = &view.View{
		Measure:     FetchRequested,
		Aggregation: view.Count(),
	}
	FetchLocalView = &view.View{
		Measure:     FetchLocal,
		Aggregation: view.Count(),
	}
	FetchCoalescedView = &view.View{
		Measure:     FetchCoalesced,
		Aggregation: view.Count(),
	}
	FetchCompletedView = &view.View{
		Measure:     FetchCompleted,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Outcome},
	}
	FetchDurationView = &view.View{
		Measure:     FetchDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Outcome},
	}
	WantSentView = &view.View{
		Measure:     WantSent,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{MessageKind},
	}
	WantTimedOutView = &view.View{
		Measure:     WantTimedOut,
		Aggregation: view.Count(),
	}
	BlockReceivedView = &view.View{
		Measure:     BlockReceived,
		Aggregation: view.Count(),
	}
	BlockInvalidView = &view.View{
		Measure:     BlockInvalid,
		Aggregation: view.Count(),
	}
	BlockServedView = &view.View{
		Measure:     BlockServed,
		Aggregation: view.Count(),
	}
	BlockSizeView = &view.View{
		Measure:     BlockSize,
		Aggregation: blockSizeDistribution,
	}
	ProtocolErrorsView = &view.View{
		Measure:     ProtocolErrors,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{FailureType},
	}
	ProviderLookupsView = &view.View{
		Measure:     ProviderLookups,
		Aggregation: view.Count(),
	}
	ProvidersFoundView = &view.View{
		Measure:     ProvidersFound,
		Aggregation: view.Sum(),
	}
	FilterBroadcastsView = &view.View{
		Measure:     FilterBroadcasts,
		Aggregation: view.Count(),
	}
	FilterUpdatesView = &view.View{
		Measure:     FilterUpdates,
		Aggregation: view.Count(),
	}
	PubsubPublishedView = &view.View{
		Measure:     PubsubPublished,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Topic},
	}
	PubsubDeliveredView = &view.View{
		Measure:     PubsubDelivered,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Topic},
	}
	PubsubRejectedView = &view.View{
		Measure:     PubsubRejected,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Topic, FailureType},
	}
	PubsubDuplicateView = &view.View{
		Measure:     PubsubDuplicate,
		Aggregation: view.Count(),
	}
	DialFailuresView = &view.View{
		Measure:     DialFailures,
		Aggregation: view.Count(),
	}
	WorkerQueueLengthView = &view.View{
		Measure:     WorkerQueueLength,
		Aggregation: view.LastValue(),
	}
)

var views = []*view.View{
	InfoView,
	PeerCountView,
}

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = func() []*view.View {
	return views
}()

var NodeViews = append([]*view.View{
	FetchRequestedView,
	FetchLocalView,
	FetchCoalescedView,
	FetchCompletedView,
	FetchDurationView,
	WantSentView,
	WantTimedOutView,
	BlockReceivedView,
	BlockInvalidView,
	BlockServedView,
	BlockSizeView,
	ProtocolErrorsView,
	ProviderLookupsView,
	ProvidersFoundView,
	FilterBroadcastsView,
	FilterUpdatesView,
	PubsubPublishedView,
	PubsubDeliveredView,
	PubsubRejectedView,
	PubsubDuplicateView,
	DialFailuresView,
	WorkerQueueLengthView,
}, DefaultViews...)

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Milliseconds())
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}

// AddVersionTags tags ctx with the running build so the info measure can be recorded against it.
func AddVersionTags(ctx context.Context) context.Context {
	ctx, _ = tag.New(ctx,
		tag.Upsert(Version, build.BuildVersion),
		tag.Upsert(Commit, build.CurrentCommit),
	)
	return ctx
}

// Tagged returns ctx with a single tag upserted; errors are dropped since keys are static.
func Tagged(ctx context.Context, k tag.Key, v string) context.Context {
	ctx, _ = tag.New(ctx, tag.Upsert(k, v))
	return ctx
}
