package modules

import (
	"context"
	"time"

	"github.com/raulk/clock"
	"go.uber.org/fx"

	"github.com/ursa-network/ursa/blockstore"
	"github.com/ursa-network/ursa/node/config"
	"github.com/ursa-network/ursa/node/modules/helpers"
	"github.com/ursa-network/ursa/node/repo"
)

// ContentBlockstore wraps the repo store so that every newly stored block
// is announced to the swarm. The repo owns the underlying store and closes
// it.
func ContentBlockstore(mctx helpers.MetricsCtx, lr repo.LockedRepo) (*blockstore.NotifyingBlockstore, error) {
	bs, err := lr.Blockstore(mctx)
	if err != nil {
		return nil, err
	}
	return blockstore.NewNotifying(bs), nil
}

// GarbageCollector is implemented by stores that need periodic compaction
// to give back the space of deleted blocks.
type GarbageCollector interface {
	CollectGarbage(ctx context.Context, discardRatio float64) (int, error)
}

type BlockstoreGCIn struct {
	fx.In

	MetricsCtx helpers.MetricsCtx
	Lifecycle  fx.Lifecycle
	Repo       repo.LockedRepo
	Config     *config.Root
	Clock      clock.Clock `optional:"true"`
}

// BlockstoreGC runs garbage collection on the repo block store every
// Storage.GCInterval. Stores that do not collect garbage are left alone.
func BlockstoreGC(in BlockstoreGCIn) error {
	interval := time.Duration(in.Config.Storage.GCInterval)
	if interval <= 0 {
		return nil
	}

	bs, err := in.Repo.Blockstore(in.MetricsCtx)
	if err != nil {
		return err
	}
	gc, ok := bs.(GarbageCollector)
	if !ok {
		return nil
	}

	clk := in.Clock
	if clk == nil {
		clk = clock.New()
	}
	ctx := helpers.LifecycleCtx(in.MetricsCtx, in.Lifecycle)
	in.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go runGC(ctx, clk, gc, interval, in.Config.Storage.GCDiscardRatio)
			return nil
		},
	})
	return nil
}

func runGC(ctx context.Context, clk clock.Clock, gc GarbageCollector, interval time.Duration, ratio float64) {
	t := clk.Ticker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		start := clk.Now()
		n, err := gc.CollectGarbage(ctx, ratio)
		if err != nil {
			if ctx.Err() == nil {
				log.Warnw("block store gc failed", "error", err)
			}
			continue
		}
		log.Debugw("block store gc done", "rewritten", n, "took", clk.Since(start))
	}
}
