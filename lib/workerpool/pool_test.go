package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolBoundsParallelism(t *testing.T) {
	p := New(2)
	defer p.Close()

	var running, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.True(t, p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n := atomic.AddInt64(&running, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
		}))
	}
	wg.Wait()
	require.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestPoolClose(t *testing.T) {
	p := New(1)

	started := make(chan struct{})
	require.True(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	ran := make(chan struct{}, 1)
	require.True(t, p.Submit(func(ctx context.Context) {
		ran <- struct{}{}
	}))

	p.Close()
	require.False(t, p.Submit(func(ctx context.Context) {}))
	require.Len(t, ran, 0)
}
