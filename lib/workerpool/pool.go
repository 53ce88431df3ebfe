// Package workerpool runs CPU bound tasks with bounded parallelism.
//
// Submission never blocks the caller: tasks wait for a slot on their own
// goroutine, so an event loop can hand work off without stalling.
package workerpool

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/semaphore"
)

var log = logging.Logger("workerpool")

// Pool bounds the number of concurrently running tasks.
type Pool struct {
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool running at most size tasks at once.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules task. The context passed to the task is cancelled when the
// pool is closed. Submit returns false if the pool is already closed.
func (p *Pool) Submit(task func(ctx context.Context)) bool {
	if p.ctx.Err() != nil {
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			log.Debugw("dropping task, pool closed", "error", err)
			return
		}
		defer p.sem.Release(1)

		task(p.ctx)
	}()
	return true
}

// Close cancels queued and running tasks and waits for them to return.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}
