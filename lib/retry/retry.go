package retry

import (
	"context"
	"errors"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
)

var log = logging.Logger("retry")

// ErrPermanent marks an error that must not be retried. Wrap it with %w.
var ErrPermanent = errors.New("permanent error")

// Policy describes a capped exponential backoff.
type Policy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

func (p Policy) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: 2,
		Jitter: true,
	}
}

// Retry calls f until it succeeds, returns an ErrPermanent error, the
// attempts are exhausted or ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, p Policy, f func(ctx context.Context) (T, error)) (result T, err error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := p.backoff()

	for i := 0; i < attempts; i++ {
		if i > 0 {
			d := b.Duration()
			log.Debugw("retrying after error", "attempt", i+1, "backoff", d, "error", err)
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return result, ctx.Err()
			case <-t.C:
			}
		}
		result, err = f(ctx)
		if err == nil || errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			return result, err
		}
	}
	log.Debugf("failed after %d attempts, last error: %s", attempts, err)
	return result, err
}
