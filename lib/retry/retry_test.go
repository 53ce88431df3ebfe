package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

var fastPolicy = Policy{Attempts: 4, Min: time.Millisecond, Max: 4 * time.Millisecond}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastPolicy, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("down")
	})
	require.EqualError(t, err, "down")
	require.Equal(t, 4, calls)
}

func TestRetryPermanent(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, xerrors.Errorf("bad address: %w", ErrPermanent)
	})
	require.ErrorIs(t, err, ErrPermanent)
	require.Equal(t, 1, calls)
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, Policy{Attempts: 3, Min: time.Hour, Max: time.Hour}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
}
