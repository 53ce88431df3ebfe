package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorShutdown(t *testing.T) {
	signalCh := make(chan struct{})

	var (
		lk    sync.Mutex
		order []string
	)
	handler := func(name string) ShutdownHandler {
		return ShutdownHandler{
			Component: name,
			StopFunc: func(_ context.Context) error {
				lk.Lock()
				defer lk.Unlock()
				order = append(order, name)
				return nil
			},
		}
	}

	finishCh := MonitorShutdown(signalCh, handler("swarm"), handler("repo"), handler("metrics"))

	// Nothing here after 10ms.
	time.Sleep(10 * time.Millisecond)
	require.Len(t, finishCh, 0)

	// Now trigger the shutdown.
	close(signalCh)
	<-finishCh

	require.Equal(t, []string{"swarm", "repo", "metrics"}, order)
}
